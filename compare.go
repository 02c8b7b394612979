package stamp

import (
	"context"

	"github.com/k1LoW/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the perceptual hash distance from which two images are considered different.
const DefaultThreshold = 5

// Comparison is the result of comparing two images.
type Comparison struct {
	A string `json:"a"`
	B string `json:"b"`
	// Distance is the perceptual hash distance. 0 means perceptually identical.
	Distance int `json:"distance"`
	// Equivalent is true when both images hold exactly the same pixels.
	Equivalent bool `json:"equivalent"`
}

// Similar reports whether the distance is below threshold.
func (c *Comparison) Similar(threshold int) bool {
	return c.Distance < threshold
}

// Compare loads two images, from paths or URLs, and compares them.
func Compare(ctx context.Context, a, b string) (_ *Comparison, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	var ia, ib *Image
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		ia, err = NewImage(ctx, a)
		return err
	})
	eg.Go(func() error {
		var err error
		ib, err = NewImage(ctx, b)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	d, err := ia.Distance(ib)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		A:          a,
		B:          b,
		Distance:   d,
		Equivalent: ia.Equivalent(ib),
	}, nil
}
