package stamp

import (
	"fmt"
	"image"
	"math"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	DefaultScale = 0.2
	DefaultX     = 0.5
	DefaultY     = 0.5

	// maxLogoSide bounds the resized logo so a huge scale fails instead of exhausting memory.
	maxLogoSide = 1 << 15
)

// Placement says how large the logo is and where its centre lands.
type Placement struct {
	// Scale is the logo width as a fraction of the base width. Must be > 0.
	Scale float64 `json:"scale" yaml:"scale"`
	// X is the horizontal anchor of the logo centre as a fraction of the base width.
	X float64 `json:"x" yaml:"x"`
	// Y is the vertical anchor of the logo centre as a fraction of the base height.
	Y float64 `json:"y" yaml:"y"`
}

// DefaultPlacement returns a logo at 20% of the base width, centred.
func DefaultPlacement() Placement {
	return Placement{
		Scale: DefaultScale,
		X:     DefaultX,
		Y:     DefaultY,
	}
}

// Validate checks the placement. Anchors outside [0, 1] are allowed and put the logo partly or fully off canvas.
func (p Placement) Validate() error {
	if math.IsNaN(p.Scale) || math.IsInf(p.Scale, 0) || p.Scale <= 0 {
		return newError(KindInvalidArgument, "", fmt.Errorf("scale must be a positive number, got %v", p.Scale))
	}
	if math.IsNaN(p.X) || math.IsInf(p.X, 0) {
		return newError(KindInvalidArgument, "", fmt.Errorf("x must be a finite number, got %v", p.X))
	}
	if math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		return newError(KindInvalidArgument, "", fmt.Errorf("y must be a finite number, got %v", p.Y))
	}
	return nil
}

func (p Placement) String() string {
	return fmt.Sprintf("scale=%g x=%g y=%g", p.Scale, p.X, p.Y)
}

// Geometry is the computed layout of the resized logo on the base.
type Geometry struct {
	BaseWidth  int `json:"base_width"`
	BaseHeight int `json:"base_height"`
	LogoWidth  int `json:"logo_width"`
	LogoHeight int `json:"logo_height"`
	X          int `json:"x"`
	Y          int `json:"y"`
}

// Rect returns where the resized logo goes, in base coordinates. It may extend past the canvas.
func (g Geometry) Rect() image.Rectangle {
	return image.Rect(g.X, g.Y, g.X+g.LogoWidth, g.Y+g.LogoHeight)
}

// Visible returns the part of the logo that lands on the canvas. It is empty when the logo is fully off canvas.
func (g Geometry) Visible() image.Rectangle {
	return g.Rect().Intersect(image.Rect(0, 0, g.BaseWidth, g.BaseHeight))
}

// Layout computes the resized logo size and its offset.
//
//	logoWidth  = floor(baseWidth * scale)
//	logoHeight = floor(logoWidth * srcHeight / srcWidth)
//	x          = floor(baseWidth * p.X - logoWidth / 2)
//	y          = floor(baseHeight * p.Y - logoHeight / 2)
func Layout(baseWidth, baseHeight, srcWidth, srcHeight int, p Placement) (Geometry, error) {
	if err := p.Validate(); err != nil {
		return Geometry{}, err
	}
	if baseWidth <= 0 || baseHeight <= 0 {
		return Geometry{}, newError(KindTransform, "", fmt.Errorf("base image is empty (%dx%d)", baseWidth, baseHeight))
	}
	if srcWidth <= 0 || srcHeight <= 0 {
		return Geometry{}, newError(KindTransform, "", fmt.Errorf("logo image is empty (%dx%d)", srcWidth, srcHeight))
	}
	w := math.Floor(float64(baseWidth) * p.Scale)
	h := math.Floor(w * float64(srcHeight) / float64(srcWidth))
	if w < 1 || h < 1 {
		return Geometry{}, newError(KindTransform, "", fmt.Errorf("logo would be resized to %vx%v", w, h))
	}
	if w > maxLogoSide || h > maxLogoSide {
		return Geometry{}, newError(KindTransform, "", fmt.Errorf("logo would be resized to %vx%v, larger than %d", w, h, maxLogoSide))
	}
	g := Geometry{
		BaseWidth:  baseWidth,
		BaseHeight: baseHeight,
		LogoWidth:  int(w),
		LogoHeight: int(h),
	}
	g.X = int(math.Floor(float64(baseWidth)*p.X - w/2))
	g.Y = int(math.Floor(float64(baseHeight)*p.Y - h/2))
	return g, nil
}

// Compose copies base into a new buffer and composites the resized logo over it using the logo's alpha.
// The returned image always has the dimensions of base.
func Compose(base, logo image.Image, p Placement, filter imaging.ResampleFilter) (*image.NRGBA, Geometry, error) {
	bb := base.Bounds()
	lb := logo.Bounds()
	g, err := Layout(bb.Dx(), bb.Dy(), lb.Dx(), lb.Dy(), p)
	if err != nil {
		return nil, Geometry{}, err
	}
	canvas := imaging.Clone(base)
	if g.Visible().Empty() {
		return canvas, g, nil
	}
	resized := imaging.Resize(logo, g.LogoWidth, g.LogoHeight, filter)
	out := imaging.Overlay(canvas, resized, image.Pt(g.X, g.Y), 1.0)
	clearTransparent(out, g.Visible())
	return out, g, nil
}

// clearTransparent zeroes the colour of fully transparent pixels in r.
// imaging.Overlay leaves their colour undefined where a transparent logo pixel meets a transparent base pixel.
func clearTransparent(img *image.NRGBA, r image.Rectangle) {
	r = r.Intersect(img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			off := img.PixOffset(x, y)
			if img.Pix[off+3] == 0 {
				img.Pix[off], img.Pix[off+1], img.Pix[off+2] = 0, 0, 0
			}
		}
	}
}

var filters = map[string]imaging.ResampleFilter{
	"lanczos":    imaging.Lanczos,
	"catmullrom": imaging.CatmullRom,
	"linear":     imaging.Linear,
	"box":        imaging.Box,
	"nearest":    imaging.NearestNeighbor,
}

// DefaultFilter is the resampling filter used when none is configured.
const DefaultFilter = "lanczos"

// ParseFilter returns the resampling filter for name. An empty name means DefaultFilter.
func ParseFilter(name string) (imaging.ResampleFilter, error) {
	if name == "" {
		name = DefaultFilter
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return imaging.ResampleFilter{}, fmt.Errorf("unknown filter %q (supported: %s)", name, strings.Join(FilterNames(), ", "))
	}
	return f, nil
}

// FilterNames returns the supported filter names, sorted.
func FilterNames() []string {
	names := make([]string, 0, len(filters))
	for n := range filters {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
