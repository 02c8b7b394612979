// Package stamp overlays a logo onto a base image at a configurable scale and anchor position
// and writes the result as a lossless image.
package stamp

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/k1LoW/errors"
	"github.com/k1LoW/stamp/config"
	"golang.org/x/sync/errgroup"
)

// Stamp composites logos onto base images. It is safe to call Apply from multiple goroutines.
type Stamp struct {
	placement     Placement
	override      override
	filter        string
	format        Format
	compression   png.CompressionLevel
	autoOrient    bool
	skipUnchanged bool
	postCommand   string
	defaults      []config.DefaultCondition
	logger        *slog.Logger
	client        *http.Client
	cache         *imageCache
}

// override holds values set explicitly by the caller. They win over config and conditions.
type override struct {
	scale  *float64
	x      *float64
	y      *float64
	filter string
}

type Option func(*Stamp) error

// WithConfig applies a loaded config file. Options given after it take precedence.
func WithConfig(cfg *config.Config) Option {
	return func(s *Stamp) error {
		if cfg == nil {
			return nil
		}
		if cfg.Scale != nil {
			s.placement.Scale = *cfg.Scale
		}
		if cfg.X != nil {
			s.placement.X = *cfg.X
		}
		if cfg.Y != nil {
			s.placement.Y = *cfg.Y
		}
		if cfg.Filter != "" {
			if _, err := ParseFilter(cfg.Filter); err != nil {
				return err
			}
			s.filter = cfg.Filter
		}
		if cfg.Format != "" {
			f, err := ParseFormat(cfg.Format)
			if err != nil {
				return err
			}
			s.format = f
		}
		if cfg.Compression != "" {
			c, err := ParseCompression(cfg.Compression)
			if err != nil {
				return err
			}
			s.compression = c
		}
		if cfg.AutoOrient != nil {
			s.autoOrient = *cfg.AutoOrient
		}
		if cfg.SkipUnchanged != nil {
			s.skipUnchanged = *cfg.SkipUnchanged
		}
		if cfg.PostCommand != "" {
			s.postCommand = cfg.PostCommand
		}
		for _, d := range cfg.Defaults {
			if err := checkCondition(d); err != nil {
				return err
			}
		}
		s.defaults = append(s.defaults, cfg.Defaults...)
		return nil
	}
}

// WithPlacement fixes scale and both anchors, ignoring config and conditions.
func WithPlacement(p Placement) Option {
	return func(s *Stamp) error {
		s.override.scale = &p.Scale
		s.override.x = &p.X
		s.override.y = &p.Y
		return nil
	}
}

func WithScale(scale float64) Option {
	return func(s *Stamp) error {
		s.override.scale = &scale
		return nil
	}
}

func WithX(x float64) Option {
	return func(s *Stamp) error {
		s.override.x = &x
		return nil
	}
}

func WithY(y float64) Option {
	return func(s *Stamp) error {
		s.override.y = &y
		return nil
	}
}

func WithFilter(name string) Option {
	return func(s *Stamp) error {
		if _, err := ParseFilter(name); err != nil {
			return err
		}
		s.override.filter = name
		return nil
	}
}

func WithFormat(name string) Option {
	return func(s *Stamp) error {
		f, err := ParseFormat(name)
		if err != nil {
			return err
		}
		s.format = f
		return nil
	}
}

func WithCompression(name string) Option {
	return func(s *Stamp) error {
		c, err := ParseCompression(name)
		if err != nil {
			return err
		}
		s.compression = c
		return nil
	}
}

func WithAutoOrient(enable bool) Option {
	return func(s *Stamp) error {
		s.autoOrient = enable
		return nil
	}
}

func WithSkipUnchanged(enable bool) Option {
	return func(s *Stamp) error {
		s.skipUnchanged = enable
		return nil
	}
}

func WithPostCommand(cmd string) Option {
	return func(s *Stamp) error {
		s.postCommand = cmd
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stamp) error {
		s.logger = logger
		return nil
	}
}

// WithCache keeps decoded inputs between Apply calls, reloading a local file only when its mod time changes.
// Without it nothing decoded outlives an Apply call.
func WithCache(enable bool) Option {
	return func(s *Stamp) error {
		if enable {
			s.cache = newImageCache()
		} else {
			s.cache = nil
		}
		return nil
	}
}

// ClearCache drops the images kept by WithCache.
func (s *Stamp) ClearCache() {
	s.cache.clear()
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Stamp) error {
		s.client = client
		return nil
	}
}

// New creates a new Stamp.
func New(opts ...Option) (_ *Stamp, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	s := &Stamp{
		placement:   DefaultPlacement(),
		compression: png.DefaultCompression,
		autoOrient:  true,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, newError(KindInvalidArgument, "", err)
		}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.client == nil {
		s.client = newHTTPClient(s.logger)
	}
	if err := s.explicitPlacement().Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// explicitPlacement is the placement before conditions are evaluated.
func (s *Stamp) explicitPlacement() Placement {
	p := s.placement
	if s.override.scale != nil {
		p.Scale = *s.override.scale
	}
	if s.override.x != nil {
		p.X = *s.override.x
	}
	if s.override.y != nil {
		p.Y = *s.override.y
	}
	return p
}

// Apply overlays the logo at logoPath onto the image at basePath and writes the result to outputPath.
// basePath and logoPath may be local paths or http(s) URLs. The directory of outputPath must exist.
//
// The returned Result is never nil. On failure its Status is StatusFailed and the returned error is
// the *Error also stored in Result.Err. No output file is created unless the image was written.
func (s *Stamp) Apply(ctx context.Context, basePath, logoPath, outputPath string) (_ *Result, err error) {
	r := &Result{
		Base:   basePath,
		Logo:   logoPath,
		Output: outputPath,
	}
	s.logger.Info("processing", slog.String("base", basePath), slog.String("logo", logoPath), slog.String("output", outputPath))
	defer func() {
		if err != nil {
			s.logger.Error("failed to process", slog.String("base", basePath), slog.String("error", err.Error()))
		}
		err = errors.WithStack(err)
	}()

	if outputPath == "" {
		return r.fail(newError(KindInvalidArgument, "", fmt.Errorf("output path is empty")))
	}

	base, logo, lerr := s.load(ctx, basePath, logoPath)
	if lerr != nil {
		return r.fail(lerr)
	}
	s.logger.Debug("decoded inputs",
		slog.String("base_format", string(base.Format())), slog.Int("base_width", base.Width()), slog.Int("base_height", base.Height()),
		slog.String("logo_format", string(logo.Format())), slog.Int("logo_width", logo.Width()), slog.Int("logo_height", logo.Height()))

	format := s.format
	if format == "" {
		format = FormatFromPath(outputPath)
	}
	r.Format = format
	store := conditionStore(base, logo, outputPath, format)

	p, filter, perr := s.resolve(store)
	if perr != nil {
		return r.fail(perr)
	}
	r.Placement = p

	out, g, cerr := Compose(base.Image(), logo.Image(), p, filter)
	if cerr != nil {
		return r.fail(withPath(cerr, basePath))
	}
	r.Geometry = g
	s.logger.Debug("composed", slog.String("placement", p.String()), slog.Any("logo_rect", g.Rect()))

	data, eerr := encode(out, format, s.compression)
	if eerr != nil {
		return r.fail(newError(KindWrite, outputPath, eerr))
	}

	if s.skipUnchanged && unchanged(outputPath, data) {
		r.Status = StatusUnchanged
		s.logger.Info("unchanged", slog.String("output", outputPath))
		return r, nil
	}

	if werr := writeFileAtomic(outputPath, data); werr != nil {
		return r.fail(newError(KindWrite, outputPath, werr))
	}

	if s.postCommand != "" {
		if herr := s.runPostCommand(ctx, store, outputPath, format); herr != nil {
			return r.fail(newError(KindPostProcess, outputPath, herr))
		}
	}

	r.Status = StatusSucceeded
	s.logger.Info("saved", slog.String("output", outputPath), slog.String("format", string(format)))
	return r, nil
}

// load decodes base and logo concurrently. When both fail, the base error is reported.
func (s *Stamp) load(ctx context.Context, basePath, logoPath string) (*Image, *Image, *Error) {
	var (
		base, logo       *Image
		baseErr, logoErr error
		eg               errgroup.Group
	)
	eg.Go(func() error {
		base, baseErr = loadImage(ctx, s.client, s.cache, basePath, s.autoOrient)
		return nil
	})
	eg.Go(func() error {
		logo, logoErr = loadImage(ctx, s.client, s.cache, logoPath, s.autoOrient)
		return nil
	})
	_ = eg.Wait()
	if baseErr != nil {
		return nil, nil, asError(baseErr, basePath)
	}
	if logoErr != nil {
		return nil, nil, asError(logoErr, logoPath)
	}
	return base, logo, nil
}

func asError(err error, path string) *Error {
	if e, ok := err.(*Error); ok { //nolint:errorlint
		return e
	}
	return newError(KindUnknown, path, err)
}

func withPath(err error, path string) *Error {
	e := asError(err, path)
	if e.Path == "" {
		e.Path = path
	}
	return e
}

// unchanged reports whether the file at path already holds data or an image with the same pixels.
func unchanged(path string, data []byte) bool {
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if bytes.Equal(existing, data) {
		return true
	}
	a, err := NewImageFromBytes(existing)
	if err != nil {
		return false
	}
	b, err := NewImageFromBytes(data)
	if err != nil {
		return false
	}
	return a.Equivalent(b)
}
