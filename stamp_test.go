package stamp

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/k1LoW/stamp/config"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

// fixtures writes an 800x600 blue base and a 400x100 red logo into a temp dir.
func fixtures(t *testing.T) (dir, base, logo string) {
	t.Helper()
	dir = t.TempDir()
	base = filepath.Join(dir, "base.png")
	logo = filepath.Join(dir, "logo.png")
	writePNG(t, base, solid(800, 600, blue))
	writePNG(t, logo, solid(400, 100, red))
	return dir, base, logo
}

func newStamp(t *testing.T, opts ...Option) *Stamp {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestApply(t *testing.T) {
	dir, base, logo := fixtures(t)
	out := filepath.Join(dir, "out.png")
	s := newStamp(t, WithPlacement(Placement{Scale: 0.25, X: 0.5, Y: 0.9}))

	r, err := s.Apply(context.Background(), base, logo, out)
	if err != nil {
		t.Fatal(err)
	}
	want := &Result{
		Status:    StatusSucceeded,
		Base:      base,
		Logo:      logo,
		Output:    out,
		Format:    FormatPNG,
		Placement: Placement{Scale: 0.25, X: 0.5, Y: 0.9},
		Geometry:  Geometry{BaseWidth: 800, BaseHeight: 600, LogoWidth: 200, LogoHeight: 50, X: 300, Y: 515},
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, name, err := image.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if name != "png" {
		t.Errorf("output format = %s, want png", name)
	}
	if got := img.Bounds().Size(); got != image.Pt(800, 600) {
		t.Errorf("output size = %v, want 800x600", got)
	}
	if got := color.NRGBAModel.Convert(img.At(400, 540)).(color.NRGBA); got != red {
		t.Errorf("pixel at (400, 540) = %v, want %v", got, red)
	}
	if got := color.NRGBAModel.Convert(img.At(10, 10)).(color.NRGBA); got != blue {
		t.Errorf("pixel at (10, 10) = %v, want %v", got, blue)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d files in output dir, want 3 (base, logo, output)", len(entries))
	}
}

func TestApplyDefaults(t *testing.T) {
	dir, base, logo := fixtures(t)
	r, err := newStamp(t).Apply(context.Background(), base, logo, filepath.Join(dir, "out.png"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(DefaultPlacement(), r.Placement); diff != "" {
		t.Errorf("placement mismatch (-want +got):\n%s", diff)
	}
	if r.Geometry.LogoWidth != 160 || r.Geometry.LogoHeight != 40 {
		t.Errorf("logo size = %dx%d, want 160x40", r.Geometry.LogoWidth, r.Geometry.LogoHeight)
	}
}

func TestApplyIsReproducible(t *testing.T) {
	dir, base, logo := fixtures(t)
	s := newStamp(t)
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	if _, err := s.Apply(context.Background(), base, logo, a); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Apply(context.Background(), base, logo, b); err != nil {
		t.Fatal(err)
	}
	ab, err := os.ReadFile(a)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ab, bb) {
		t.Error("outputs of identical runs differ")
	}
}

func TestApplyErrors(t *testing.T) {
	dir, base, logo := fixtures(t)
	notImage := filepath.Join(dir, "not-image.png")
	if err := os.WriteFile(notImage, []byte("not an image"), 0o600); err != nil {
		t.Fatal(err)
	}
	thin := filepath.Join(dir, "thin.png")
	writePNG(t, thin, solid(1000, 1, red))
	missing := filepath.Join(dir, "missing.png")

	tests := []struct {
		name     string
		opts     []Option
		base     string
		logo     string
		output   string
		want     error
		wantPath string
	}{
		{
			name:     "missing base",
			base:     missing,
			logo:     logo,
			output:   filepath.Join(dir, "out1.png"),
			want:     ErrMissingInput,
			wantPath: missing,
		},
		{
			name:     "missing logo",
			base:     base,
			logo:     missing,
			output:   filepath.Join(dir, "out2.png"),
			want:     ErrMissingInput,
			wantPath: missing,
		},
		{
			name:     "both missing reports base",
			base:     missing,
			logo:     filepath.Join(dir, "missing-logo.png"),
			output:   filepath.Join(dir, "out3.png"),
			want:     ErrMissingInput,
			wantPath: missing,
		},
		{
			name:     "undecodable base",
			base:     notImage,
			logo:     logo,
			output:   filepath.Join(dir, "out4.png"),
			want:     ErrDecode,
			wantPath: notImage,
		},
		{
			name:     "directory as input",
			base:     dir,
			logo:     logo,
			output:   filepath.Join(dir, "out5.png"),
			want:     ErrDecode,
			wantPath: dir,
		},
		{
			name:     "logo resized to nothing",
			opts:     []Option{WithScale(0.05)},
			base:     base,
			logo:     thin,
			output:   filepath.Join(dir, "out6.png"),
			want:     ErrTransform,
			wantPath: base,
		},
		{
			name:     "missing output directory",
			base:     base,
			logo:     logo,
			output:   filepath.Join(dir, "no", "such", "dir", "out7.png"),
			want:     ErrWrite,
			wantPath: filepath.Join(dir, "no", "such", "dir", "out7.png"),
		},
		{
			name:   "empty output path",
			base:   base,
			logo:   logo,
			output: "",
			want:   ErrInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStamp(t, tt.opts...)
			r, err := s.Apply(context.Background(), tt.base, tt.logo, tt.output)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
			var e *Error
			if !errors.As(err, &e) {
				t.Fatalf("Apply() error %T is not *Error", err)
			}
			if e.Path != tt.wantPath {
				t.Errorf("error path = %q, want %q", e.Path, tt.wantPath)
			}
			if tt.wantPath != "" && !strings.Contains(err.Error(), tt.wantPath) {
				t.Errorf("error %q does not name %s", err, tt.wantPath)
			}
			if r == nil || r.Status != StatusFailed || r.Err != e || r.OK() {
				t.Errorf("Apply() result = %+v, want a failed result carrying the error", r)
			}
			if tt.output != "" {
				if _, err := os.Stat(tt.output); !os.IsNotExist(err) {
					t.Errorf("output %s exists after a failure", tt.output)
				}
			}
		})
	}
}

func TestNewInvalidPlacement(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"NaN scale", []Option{WithScale(math.NaN())}},
		{"zero scale", []Option{WithScale(0)}},
		{"infinite y", []Option{WithY(math.Inf(-1))}},
		{"unknown filter", []Option{WithFilter("bicubic")}},
		{"lossy format", []Option{WithFormat("jpeg")}},
		{"unknown compression", []Option{WithCompression("max")}},
		{"bad condition", []Option{WithConfig(&config.Config{Defaults: []config.DefaultCondition{{If: "base.width <"}}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("New() error = %v, want %v", err, ErrInvalidArgument)
			}
		})
	}
}

func TestApplyOutputFormats(t *testing.T) {
	tests := []struct {
		output string
		opts   []Option
		want   Format
	}{
		{"out.png", nil, FormatPNG},
		{"out.tiff", nil, FormatTIFF},
		{"out.tif", nil, FormatTIFF},
		{"out.bmp", nil, FormatBMP},
		{"out.jpg", nil, FormatPNG},
		{"out", nil, FormatPNG},
		{"forced.png", []Option{WithFormat("tiff")}, FormatTIFF},
		{"best.png", []Option{WithCompression("best")}, FormatPNG},
	}
	dir, base, logo := fixtures(t)
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			out := filepath.Join(dir, tt.output)
			r, err := newStamp(t, tt.opts...).Apply(context.Background(), base, logo, out)
			if err != nil {
				t.Fatal(err)
			}
			if r.Format != tt.want {
				t.Errorf("result format = %s, want %s", r.Format, tt.want)
			}
			b, err := os.ReadFile(out)
			if err != nil {
				t.Fatal(err)
			}
			cfg, name, err := image.DecodeConfig(bytes.NewReader(b))
			if err != nil {
				t.Fatal(err)
			}
			if Format(name) != tt.want {
				t.Errorf("written format = %s, want %s", name, tt.want)
			}
			if cfg.Width != 800 || cfg.Height != 600 {
				t.Errorf("written size = %dx%d, want 800x600", cfg.Width, cfg.Height)
			}
		})
	}
}

func TestApplyJPEGBase(t *testing.T) {
	dir, _, logo := fixtures(t)
	base := filepath.Join(dir, "photo.jpg")
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(640, 480, blue), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := newStamp(t).Apply(context.Background(), base, logo, filepath.Join(dir, "photo.jpg.png"))
	if err != nil {
		t.Fatal(err)
	}
	if r.Geometry.BaseWidth != 640 || r.Geometry.BaseHeight != 480 {
		t.Errorf("base size = %dx%d, want 640x480", r.Geometry.BaseWidth, r.Geometry.BaseHeight)
	}
}

func TestApplySkipUnchanged(t *testing.T) {
	dir, base, logo := fixtures(t)
	out := filepath.Join(dir, "out.png")
	if _, err := newStamp(t).Apply(context.Background(), base, logo, out); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(out, old, old); err != nil {
		t.Fatal(err)
	}

	r, err := newStamp(t, WithSkipUnchanged(true)).Apply(context.Background(), base, logo, out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusUnchanged || !r.OK() {
		t.Errorf("status = %s, want %s", r.Status, StatusUnchanged)
	}
	fi, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(old) {
		t.Errorf("mod time = %v, want %v", fi.ModTime(), old)
	}

	// Same pixels in another encoding still count as unchanged.
	bmpOut := filepath.Join(dir, "out.bmp")
	if _, err := newStamp(t).Apply(context.Background(), base, logo, bmpOut); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(bmpOut, out); err != nil {
		t.Fatal(err)
	}
	r, err = newStamp(t, WithSkipUnchanged(true)).Apply(context.Background(), base, logo, out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusUnchanged {
		t.Errorf("status = %s, want %s", r.Status, StatusUnchanged)
	}

	r, err = newStamp(t, WithSkipUnchanged(true), WithScale(0.5)).Apply(context.Background(), base, logo, out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusSucceeded {
		t.Errorf("status = %s, want %s", r.Status, StatusSucceeded)
	}
}

func TestApplyURL(t *testing.T) {
	var baseBuf, logoBuf bytes.Buffer
	if err := png.Encode(&baseBuf, solid(800, 600, blue)); err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(&logoBuf, solid(400, 100, red)); err != nil {
		t.Fatal(err)
	}
	var gotUA atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/base.png":
			gotUA.Store(r.Header.Get("User-Agent"))
			_, _ = w.Write(baseBuf.Bytes())
		case "/logo.png":
			_, _ = w.Write(logoBuf.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	s := newStamp(t, WithPlacement(Placement{Scale: 0.25, X: 0.5, Y: 0.9}), WithHTTPClient(ts.Client()))

	t.Run("found", func(t *testing.T) {
		r, err := s.Apply(context.Background(), ts.URL+"/base.png", ts.URL+"/logo.png", filepath.Join(dir, "out.png"))
		if err != nil {
			t.Fatal(err)
		}
		if r.Geometry.X != 300 || r.Geometry.Y != 515 {
			t.Errorf("logo offset = (%d, %d), want (300, 515)", r.Geometry.X, r.Geometry.Y)
		}
		if ua, _ := gotUA.Load().(string); !strings.HasPrefix(ua, "k1LoW-stamp/") {
			t.Errorf("User-Agent = %q", ua)
		}
	})

	t.Run("not found", func(t *testing.T) {
		missing := ts.URL + "/missing.png"
		out := filepath.Join(dir, "missing.png")
		_, err := s.Apply(context.Background(), missing, ts.URL+"/logo.png", out)
		if !errors.Is(err, ErrMissingInput) {
			t.Fatalf("Apply() error = %v, want %v", err, ErrMissingInput)
		}
		if !strings.Contains(err.Error(), missing) {
			t.Errorf("error %q does not name %s", err, missing)
		}
		if _, err := os.Stat(out); !os.IsNotExist(err) {
			t.Error("output exists after a failure")
		}
	})
}

func TestApplyConditions(t *testing.T) {
	dir, base, logo := fixtures(t)
	cfg := &config.Config{
		Scale: ptr(0.1),
		Defaults: []config.DefaultCondition{
			{If: "base.width < 1000", Scale: ptr(0.5)},
			{If: `logo.format == "png" && base.height > base.width`, Y: ptr(0.1)},
			{If: `output.endsWith(".tiff")`, X: ptr(0.0), Filter: "nearest"},
		},
	}
	tests := []struct {
		name   string
		opts   []Option
		output string
		want   Placement
	}{
		{"matching condition overrides config", nil, "a.png", Placement{Scale: 0.5, X: 0.5, Y: 0.5}},
		{"conditions apply in order", nil, "b.tiff", Placement{Scale: 0.5, X: 0, Y: 0.5}},
		{"explicit options override conditions", []Option{WithScale(0.3)}, "c.png", Placement{Scale: 0.3, X: 0.5, Y: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithConfig(cfg)}, tt.opts...)
			r, err := newStamp(t, opts...).Apply(context.Background(), base, logo, filepath.Join(dir, tt.output))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, r.Placement); diff != "" {
				t.Errorf("placement mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyConditionRuntimeError(t *testing.T) {
	dir, base, logo := fixtures(t)
	cfg := &config.Config{
		Defaults: []config.DefaultCondition{{If: "base.width", Scale: ptr(0.5)}},
	}
	_, err := newStamp(t, WithConfig(cfg)).Apply(context.Background(), base, logo, filepath.Join(dir, "out.png"))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Apply() error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestApplyPostCommand(t *testing.T) {
	if _, err := DetectShell(); err != nil {
		t.Skip(err)
	}
	dir, base, logo := fixtures(t)
	t.Setenv("STAMP_TEST_DIR", dir)

	t.Run("success", func(t *testing.T) {
		out := filepath.Join(dir, "out.png")
		cmd := `cp "$STAMP_OUTPUT" "{{env.STAMP_TEST_DIR}}/copy.{{format}}" && test "{{base.width}}x{{logo.height}}" = "800x100"`
		if _, err := newStamp(t, WithPostCommand(cmd)).Apply(context.Background(), base, logo, out); err != nil {
			t.Fatal(err)
		}
		a, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(dir, "copy.png"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Error("post command did not see the written output")
		}
	})

	t.Run("failure", func(t *testing.T) {
		out := filepath.Join(dir, "fail.png")
		r, err := newStamp(t, WithPostCommand("echo broken >&2; exit 3")).Apply(context.Background(), base, logo, out)
		if !errors.Is(err, ErrPostProcess) {
			t.Fatalf("Apply() error = %v, want %v", err, ErrPostProcess)
		}
		if !strings.Contains(err.Error(), "broken") {
			t.Errorf("error %q does not carry stderr", err)
		}
		if r.Status != StatusFailed {
			t.Errorf("status = %s, want %s", r.Status, StatusFailed)
		}
		if _, err := os.Stat(out); err != nil {
			t.Errorf("output should stay in place: %v", err)
		}
	})
}

func TestApplyLogs(t *testing.T) {
	dir, base, logo := fixtures(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := newStamp(t, WithLogger(logger))

	if _, err := s.Apply(context.Background(), base, logo, filepath.Join(dir, "out.png")); err != nil {
		t.Fatal(err)
	}
	_, _ = s.Apply(context.Background(), filepath.Join(dir, "missing.png"), logo, filepath.Join(dir, "out2.png"))

	logs := buf.String()
	for _, msg := range []string{`"msg":"processing"`, `"msg":"saved"`, `"msg":"failed to process"`} {
		if !strings.Contains(logs, msg) {
			t.Errorf("logs do not contain %s:\n%s", msg, logs)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
