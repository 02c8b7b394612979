package stamp

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/k1LoW/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format is an image format name as reported by image.DecodeConfig.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// InputFormats are the formats that can be decoded.
var InputFormats = []Format{FormatPNG, FormatJPEG, FormatGIF, FormatWebP, FormatBMP, FormatTIFF}

// OutputFormats are the formats that can be written. All of them are lossless.
var OutputFormats = []Format{FormatPNG, FormatTIFF, FormatBMP}

func (f Format) lossless() bool {
	for _, o := range OutputFormats {
		if o == f {
			return true
		}
	}
	return false
}

// ParseFormat returns the output format for name. An empty name returns an empty Format.
func ParseFormat(name string) (Format, error) {
	if name == "" {
		return "", nil
	}
	switch strings.ToLower(name) {
	case "png":
		return FormatPNG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	}
	return "", fmt.Errorf("unsupported output format %q (supported: png, tiff, bmp)", name)
}

// FormatFromPath picks the output format from the file extension. Any extension that is not a lossless
// output format gets PNG.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil || f == "" {
		return FormatPNG
	}
	return f
}

var compressionLevels = map[string]png.CompressionLevel{
	"default": png.DefaultCompression,
	"none":    png.NoCompression,
	"speed":   png.BestSpeed,
	"best":    png.BestCompression,
}

// ParseCompression returns the PNG compression level for name. An empty name means "default".
func ParseCompression(name string) (png.CompressionLevel, error) {
	if name == "" {
		return png.DefaultCompression, nil
	}
	c, ok := compressionLevels[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown compression %q (supported: default, none, speed, best)", name)
	}
	return c, nil
}

func encode(img image.Image, f Format, c png.CompressionLevel) ([]byte, error) {
	if !f.lossless() {
		return nil, fmt.Errorf("unsupported output format %q", f)
	}
	var buf bytes.Buffer
	switch f {
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(c)); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case FormatTIFF:
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
			return nil, fmt.Errorf("failed to encode tiff: %w", err)
		}
	case FormatBMP:
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode bmp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", f)
	}
	return buf.Bytes(), nil
}

// writeFileAtomic writes data to a temp file next to path and renames it into place,
// so readers never see a partially written image.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
				err = errors.Join(err, rmErr)
			}
		}
	}()
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
