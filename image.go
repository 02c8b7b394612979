package stamp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// Image is a decoded input image together with the bytes it was decoded from.
type Image struct {
	i        image.Image
	b        []byte // Raw image data
	format   Format
	src      string    // path or URL the image was loaded from
	modTime  time.Time // Modification time of the image file, if applicable
	checksum uint32

	mu    sync.Mutex
	pHash *goimagehash.ImageHash
}

// NewImage loads and decodes an image from a local path or an http(s) URL.
func NewImage(ctx context.Context, pathOrURL string) (*Image, error) {
	return loadImage(ctx, newHTTPClient(nil), nil, pathOrURL, true)
}

// NewImageFromBytes decodes an in-memory image.
func NewImageFromBytes(b []byte) (*Image, error) {
	i, err := newImageFromBuffer(bytes.NewReader(b), true)
	if err != nil {
		return nil, newError(KindDecode, "", err)
	}
	return i, nil
}

// IsURL reports whether pathOrURL is an http(s) URL rather than a local path.
func IsURL(pathOrURL string) bool {
	return strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://")
}

// loadImage returns an *Error of kind KindMissingInput or KindDecode on failure.
// Decoded images are kept in c only when c is not nil.
func loadImage(ctx context.Context, client *http.Client, c *imageCache, pathOrURL string, autoOrient bool) (*Image, error) {
	key := cacheKey(pathOrURL, autoOrient)
	var r io.Reader
	var modTime time.Time
	if IsURL(pathOrURL) {
		if i, ok := c.load(key); ok {
			return i, nil
		}
		b, err := fetch(ctx, client, pathOrURL)
		if err != nil {
			return nil, newError(KindMissingInput, pathOrURL, err)
		}
		r = bytes.NewReader(b)
	} else {
		fi, err := os.Stat(pathOrURL)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, newError(KindMissingInput, pathOrURL, errors.New("file not found"))
			}
			return nil, newError(KindDecode, pathOrURL, err)
		}
		if fi.IsDir() {
			return nil, newError(KindDecode, pathOrURL, errors.New("is a directory"))
		}
		modTime = fi.ModTime()
		if i, ok := c.load(key); ok && modTime.Equal(i.modTime) {
			return i, nil
		}
		f, err := os.Open(pathOrURL)
		if err != nil {
			return nil, newError(KindDecode, pathOrURL, err)
		}
		defer f.Close()
		r = f
	}
	i, err := newImageFromBuffer(r, autoOrient)
	if err != nil {
		return nil, newError(KindDecode, pathOrURL, err)
	}
	i.src = pathOrURL
	i.modTime = modTime
	c.store(key, i)
	return i, nil
}

func fetch(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status code %d", res.StatusCode)
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return b, nil
}

func newImageFromBuffer(r io.Reader, autoOrient bool) (*Image, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	_, name, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(autoOrient))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", name, err)
	}
	return &Image{
		i:      img,
		b:      b,
		format: Format(name),
	}, nil
}

func (i *Image) Image() image.Image {
	return i.i
}

func (i *Image) Bytes() []byte {
	if i == nil {
		return nil
	}
	return i.b
}

// Format is the format the image was decoded from, such as "png" or "jpeg".
func (i *Image) Format() Format {
	return i.format
}

// Source is the path or URL the image was loaded from.
func (i *Image) Source() string {
	return i.src
}

func (i *Image) Width() int {
	return i.i.Bounds().Dx()
}

func (i *Image) Height() int {
	return i.i.Bounds().Dy()
}

func (i *Image) Checksum() uint32 {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.checksum == 0 {
		i.checksum = crc32.ChecksumIEEE(i.b)
	}
	return i.checksum
}

func (i *Image) PHash() (*goimagehash.ImageHash, error) {
	if i == nil {
		return nil, errors.New("image is nil")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pHash == nil {
		pHash, err := goimagehash.PerceptionHash(i.i)
		if err != nil {
			return nil, fmt.Errorf("failed to compute perceptual hash: %w", err)
		}
		i.pHash = pHash
	}
	return i.pHash, nil
}

// Distance returns the perceptual hash distance between two images. 0 means perceptually identical.
func (i *Image) Distance(ii *Image) (int, error) {
	aHash, err := i.PHash()
	if err != nil {
		return 0, err
	}
	bHash, err := ii.PHash()
	if err != nil {
		return 0, err
	}
	return aHash.Distance(bHash)
}

// Equivalent reports whether both images hold the same pixels, even if they were encoded differently.
func (i *Image) Equivalent(ii *Image) bool {
	if i == nil || ii == nil {
		return false
	}
	if i.Checksum() == ii.Checksum() && bytes.Equal(i.b, ii.b) {
		return true
	}
	return samePixels(i.i, ii.i)
}

func samePixels(a, b image.Image) bool {
	if a.Bounds().Size() != b.Bounds().Size() {
		return false
	}
	na := imaging.Clone(a)
	nb := imaging.Clone(b)
	return bytes.Equal(na.Pix, nb.Pix)
}
