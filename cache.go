package stamp

import (
	"strconv"
	"sync"
)

// imageCache keeps decoded inputs between Apply calls of one Stamp.
// A nil *imageCache caches nothing.
type imageCache struct {
	m sync.Map
}

func newImageCache() *imageCache {
	return &imageCache{}
}

// cacheKey separates decodes of the same source with and without EXIF orientation applied.
func cacheKey(pathOrURL string, autoOrient bool) string {
	return pathOrURL + "#orient=" + strconv.FormatBool(autoOrient)
}

func (c *imageCache) load(key string) (*Image, bool) {
	if c == nil {
		return nil, false
	}
	if v, ok := c.m.Load(key); ok {
		if i, ok := v.(*Image); ok {
			return i, true
		}
	}
	return nil, false
}

func (c *imageCache) store(key string, i *Image) {
	if c == nil || i == nil {
		return
	}
	c.m.Store(key, i)
}

func (c *imageCache) clear() {
	if c == nil {
		return
	}
	c.m.Clear()
}

func (c *imageCache) len() int {
	if c == nil {
		return 0
	}
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
