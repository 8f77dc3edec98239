package features

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedReader wraps a Reader with a ristretto read-through cache. Records
// returned from the cache are shared and must be treated as read-only.
type CachedReader struct {
	inner Reader
	cache *ristretto.Cache
}

var _ Reader = (*CachedReader)(nil)

// NewCachedReader caches up to size records from inner.
func NewCachedReader(inner Reader, size int64) (*CachedReader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10 * size,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true, // cost counts records, not bytes
	})
	if err != nil {
		return nil, fmt.Errorf("create feature cache: %w", err)
	}
	return &CachedReader{inner: inner, cache: cache}, nil
}

// Lookup returns the cached record or loads it from the wrapped reader.
func (c *CachedReader) Lookup(key string) (*Record, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(*Record), nil
	}
	rec, err := c.inner.Lookup(key)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, rec, 1)
	return rec, nil
}

// Dims returns the wrapped reader's dims.
func (c *CachedReader) Dims() Dims {
	return c.inner.Dims()
}

// Wait blocks until buffered cache writes are applied.
func (c *CachedReader) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *CachedReader) Close() {
	c.cache.Close()
}
