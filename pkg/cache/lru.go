package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is an in-process, size-bounded cache with per-entry TTL.
//
// The underlying expirable LRU is internally synchronized, so a Set or Evict
// on one goroutine is visible to a Get issued afterwards on any other.
type LRUCache struct {
	cache  *lru.LRU[string, []byte]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRUCache creates a cache holding at most size entries for ttl each.
// A zero ttl disables expiry.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size < 1 {
		size = 1
	}
	return &LRUCache{
		cache: lru.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Get returns the cached value and counts the hit or miss
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrInvalidKey
	}
	v, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	return v, true, nil
}

// Set stores value under key
func (c *LRUCache) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	c.cache.Add(key, value)
	return nil
}

// Evict removes key
func (c *LRUCache) Evict(_ context.Context, key string) error {
	c.cache.Remove(key)
	return nil
}

// EvictPrefix walks the current key set. Keys added concurrently with a
// matching prefix after the walk started are not guaranteed to be removed;
// callers evict after their store write has committed, so such a key was
// loaded from post-write state.
func (c *LRUCache) EvictPrefix(_ context.Context, prefix string) error {
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries
func (c *LRUCache) Len() int {
	return c.cache.Len()
}

// Stats returns hit and miss counts
func (c *LRUCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge removes everything
func (c *LRUCache) Purge() {
	c.cache.Purge()
}
