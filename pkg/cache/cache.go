package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidKey is returned for empty keys
var ErrInvalidKey = errors.New("invalid cache key")

// Cache is an explicit byte-oriented cache. Keys are flat strings; callers
// build hierarchical keys with Key so that EvictPrefix can drop a whole
// projection (for example every membership of one user in one tenant).
type Cache interface {
	// Get returns the value and true on a hit, false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Evict removes key. Evicting a missing key is not an error.
	Evict(ctx context.Context, key string) error
	// EvictPrefix removes every key beginning with prefix.
	EvictPrefix(ctx context.Context, prefix string) error
}

// Key joins parts with ':' into a cache key
func Key(parts ...interface{}) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += fmt.Sprint(p)
	}
	return key
}

// Typed wraps a Cache with a JSON codec and a fixed namespace
type Typed[V any] struct {
	cache     Cache
	namespace string
}

// NewTyped creates a typed view over c. Every key is prefixed by namespace.
func NewTyped[V any](c Cache, namespace string) *Typed[V] {
	return &Typed[V]{cache: c, namespace: namespace}
}

// Namespace returns the key prefix of this view
func (t *Typed[V]) Namespace() string {
	return t.namespace
}

func (t *Typed[V]) key(key string) string {
	return t.namespace + ":" + key
}

// Get decodes the cached value. A payload that fails to decode is evicted and
// reported as a miss.
func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, ok, err := t.cache.Get(ctx, t.key(key))
	if err != nil || !ok {
		return zero, false, err
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		_ = t.cache.Evict(ctx, t.key(key))
		return zero, false, nil
	}
	return v, true, nil
}

// Set encodes and stores v
func (t *Typed[V]) Set(ctx context.Context, key string, v V) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return t.cache.Set(ctx, t.key(key), data)
}

// Evict removes a single key
func (t *Typed[V]) Evict(ctx context.Context, key string) error {
	return t.cache.Evict(ctx, t.key(key))
}

// EvictPrefix removes every key of this namespace beginning with prefix
func (t *Typed[V]) EvictPrefix(ctx context.Context, prefix string) error {
	return t.cache.EvictPrefix(ctx, t.key(prefix))
}

// EvictAll removes the whole namespace
func (t *Typed[V]) EvictAll(ctx context.Context) error {
	return t.cache.EvictPrefix(ctx, t.namespace+":")
}

// Noop is a cache that never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte) error         { return nil }
func (Noop) Evict(context.Context, string) error               { return nil }
func (Noop) EvictPrefix(context.Context, string) error         { return nil }
