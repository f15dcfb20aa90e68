package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store is the TTL-keyed backing storage. Implementations treat every
// internal failure as a miss so the engine degrades to fetching fresh
// instead of surfacing storage errors.
type Store interface {
	// Get returns the stored value for the key if present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores the value under the key for the given TTL, replacing
	// any previous entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Cache wraps a Store with single-flight deduplication: concurrent
// callers for the same fingerprint trigger at most one upstream fetch
// and all observe the same result.
type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Get returns the cached value for the fingerprint, if any.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	return c.store.Get(ctx, fingerprint)
}

// Set stores the value for the fingerprint, replacing whatever the
// store holds for it.
func (c *Cache) Set(ctx context.Context, fingerprint string, value []byte, ttl time.Duration) {
	c.store.Set(ctx, fingerprint, value, ttl)
}

type flightResult struct {
	value     []byte
	fromStore bool
}

// GetOrFetch returns the cached value for the fingerprint, or runs
// fetch exactly once to produce it, storing the result with the given
// TTL. While a fetch for the fingerprint is in flight, concurrent
// callers await its result instead of issuing duplicates. The returned
// cached flag reports whether the value was served from the store.
func (c *Cache) GetOrFetch(ctx context.Context, fingerprint string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if value, ok := c.store.Get(ctx, fingerprint); ok {
		return value, true, nil
	}

	result, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		// A finished flight may have stored the value between our miss
		// and this call.
		if value, ok := c.store.Get(ctx, fingerprint); ok {
			return flightResult{value: value, fromStore: true}, nil
		}

		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.store.Set(ctx, fingerprint, value, ttl)
		return flightResult{value: value, fromStore: false}, nil
	})
	if err != nil {
		return nil, false, err
	}

	fr := result.(flightResult)
	return fr.value, fr.fromStore, nil
}
