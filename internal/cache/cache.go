// Package cache provides a small in-memory TTL cache with explicit
// invalidation and in-flight call de-duplication. Writers invalidate keys
// after a successful mutation instead of relying on wall-clock expiry alone.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	insertedAt time.Time
	ttl        time.Duration
}

// Cache is a mutex-guarded TTL cache keyed by string.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	// inflight de-duplicates concurrent loads of the same key.
	inflight map[string]chan struct{}

	nowFunc func() time.Time
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		inflight: make(map[string]chan struct{}),
		nowFunc:  time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if e.ttl > 0 && c.nowFunc().Sub(e.insertedAt) > e.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL. A non-positive TTL means
// the entry never expires (until invalidated).
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, insertedAt: c.nowFunc(), ttl: ttl}
}

// Invalidate removes key from the cache. Call after a successful mutation of
// the underlying resource.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, including any not yet expired-on-read.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Do returns the cached value for key, or runs load exactly once to fill it.
// Concurrent callers for the same key wait for the first load instead of
// issuing duplicate upstream calls.
func (c *Cache[V]) Do(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	for {
		if v, ok := c.Get(key); ok {
			return v, nil
		}

		c.mu.Lock()
		if wait, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue // re-check the cache; loader may have failed
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight[key] = done
		c.mu.Unlock()

		v, err := load(ctx)

		c.mu.Lock()
		delete(c.inflight, key)
		close(done)
		if err == nil {
			c.entries[key] = entry[V]{value: v, insertedAt: c.nowFunc(), ttl: ttl}
		}
		c.mu.Unlock()

		return v, err
	}
}
