// Package cache provides a small generic TTL cache whose misses are filled
// through singleflight, so concurrent callers share one computation.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries is used when Config.MaxEntries is zero.
const DefaultMaxEntries = 256

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *cacheEntry[T]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Config configures the cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// TTL caches values of type T by string key.
// It is safe for concurrent use.
type TTL[T any] struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*cacheEntry[T]
	group   singleflight.Group
}

// New creates an empty cache.
func New[T any](cfg Config) *TTL[T] {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	return &TTL[T]{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*cacheEntry[T]),
	}
}

// Get returns a live entry.
func (c *TTL[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.entries[key]; ok && !entry.isExpired(c.now()) {
		return entry.value, true
	}
	var zero T
	return zero, false
}

// Set stores a value, evicting expired entries first and the entry closest
// to expiry when the cache is full.
func (c *TTL[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = &cacheEntry[T]{value: value, expiresAt: now.Add(c.ttl)}
}

func (c *TTL[T]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range c.entries {
		if e.isExpired(now) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value for key or calls load once for all
// concurrent callers of the same key. Errors are not cached.
func (c *TTL[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache entry %s has unexpected type %T", key, res.Val)
		}
		return v, nil
	}
}
