package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidTTL is returned by Set when the ttl is zero or negative.
var ErrInvalidTTL = errors.New("ttl must be positive")

// Entry is a cached value and the instant it stops being served.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type options struct {
	nowFunc func() time.Time
}

// Option configures a TTLCache.
type Option func(*options)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(nowFunc func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = nowFunc
	}
}

// TTLCache is an in-memory key/value map where every entry carries an expiry.
// Expired entries are never returned; they are evicted lazily on read or by Cleanup.
type TTLCache[K comparable, V any] struct {
	entries map[K]Entry[V]
	nowFunc func() time.Time
	mu      sync.RWMutex
}

func New[K comparable, V any](opts ...Option) *TTLCache[K, V] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.nowFunc == nil {
		o.nowFunc = time.Now
	}
	return &TTLCache[K, V]{
		entries: make(map[K]Entry[V]),
		nowFunc: o.nowFunc,
	}
}

// Set stores value under key until now+ttl. A non-positive ttl removes any
// existing entry for key and returns ErrInvalidTTL.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return ErrInvalidTTL
	}
	c.entries[key] = Entry[V]{
		Value:     value,
		ExpiresAt: c.nowFunc().Add(ttl),
	}
	return nil
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	e, ok := c.Entry(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Entry is Get with the expiry attached.
func (c *TTLCache[K, V]) Entry(key K) (Entry[V], bool) {
	now := c.nowFunc()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry[V]{}, false
	}
	if !e.expired(now) {
		return e, true
	}

	c.mu.Lock()
	// Re-check, a concurrent Set may have replaced the entry.
	if cur, ok := c.entries[key]; ok && cur.expired(now) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return Entry[V]{}, false
}

// Delete removes key whether or not it has expired.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len counts stored entries, including expired ones not yet evicted.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup evicts every expired entry and returns how many were removed.
func (c *TTLCache[K, V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (c *TTLCache[K, V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
