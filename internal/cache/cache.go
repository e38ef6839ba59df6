// Package cache provides an in-memory TTL cache.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a cached item with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// MemoryCache is a size-bounded map whose entries expire. Reading an entry
// with Touch extends its lifetime.
type MemoryCache[K comparable, V any] struct {
	mu         sync.RWMutex
	data       map[K]*Entry[V]
	defaultTTL time.Duration
	maxSize    int
	onEvict    func(K, V)
	now        func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a MemoryCache.
type Option[K comparable, V any] func(*MemoryCache[K, V])

// WithEvictHook is called, outside the lock, for every entry removed by
// expiry or capacity eviction.
func WithEvictHook[K comparable, V any](fn func(K, V)) Option[K, V] {
	return func(c *MemoryCache[K, V]) {
		c.onEvict = fn
	}
}

// NewMemoryCache creates a cache. maxSize <= 0 means 1000 entries.
func NewMemoryCache[K comparable, V any](defaultTTL time.Duration, maxSize int, opts ...Option[K, V]) *MemoryCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1000
	}

	c := &MemoryCache[K, V]{
		data:       make(map[K]*Entry[V]),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a live value.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || entry.expired(c.now()) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return entry.Value, true
}

// Touch retrieves a live value and restarts its TTL.
func (c *MemoryCache[K, V]) Touch(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.data[key]
	if !ok || entry.expired(now) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	entry.ExpiresAt = now.Add(c.defaultTTL)
	return entry.Value, true
}

// Set stores a value with the default TTL.
func (c *MemoryCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value with a custom TTL, evicting the entry closest to
// expiry when the cache is full.
func (c *MemoryCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	var evicted []Entry[V]
	var evictedKeys []K

	c.mu.Lock()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		if k, e, ok := c.oldest(); ok {
			delete(c.data, k)
			evictedKeys = append(evictedKeys, k)
			evicted = append(evicted, *e)
		}
	}
	c.data[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: c.now().Add(ttl),
	}
	c.mu.Unlock()

	c.notify(evictedKeys, evicted)
}

// Delete removes a key without calling the evict hook.
func (c *MemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Clear removes every entry without calling the evict hook.
func (c *MemoryCache[K, V]) Clear() {
	c.mu.Lock()
	c.data = make(map[K]*Entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns cache statistics.
func (c *MemoryCache[K, V]) Stats() (hits, misses uint64, size int) {
	return c.hits.Load(), c.misses.Load(), c.Len()
}

// oldest returns the entry closest to expiry. Callers hold the lock.
func (c *MemoryCache[K, V]) oldest() (K, *Entry[V], bool) {
	var oldestKey K
	var oldest *Entry[V]
	for key, entry := range c.data {
		if oldest == nil || entry.ExpiresAt.Before(oldest.ExpiresAt) {
			oldestKey, oldest = key, entry
		}
	}
	return oldestKey, oldest, oldest != nil
}

// Run removes expired entries every interval until ctx is done.
func (c *MemoryCache[K, V]) Run(ctx context.Context, interval time.Duration) {
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

// Cleanup removes expired entries now.
func (c *MemoryCache[K, V]) Cleanup() {
	var evicted []Entry[V]
	var evictedKeys []K

	c.mu.Lock()
	now := c.now()
	for key, entry := range c.data {
		if entry.expired(now) {
			delete(c.data, key)
			evictedKeys = append(evictedKeys, key)
			evicted = append(evicted, *entry)
		}
	}
	c.mu.Unlock()

	c.notify(evictedKeys, evicted)
}

func (c *MemoryCache[K, V]) notify(keys []K, entries []Entry[V]) {
	if c.onEvict == nil {
		return
	}
	for i, key := range keys {
		c.onEvict(key, entries[i].Value)
	}
}
