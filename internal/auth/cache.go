package auth

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value   V
	expires time.Time
}

// Cache is a bounded map with time-based eviction. Entries expire after a
// fixed TTL; when the cache is full, Put evicts the entry closest to
// expiry. Expired entries are also swept lazily on access.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	max     int
	ttl     time.Duration
	now     func() time.Time
}

func NewCache[K comparable, V any](max int, ttl time.Duration) *Cache[K, V] {
	if max <= 0 {
		max = 128
	}
	return &Cache[K, V]{
		entries: make(map[K]cacheEntry[V]),
		max:     max,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.max {
		c.evictLocked(now)
	}
	c.entries[key] = cacheEntry[V]{value: value, expires: now.Add(c.ttl)}
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries, and if none were expired, the entry
// closest to expiry.
func (c *Cache[K, V]) evictLocked(now time.Time) {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
		dropped   bool
	)
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
			dropped = true
			continue
		}
		if !found || e.expires.Before(oldest) {
			oldestKey, oldest, found = k, e.expires, true
		}
	}
	if !dropped && found {
		delete(c.entries, oldestKey)
	}
}
