// Package cache is an in-memory TTL cache with hit and miss accounting,
// shared by the fragment store and the server's entity cache.
package cache

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache maps keys to values that expire after a per-entry TTL. It is safe
// for concurrent use.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	maxSize int
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// New creates a cache holding at most maxSize entries (default 1000).
func New[V any](maxSize int) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for ttl. A zero or negative ttl stores nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}

	e := &entry[V]{value: value, expiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictExpired()
		if len(c.entries) >= c.maxSize {
			c.evictSoonest(max(1, c.maxSize/10))
		}
	}
	c.entries[key] = e
}

// Invalidate removes a specific entry.
func (c *Cache[V]) Invalidate(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidatePrefix removes all entries whose keys start with prefix.
func (c *Cache[V]) InvalidatePrefix(prefix string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]*entry[V])
	c.mu.Unlock()
}

// Snapshot returns the live entries.
func (c *Cache[V]) Snapshot() map[string]V {
	out := map[string]V{}
	if c == nil {
		return out
	}
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, e := range c.entries {
		if !now.After(e.expiresAt) {
			out[k] = e.value
		}
	}
	return out
}

// Stats holds cache statistics.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// evictExpired removes all expired entries. Caller must hold the lock.
func (c *Cache[V]) evictExpired() {
	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictSoonest removes the n entries closest to expiry. Caller must hold
// the lock.
func (c *Cache[V]) evictSoonest(n int) {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ei, ej := c.entries[keys[i]].expiresAt, c.entries[keys[j]].expiresAt
		if ei.Equal(ej) {
			return keys[i] < keys[j]
		}
		return ei.Before(ej)
	})
	for i := 0; i < n && i < len(keys); i++ {
		delete(c.entries, keys[i])
	}
}
