package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New[string](10)

	if _, ok := c.Get("a"); ok {
		t.Error("expected miss on empty cache")
	}
	c.Set("a", "<p>A</p>", time.Minute)
	got, ok := c.Get("a")
	if !ok || got != "<p>A</p>" {
		t.Errorf("expected hit, got %q %v", got, ok)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.HitRate() != 50 {
		t.Errorf("expected 50%% hit rate, got %v", stats.HitRate())
	}
}

func TestZeroTTLNotStored(t *testing.T) {
	c := New[int](10)
	c.Set("a", 1, 0)
	if _, ok := c.Get("a"); ok {
		t.Error("zero TTL should not be stored")
	}
}

func TestExpiry(t *testing.T) {
	c := New[int](10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 1, time.Second)
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry should be removed on read")
	}
}

func TestEviction(t *testing.T) {
	c := New[int](10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Duration(i+1)*time.Minute)
	}
	c.Set("new", 99, time.Hour)

	if c.Stats().Entries != 10 {
		t.Errorf("expected 10 entries, got %d", c.Stats().Entries)
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("soonest-expiring entry should have been evicted")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("new entry should be present")
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string](10)
	c.Set("content:a", "1", time.Minute)
	c.Set("content:b", "2", time.Minute)
	c.Set("properties:a", "3", time.Minute)

	c.Invalidate("content:a")
	if _, ok := c.Get("content:a"); ok {
		t.Error("expected content:a invalidated")
	}
	c.InvalidatePrefix("content:")
	if _, ok := c.Get("content:b"); ok {
		t.Error("expected content:b invalidated")
	}
	if snap := c.Snapshot(); len(snap) != 1 || snap["properties:a"] != "3" {
		t.Errorf("unexpected snapshot %v", snap)
	}
	c.Clear()
	if c.Stats().Entries != 0 {
		t.Error("expected empty cache after Clear")
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache[string]
	c.Set("a", "x", time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("nil cache should always miss")
	}
	if len(c.Snapshot()) != 0 || c.Stats().Entries != 0 {
		t.Error("nil cache should be empty")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](50)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*31+i)%80)
				c.Set(key, i, time.Minute)
				c.Get(key)
			}
		}()
	}
	wg.Wait()
	if n := c.Stats().Entries; n > 50 {
		t.Errorf("cache exceeded max size: %d", n)
	}
}
