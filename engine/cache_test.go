package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cyp0633/libremind/occurrence"
)

// fakeClock lets tests move the cache's notion of now
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(config CacheConfig) (*RangeCache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	cache := NewRangeCache(config)
	cache.now = clock.Now
	return cache, clock
}

func entries(starts ...int64) []occurrence.Entry {
	out := make([]occurrence.Entry, len(starts))
	for i, s := range starts {
		out[i] = occurrence.Entry{Item: itemA, Occurrence: occurrence.Occurrence{Start: s}}
	}
	return out
}

func TestRangeCache_BasicOperations(t *testing.T) {
	cache, _ := newTestCache(CacheConfig{TTL: 5 * time.Minute, MaxEntries: 100})
	defer cache.Close()

	key := cacheKey(itemA, []byte("<rules/>"), 0, 100)

	// Cache miss first
	result, found := cache.Get(key)
	if found {
		t.Error("Expected cache miss, got hit")
	}
	if result != nil {
		t.Error("Expected nil result on cache miss")
	}

	cache.Set(key, entries(10, 20))

	result, found = cache.Get(key)
	if !found {
		t.Fatal("Expected cache hit, got miss")
	}
	if len(result) != 2 || result[1].Start != 20 {
		t.Errorf("Expected two entries ending at 20, got %v", result)
	}

	// callers cannot corrupt the cached slice
	result[0].Start = 999
	again, _ := cache.Get(key)
	if again[0].Start != 10 {
		t.Errorf("cached entry modified through returned slice: %v", again)
	}
}

func TestRangeCache_TTLExpiration(t *testing.T) {
	cache, clock := newTestCache(CacheConfig{TTL: time.Minute, MaxEntries: 100})
	defer cache.Close()

	key := cacheKey(itemA, nil, 0, 100)
	cache.Set(key, entries(1))

	if _, found := cache.Get(key); !found {
		t.Error("Expected cache hit immediately after set")
	}

	clock.Advance(2 * time.Minute)
	if stats := cache.Stats(); stats.ExpiredEntries != 1 || stats.ActiveEntries != 0 {
		t.Errorf("Expected one expired entry, got %+v", stats)
	}
	if _, found := cache.Get(key); found {
		t.Error("Expected cache miss after TTL expiration")
	}
	if stats := cache.Stats(); stats.TotalEntries != 0 {
		t.Errorf("Expected expired entry to be dropped, got %+v", stats)
	}
}

func TestRangeCache_KeyGeneration(t *testing.T) {
	base := cacheKey(itemA, []byte("x"), 0, 100)

	testCases := []struct {
		name string
		key  string
	}{
		{"different item", cacheKey(itemB, []byte("x"), 0, 100)},
		{"different rules", cacheKey(itemA, []byte("y"), 0, 100)},
		{"different mint", cacheKey(itemA, []byte("x"), 1, 100)},
		{"different maxt", cacheKey(itemA, []byte("x"), 0, 101)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.key == base {
				t.Errorf("key collision for %s", tc.name)
			}
		})
	}

	if cacheKey(itemA, []byte("x"), 0, 100) != base {
		t.Error("key generation is not deterministic")
	}
}

func TestRangeCache_MaxEntriesEviction(t *testing.T) {
	cache, clock := newTestCache(CacheConfig{TTL: time.Hour, MaxEntries: 3})
	defer cache.Close()

	keys := make([]string, 4)
	for i := range keys {
		keys[i] = cacheKey(itemA, []byte(fmt.Sprintf("rules-%d", i)), 0, 100)
	}

	for i := 0; i < 3; i++ {
		cache.Set(keys[i], entries(int64(i)))
		clock.Advance(time.Second)
	}
	// touch the oldest so the second one becomes least recently used
	cache.Get(keys[0])
	clock.Advance(time.Second)
	cache.Set(keys[3], entries(3))

	if stats := cache.Stats(); stats.TotalEntries != 3 {
		t.Errorf("Expected 3 entries after eviction, got %d", stats.TotalEntries)
	}
	if _, found := cache.Get(keys[1]); found {
		t.Error("Expected least recently used entry to be evicted")
	}
	for _, i := range []int{0, 2, 3} {
		if _, found := cache.Get(keys[i]); !found {
			t.Errorf("Expected entry %d to survive eviction", i)
		}
	}
}

func TestRangeCache_ConcurrentAccess(t *testing.T) {
	cache := NewRangeCache(CacheConfig{TTL: 5 * time.Minute, MaxEntries: 100, CleanupInterval: time.Millisecond})
	defer cache.Close()

	const numGoroutines = 10
	const operationsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < operationsPerGoroutine; j++ {
				key := cacheKey(itemA, []byte(fmt.Sprintf("%d-%d", goroutineID, j)), 0, 100)
				if j%2 == 0 {
					cache.Set(key, entries(int64(j)))
				} else {
					cache.Get(key)
				}
			}
		}(i)
	}
	wg.Wait()

	key := cacheKey(itemA, []byte("final"), 0, 100)
	cache.Set(key, entries(1))
	if _, found := cache.Get(key); !found {
		t.Error("Cache should still be functional after concurrent access")
	}
	if stats := cache.Stats(); stats.TotalEntries > 100 {
		t.Errorf("cache grew past its limit: %+v", stats)
	}
}

func TestRangeCache_CloseTwice(t *testing.T) {
	cache := NewRangeCache(DefaultCacheConfig)
	cache.Set("k", entries(1))
	cache.Close()
	cache.Close()

	if stats := cache.Stats(); stats.TotalEntries != 0 {
		t.Errorf("Expected empty cache after Close, got %+v", stats)
	}
}
