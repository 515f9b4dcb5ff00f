package engine

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cyp0633/libremind/occurrence"
)

// cacheEntry represents a cached per-item range result
type cacheEntry struct {
	result     []occurrence.Entry
	expiresAt  time.Time
	accessedAt time.Time
}

// RangeCache keeps the range results of single items, keyed by the item,
// the encoded rule set and the window.
type RangeCache struct {
	entries         map[string]*cacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	now             func() time.Time

	hits, misses int
}

// CacheConfig holds configuration for the range cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before eviction
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for range caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewRangeCache creates a range cache and starts its cleanup goroutine
func NewRangeCache(config CacheConfig) *RangeCache {
	c := &RangeCache{
		entries:         make(map[string]*cacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	if c.cleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// cacheKey hashes everything a per-item range result depends on. The
// fingerprint is the encoded rule set of the item.
func cacheKey(item occurrence.ItemKey, fingerprint []byte, mint, maxt int64) string {
	hasher := sha256.New()
	hasher.Write([]byte(item.String()))
	hasher.Write([]byte{0})
	hasher.Write(fingerprint)
	hasher.Write([]byte{0})
	hasher.Write([]byte(strconv.FormatInt(mint, 10)))
	hasher.Write([]byte{':'})
	hasher.Write([]byte(strconv.FormatInt(maxt, 10)))
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *RangeCache) Get(key string) ([]occurrence.Entry, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	entry.accessedAt = now
	c.hits++
	return slices.Clone(entry.result), true
}

// Set stores a result in the cache
func (c *RangeCache) Set(key string, result []occurrence.Entry) {
	now := c.now()
	entry := &cacheEntry{
		result:     slices.Clone(result),
		expiresAt:  now.Add(c.ttl),
		accessedAt: now,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// Invalidate drops every entry, e.g. after the offset function changed
func (c *RangeCache) Invalidate() {
	c.mutex.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mutex.Unlock()
}

// cleanup removes expired entries, then the least recently accessed ones
// while over the limit. Callers hold the write lock.
func (c *RangeCache) cleanup() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}

	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	list := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		list = append(list, keyAccess{key: key, accessedAt: entry.accessedAt})
	}
	slices.SortFunc(list, func(a, b keyAccess) int { return a.accessedAt.Compare(b.accessedAt) })

	for i := 0; i < excess; i++ {
		delete(c.entries, list[i].key)
	}
}

// cleanupLoop runs periodic cleanup
func (c *RangeCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *RangeCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.Invalidate()
}

// Stats returns cache statistics
func (c *RangeCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	expired := 0
	now := c.now()
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			expired++
		}
	}

	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
		Hits:           c.hits,
		Misses:         c.misses,
	}
}

// CacheStats provides information about cache performance
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
	Hits           int
	Misses         int
}
