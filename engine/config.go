package engine

import (
	"time"
)

// Config holds configuration options for the engine
type Config struct {
	// Range cache configuration
	CacheEnabled bool
	CacheConfig  CacheConfig

	// MaxRangeSpan rejects range windows wider than this many seconds;
	// zero disables the check.
	MaxRangeSpan int64
}

// DefaultConfig provides sensible defaults for an interactive process
var DefaultConfig = Config{
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,

	MaxRangeSpan: 10 * 366 * 24 * 3600, // ten years
}

// LowMemoryConfig is optimized for memory-constrained environments
var LowMemoryConfig = Config{
	CacheEnabled: true,
	CacheConfig: CacheConfig{
		TTL:             5 * time.Minute,
		MaxEntries:      100,
		CleanupInterval: 2 * time.Minute,
	},

	MaxRangeSpan: 2 * 366 * 24 * 3600,
}

// DisabledCacheConfig turns off caching entirely
var DisabledCacheConfig = Config{
	CacheEnabled: false,
	CacheConfig:  CacheConfig{}, // Not used

	MaxRangeSpan: 0,
}
