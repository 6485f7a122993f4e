package settings

import "time"

// Defaults and enumerations shared by config, cache and HTTP layers.
const (
	// DefaultSiteName names the service in logs and generated config.
	DefaultSiteName = "LicenseGuard"
	// DefaultPort is the listen port when neither flag nor config sets one.
	DefaultPort = 8318
	// DefaultLogDir is where rotated log files go when logging-to-file is on.
	DefaultLogDir = "logs"
	// DefaultLogFileName is the rotated log file name inside the log dir.
	DefaultLogFileName = "licenseguard.log"

	// ResponseFormatCompact encodes outcomes as "1", "0i", "0e", "0l".
	ResponseFormatCompact = "compact"
	// ResponseFormatDescriptive encodes outcomes as "valid", "invalid", "expires", "limit".
	ResponseFormatDescriptive = "descriptive"
	// DefaultStoreTimeout bounds a single verification transaction.
	DefaultStoreTimeout = 5 * time.Second

	// CacheBackendRedis stores projections in Redis.
	CacheBackendRedis = "redis"
	// CacheBackendMemory stores projections in process memory.
	CacheBackendMemory = "memory"
	// CacheBackendNone disables the lookup cache.
	CacheBackendNone = "none"
	// DefaultCacheTTL is how long a cached license projection is trusted.
	DefaultCacheTTL = 20 * time.Minute
	// CacheKeyPrefix namespaces license projections in the cache.
	CacheKeyPrefix = "license:"

	// RateLimitKeyPrefix namespaces verify rate limit windows in Redis.
	RateLimitKeyPrefix = "ratelimit:verify:"
	// RateLimitWindowTTL keeps a finished one-second window around briefly.
	RateLimitWindowTTL = 2 * time.Second
)
