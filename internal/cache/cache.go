// Package cache holds the lookup cache backends for license snapshots.
package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/config"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
)

// New builds the backend selected by cfg. The none backend yields a nil
// cache, which the verifier treats as disabled. The redis backend runs on
// conn, which the caller owns and closes.
func New(cfg config.CacheConfig, conn *redisconn.Conn) (license.Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case internalsettings.CacheBackendNone:
		return nil, nil
	case internalsettings.CacheBackendMemory, "":
		return NewMemory(cfg.Prefix, nil), nil
	case internalsettings.CacheBackendRedis:
		if conn == nil || conn.Client == nil {
			return nil, errors.New("cache: redis backend needs a redis connection")
		}
		return NewRedis(conn, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("cache: unsupported backend %q", cfg.Backend)
	}
}

// ttlOrDefault keeps entries from living forever when no TTL is given.
func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return internalsettings.DefaultCacheTTL
	}
	return ttl
}
