package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
)

// Redis stores snapshots as JSON with SET EX on the shared connection.
// While the connection's breaker is open the cache is bypassed.
type Redis struct {
	conn   *redisconn.Conn
	prefix string
}

// NewRedis constructs a Redis-backed cache.
func NewRedis(conn *redisconn.Conn, prefix string) *Redis {
	return &Redis{
		conn:   conn,
		prefix: strings.TrimSpace(prefix),
	}
}

// Get loads and decodes the snapshot for key.
func (c *Redis) Get(ctx context.Context, key string) (license.Snapshot, bool, error) {
	if !c.conn.Available() {
		return license.Snapshot{}, false, fmt.Errorf("%w: %w", license.ErrCacheUnavailable, redisconn.ErrBreakerOpen)
	}
	raw, errGet := c.conn.Client.Get(ctx, redisconn.Key(c.prefix, key)).Bytes()
	if errors.Is(errGet, redis.Nil) {
		return license.Snapshot{}, false, nil
	}
	if errGet != nil {
		c.conn.Breaker.Trip(errGet, "cache")
		return license.Snapshot{}, false, fmt.Errorf("%w: %w", license.ErrCacheUnavailable, errGet)
	}
	var snap license.Snapshot
	if errDecode := json.Unmarshal(raw, &snap); errDecode != nil {
		// Treat an undecodable entry as absent and drop it.
		_ = c.conn.Client.Del(ctx, redisconn.Key(c.prefix, key)).Err()
		return license.Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Put encodes snap and stores it with ttl.
func (c *Redis) Put(ctx context.Context, key string, snap license.Snapshot, ttl time.Duration) error {
	if !c.conn.Available() {
		return fmt.Errorf("%w: %w", license.ErrCacheUnavailable, redisconn.ErrBreakerOpen)
	}
	raw, errEncode := json.Marshal(snap)
	if errEncode != nil {
		return fmt.Errorf("%w: encode: %w", license.ErrCacheUnavailable, errEncode)
	}
	if errSet := c.conn.Client.Set(ctx, redisconn.Key(c.prefix, key), raw, ttlOrDefault(ttl)).Err(); errSet != nil {
		c.conn.Breaker.Trip(errSet, "cache")
		return fmt.Errorf("%w: %w", license.ErrCacheUnavailable, errSet)
	}
	return nil
}

// Invalidate deletes key. It ignores the breaker so a recovered Redis never
// keeps a stale entry the verifier just tried to drop.
func (c *Redis) Invalidate(ctx context.Context, key string) error {
	if c.conn == nil || c.conn.Client == nil {
		return fmt.Errorf("%w: no connection", license.ErrCacheUnavailable)
	}
	if errDel := c.conn.Client.Del(ctx, redisconn.Key(c.prefix, key)).Err(); errDel != nil {
		c.conn.Breaker.Trip(errDel, "cache")
		return fmt.Errorf("%w: %w", license.ErrCacheUnavailable, errDel)
	}
	return nil
}
