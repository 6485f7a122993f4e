// Package redisconn owns the one Redis client a deployment opens, shared by
// the lookup cache and the verify rate limiter, and the breaker both consult.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	// BreakerCooldown is how long Redis is bypassed after an error.
	BreakerCooldown = 30 * time.Second
	pingTimeout     = 2 * time.Second
)

// ErrBreakerOpen is returned while Redis is being bypassed.
var ErrBreakerOpen = errors.New("redis breaker open")

// Conn is a Redis client plus the breaker shared by everything using it.
type Conn struct {
	Client  *redis.Client
	Breaker *Breaker
}

// Dial connects from a redis:// URL or host:port input and checks that the
// server answers.
func Dial(ctx context.Context, redisURL string) (*Conn, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return nil, errors.New("redis: missing url")
	}
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, errParse := redis.ParseURL(redisURL)
		if errParse != nil {
			return nil, fmt.Errorf("redis: parse url: %w", errParse)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctxPing, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", errPing)
	}
	return New(client, nil), nil
}

// New wraps an existing client. nowFn drives the breaker and defaults to
// time.Now.
func New(client *redis.Client, nowFn func() time.Time) *Conn {
	return &Conn{Client: client, Breaker: NewBreaker(BreakerCooldown, nowFn)}
}

// Close releases the client.
func (c *Conn) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Available reports whether callers should use Redis right now.
func (c *Conn) Available() bool {
	return c != nil && c.Client != nil && !c.Breaker.Open()
}

// Key applies an optional deployment prefix to a Redis key.
func Key(prefix, key string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

// Breaker stops traffic to Redis for a cooldown after an error. A nil
// *Breaker is always closed.
type Breaker struct {
	mu       sync.Mutex
	until    time.Time
	cooldown time.Duration
	nowFn    func() time.Time
}

// NewBreaker constructs a Breaker. nowFn defaults to time.Now.
func NewBreaker(cooldown time.Duration, nowFn func() time.Time) *Breaker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Breaker{cooldown: cooldown, nowFn: nowFn}
}

// Open reports whether Redis is currently bypassed.
func (b *Breaker) Open() bool {
	if b == nil {
		return false
	}
	now := b.nowFn()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.until.IsZero() {
		return false
	}
	if now.Before(b.until) {
		return true
	}
	b.until = time.Time{}
	return false
}

// Trip opens the breaker after err. who names the caller in the log line.
func (b *Breaker) Trip(err error, who string) {
	if b == nil || err == nil {
		return
	}
	now := b.nowFn()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.until.IsZero() && now.Before(b.until) {
		return
	}
	b.until = now.Add(b.cooldown)
	log.WithError(err).Warnf("%s: redis unavailable, bypassing for %s", who, b.cooldown)
}
