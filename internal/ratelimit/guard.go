// Package ratelimit throttles device verification requests per client
// address in fixed one-second windows.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/config"
	"github.com/router-for-me/LicenseGuard/internal/metrics"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
)

// Decision is the verdict for one verify request.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Guard admits up to Limit verify requests per client address per second.
// With a shared Redis connection the windows are counted there so every
// replica sees one total; while that connection's breaker is open, or with
// no connection at all, windows are counted in this process.
type Guard struct {
	limit   int
	local   *localWindows
	shared  *sharedWindows
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// NewGuard builds a Guard from the rate-limit config. conn may be nil;
// prefix is the deployment prefix also used by the lookup cache.
func NewGuard(cfg config.RateLimitConfig, conn *redisconn.Conn, prefix string, m *metrics.Metrics) *Guard {
	g := &Guard{
		limit:   cfg.Limit,
		local:   &localWindows{},
		metrics: m,
		nowFn:   time.Now,
	}
	if g.limit < 0 {
		g.limit = 0
	}
	if cfg.Shared && conn != nil {
		g.shared = &sharedWindows{conn: conn, prefix: strings.TrimSpace(prefix)}
	}
	return g
}

// Limit returns the per-second limit; 0 means unlimited.
func (g *Guard) Limit() int {
	if g == nil {
		return 0
	}
	return g.limit
}

// Admit counts one request from clientIP and decides whether it may proceed.
func (g *Guard) Admit(ctx context.Context, clientIP string) Decision {
	limit := g.Limit()
	clientIP = strings.TrimSpace(clientIP)
	if limit <= 0 || clientIP == "" {
		return Decision{Allowed: true}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sec := g.nowFn().Unix()
	count, backend := g.count(ctx, clientIP, sec)
	d := Decision{Reset: time.Unix(sec+1, 0).UTC()}
	if count <= int64(limit) {
		d.Allowed = true
		d.Remaining = limit - int(count)
	}
	g.metrics.ObserveRateLimit(backend, d.Allowed)
	return d
}

func (g *Guard) count(ctx context.Context, clientIP string, sec int64) (int64, string) {
	if g.shared != nil && g.shared.conn.Available() {
		n, errHit := g.shared.hit(ctx, clientIP, sec)
		if errHit == nil {
			return n, metrics.RateLimitShared
		}
		g.shared.conn.Breaker.Trip(errHit, "rate limit")
	}
	return g.local.hit(clientIP, sec), metrics.RateLimitLocal
}
