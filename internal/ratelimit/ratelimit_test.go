package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/LicenseGuard/internal/config"
	"github.com/router-for-me/LicenseGuard/internal/metrics"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
)

var testNow = time.Unix(1_800_000_000, 0)

func fixedGuard(cfg config.RateLimitConfig, conn *redisconn.Conn, m *metrics.Metrics) *Guard {
	g := NewGuard(cfg, conn, "lg", m)
	g.nowFn = func() time.Time { return testNow }
	return g
}

func TestGuard_LocalFixedWindow(t *testing.T) {
	g := fixedGuard(config.RateLimitConfig{Limit: 2}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d := g.Admit(ctx, "192.0.2.1"); !d.Allowed || d.Remaining != 1-i {
			t.Fatalf("request %d: expected allowed with %d remaining, got %+v", i, 1-i, d)
		}
	}
	d := g.Admit(ctx, "192.0.2.1")
	if d.Allowed {
		t.Fatalf("expected third request in window to be limited")
	}
	if !d.Reset.Equal(testNow.Add(time.Second)) {
		t.Fatalf("expected reset at next second, got %s", d.Reset)
	}
	if other := g.Admit(ctx, "192.0.2.2"); !other.Allowed {
		t.Fatalf("expected a different client to have its own window")
	}

	g.nowFn = func() time.Time { return testNow.Add(time.Second) }
	if d := g.Admit(ctx, "192.0.2.1"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("expected new window to reset, got %+v", d)
	}
	if len(g.local.counts) != 1 {
		t.Fatalf("expected older windows to be dropped, got %d entries", len(g.local.counts))
	}
}

func TestGuard_SharedWindowSpansReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, err := redisconn.Dial(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	m := metrics.New(prometheus.NewRegistry())
	cfg := config.RateLimitConfig{Limit: 1, Shared: true}
	first := fixedGuard(cfg, conn, m)
	second := fixedGuard(cfg, conn, m)

	ctx := context.Background()
	if d := first.Admit(ctx, "10.0.0.1"); !d.Allowed {
		t.Fatalf("expected first request allowed, got %+v", d)
	}
	if d := second.Admit(ctx, "10.0.0.1"); d.Allowed {
		t.Fatalf("expected the other replica to see the shared count")
	}
	key := fmt.Sprintf("lg:ratelimit:verify:10.0.0.1:%d", testNow.Unix())
	if !mr.Exists(key) {
		t.Fatalf("expected redis window key %q, got %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("expected short window ttl, got %s", ttl)
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues(metrics.RateLimitShared, metrics.RateLimitLimited)); got != 1 {
		t.Fatalf("expected one shared limited decision, got %v", got)
	}
}

func TestGuard_FallsBackToLocalWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	conn := redisconn.New(client, func() time.Time { return testNow })
	mr.Close()

	m := metrics.New(prometheus.NewRegistry())
	g := fixedGuard(config.RateLimitConfig{Limit: 1, Shared: true}, conn, m)
	ctx := context.Background()

	if d := g.Admit(ctx, "10.0.0.2"); !d.Allowed {
		t.Fatalf("expected local fallback to allow, got %+v", d)
	}
	if !conn.Breaker.Open() {
		t.Fatalf("expected the shared breaker to trip")
	}
	if d := g.Admit(ctx, "10.0.0.2"); d.Allowed {
		t.Fatalf("expected local windows to enforce the limit")
	}
	if got := testutil.ToFloat64(m.RateLimitDecisions.WithLabelValues(metrics.RateLimitLocal, metrics.RateLimitAllowed)); got != 1 {
		t.Fatalf("expected one local allowed decision, got %v", got)
	}
}

func TestNewGuard_Normalizes(t *testing.T) {
	if g := NewGuard(config.RateLimitConfig{Limit: -3}, nil, "", nil); g.Limit() != 0 {
		t.Fatalf("expected negative limit to mean unlimited, got %d", g.Limit())
	}
	if g := NewGuard(config.RateLimitConfig{Limit: 1, Shared: true}, nil, "", nil); g.shared != nil {
		t.Fatalf("expected no shared windows without a connection")
	}
	var nilGuard *Guard
	if nilGuard.Limit() != 0 {
		t.Fatalf("expected nil guard to be unlimited")
	}
	if d := NewGuard(config.RateLimitConfig{Limit: 1}, nil, "", nil).Admit(context.Background(), " "); !d.Allowed {
		t.Fatalf("expected requests without a client address to pass")
	}
}

func newVerifyEngine(t *testing.T, g *Guard, trusted []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if err := r.SetTrustedProxies(trusted); err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	r.Use(Middleware(g))
	r.POST("/api/verify", func(c *gin.Context) { c.String(http.StatusOK, "1") })
	return r
}

func sendVerify(r *gin.Engine, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/verify", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_Returns429(t *testing.T) {
	r := newVerifyEngine(t, fixedGuard(config.RateLimitConfig{Limit: 1}, nil, nil), nil)

	if w := sendVerify(r, "192.0.2.10:5555", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := sendVerify(r, "192.0.2.10:5555", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected limit headers: %v", w.Header())
	}
}

func TestMiddleware_IgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	r := newVerifyEngine(t, fixedGuard(config.RateLimitConfig{Limit: 1}, nil, nil), nil)

	if w := sendVerify(r, "192.0.2.10:5555", "203.0.113.1"); w.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", w.Code)
	}
	for i := 2; i <= 5; i++ {
		w := sendVerify(r, "192.0.2.10:5555", fmt.Sprintf("203.0.113.%d", i))
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("forwarded-for %d: expected 429, got %d", i, w.Code)
		}
	}
}

func TestMiddleware_HonorsForwardedForFromTrustedProxy(t *testing.T) {
	r := newVerifyEngine(t, fixedGuard(config.RateLimitConfig{Limit: 1}, nil, nil), []string{"192.0.2.10"})

	for i := 1; i <= 3; i++ {
		w := sendVerify(r, "192.0.2.10:5555", fmt.Sprintf("203.0.113.%d", i))
		if w.Code != http.StatusOK {
			t.Fatalf("client %d behind trusted proxy: expected 200, got %d", i, w.Code)
		}
	}
	if w := sendVerify(r, "192.0.2.10:5555", "203.0.113.1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected repeat client behind proxy to be limited, got %d", w.Code)
	}
}

func TestMiddleware_UnlimitedPassesThrough(t *testing.T) {
	r := newVerifyEngine(t, NewGuard(config.RateLimitConfig{}, nil, "", nil), nil)
	for i := 0; i < 5; i++ {
		if w := sendVerify(r, "192.0.2.10:5555", ""); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
}
