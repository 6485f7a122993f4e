package ratelimit

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
)

// localWindows counts hits per client for the newest second seen. Moving to
// a new second drops every older count at once.
type localWindows struct {
	mu     sync.Mutex
	sec    int64
	counts map[string]int64
}

func (w *localWindows) hit(clientIP string, sec int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.counts == nil || sec > w.sec {
		w.counts = make(map[string]int64)
		w.sec = sec
	}
	w.counts[clientIP]++
	return w.counts[clientIP]
}

// sharedWindows counts hits in Redis, one short-lived key per client and second.
type sharedWindows struct {
	conn   *redisconn.Conn
	prefix string
}

func (w *sharedWindows) key(clientIP string, sec int64) string {
	return redisconn.Key(w.prefix, internalsettings.RateLimitKeyPrefix+clientIP+":"+strconv.FormatInt(sec, 10))
}

func (w *sharedWindows) hit(ctx context.Context, clientIP string, sec int64) (int64, error) {
	key := w.key(clientIP, sec)
	var incr *redis.IntCmd
	_, errPipe := w.conn.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, internalsettings.RateLimitWindowTTL)
		return nil
	})
	if errPipe != nil {
		return 0, errPipe
	}
	return incr.Val(), nil
}
