package cache

import (
	"context"
	"sync"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
)

type memoryEntry struct {
	snap      license.Snapshot
	expiresAt time.Time
}

// Memory is an in-process TTL cache for single-instance deployments.
type Memory struct {
	mu     sync.Mutex
	items  map[string]memoryEntry
	prefix string
	nowFn  func() time.Time
}

// NewMemory constructs a Memory cache. nowFn defaults to time.Now.
func NewMemory(prefix string, nowFn func() time.Time) *Memory {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Memory{
		items:  make(map[string]memoryEntry),
		prefix: prefix,
		nowFn:  nowFn,
	}
}

// Get returns the live snapshot for key.
func (c *Memory) Get(_ context.Context, key string) (license.Snapshot, bool, error) {
	k := redisconn.Key(c.prefix, key)
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[k]
	if !ok {
		return license.Snapshot{}, false, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(c.items, k)
		return license.Snapshot{}, false, nil
	}
	return cloneSnapshot(entry.snap), true, nil
}

// Put stores snap under key for ttl.
func (c *Memory) Put(_ context.Context, key string, snap license.Snapshot, ttl time.Duration) error {
	k := redisconn.Key(c.prefix, key)
	expiresAt := c.nowFn().Add(ttlOrDefault(ttl))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[k] = memoryEntry{snap: cloneSnapshot(snap), expiresAt: expiresAt}
	return nil
}

// Invalidate drops key.
func (c *Memory) Invalidate(_ context.Context, key string) error {
	k := redisconn.Key(c.prefix, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, k)
	return nil
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// cloneSnapshot copies the fingerprint slice so callers cannot alias cached state.
func cloneSnapshot(snap license.Snapshot) license.Snapshot {
	snap.Fingerprints = append([]string(nil), snap.Fingerprints...)
	return snap
}
