package license

import (
	"context"
	"time"

	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
)

// Snapshot is the projection of a license and its plan needed to decide a
// verification. It is what the lookup cache stores.
type Snapshot struct {
	LicenseID    string    `json:"id"`
	PlanID       uint64    `json:"planId"`
	DeviceLimit  int       `json:"deviceLimit"`
	Fingerprints []string  `json:"fingerprints"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsExpired    bool      `json:"isExpired"`
	Revision     int64     `json:"revision"`
}

// Gate carries the expiry policy for one verification.
type Gate struct {
	Now       time.Time
	WallClock bool
}

// Expired reports whether the expiry gate is active. A license is expired
// from its ExpiresAt instant onward.
func (s Snapshot) Expired(g Gate) bool {
	if s.IsExpired {
		return true
	}
	return g.WallClock && !s.ExpiresAt.After(g.Now)
}

// Bound reports whether fp is already in the bound set.
func (s Snapshot) Bound(fp string) bool {
	for _, existing := range s.Fingerprints {
		if existing == fp {
			return true
		}
	}
	return false
}

// Full reports whether no further fingerprint may be admitted.
func (s Snapshot) Full() bool {
	return len(s.Fingerprints) >= s.DeviceLimit
}

// Decide applies the expiry, membership and quota rules in order. When admit
// is true the caller must append fp atomically before answering Valid.
func (s Snapshot) Decide(fp string, g Gate) (outcome Outcome, reason error, admit bool) {
	switch {
	case s.Expired(g):
		return OutcomeExpired, ErrExpired, false
	case s.Bound(fp):
		return OutcomeValid, nil, false
	case s.Full():
		return OutcomeLimitReached, ErrQuotaExceeded, false
	default:
		return OutcomeValid, nil, true
	}
}

// BindResult is the decision made inside one store transaction.
type BindResult struct {
	Outcome  Outcome
	Reason   error
	Snapshot Snapshot
	Mutated  bool
}

// Store performs the atomic read-decide-append step for one verification.
// Errors are ErrNotFound, ErrPlanUnresolved or wrap ErrStoreUnavailable.
type Store interface {
	Bind(ctx context.Context, key, fp string, gate Gate) (BindResult, error)
}

// Cache stores snapshots keyed by CacheKey. Implementations wrap their
// failures with ErrCacheUnavailable.
type Cache interface {
	Get(ctx context.Context, key string) (Snapshot, bool, error)
	Put(ctx context.Context, key string, snap Snapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// CacheKey is the single cache key scheme for a license key.
func CacheKey(licenseKey string) string {
	return internalsettings.CacheKeyPrefix + licenseKey
}
