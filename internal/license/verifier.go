package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/metrics"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Verifier decides whether a device may use a license.
type Verifier struct {
	store     Store
	cache     Cache
	cacheTTL  time.Duration
	wallClock bool
	timeout   time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time

	group singleflight.Group
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithCache enables the lookup cache with the given TTL.
func WithCache(cache Cache, ttl time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.cache = cache
		if ttl > 0 {
			v.cacheTTL = ttl
		}
	}
}

// WithWallClockExpiry toggles gating on ExpiresAt in addition to the flag.
func WithWallClockExpiry(enabled bool) VerifierOption {
	return func(v *Verifier) { v.wallClock = enabled }
}

// WithStoreTimeout bounds each store transaction.
func WithStoreTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithMetrics records outcomes and cache results.
func WithMetrics(m *metrics.Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier constructs a verification engine over store.
func NewVerifier(store Store, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store:     store,
		cacheTTL:  internalsettings.DefaultCacheTTL,
		wallClock: true,
		timeout:   internalsettings.DefaultStoreTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify returns the outcome for one (key, fingerprint) pair.
func (v *Verifier) Verify(ctx context.Context, licenseKey, fingerprint string) Outcome {
	outcome, _ := v.Check(ctx, licenseKey, fingerprint)
	return outcome
}

// verdict is the value shared between coalesced callers.
type verdict struct {
	outcome Outcome
	reason  error
}

// Check is Verify plus the taxonomy error explaining a non-Valid outcome.
func (v *Verifier) Check(ctx context.Context, licenseKey, fingerprint string) (Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !ValidFingerprint(fingerprint) || !ValidKey(licenseKey) {
		v.metrics.ObserveOutcome(OutcomeInvalid.String())
		return OutcomeInvalid, ErrInputMalformed
	}

	// Identical concurrent requests share one decision. The shared call must
	// not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	value, _, _ := v.group.Do(licenseKey+"\x00"+fingerprint, func() (any, error) {
		outcome, reason := v.decide(shared, licenseKey, fingerprint)
		return verdict{outcome: outcome, reason: reason}, nil
	})
	result := value.(verdict)
	v.metrics.ObserveOutcome(result.outcome.String())
	return result.outcome, result.reason
}

func (v *Verifier) decide(ctx context.Context, licenseKey, fingerprint string) (Outcome, error) {
	gate := Gate{Now: v.now().UTC(), WallClock: v.wallClock}
	cacheKey := CacheKey(licenseKey)

	if v.cache != nil {
		snap, ok, errGet := v.cache.Get(ctx, cacheKey)
		switch {
		case errGet != nil:
			v.metrics.ObserveCache(metrics.CacheError)
			log.WithError(errGet).Debug("license: cache lookup failed, using store")
		case ok:
			outcome, reason, admit := snap.Decide(fingerprint, gate)
			if !admit {
				v.metrics.ObserveCache(metrics.CacheDecided)
				return outcome, reason
			}
			v.metrics.ObserveCache(metrics.CacheHit)
		default:
			v.metrics.ObserveCache(metrics.CacheMiss)
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	started := time.Now()
	res, errBind := v.store.Bind(storeCtx, licenseKey, fingerprint, gate)
	v.metrics.ObserveStore(time.Since(started))
	if errBind != nil {
		switch {
		case errors.Is(errBind, ErrNotFound), errors.Is(errBind, ErrPlanUnresolved):
			return OutcomeInvalid, errBind
		default:
			log.WithError(errBind).Warn("license: verification store failure")
			if !errors.Is(errBind, ErrStoreUnavailable) {
				errBind = fmt.Errorf("%w: %w", ErrStoreUnavailable, errBind)
			}
			return OutcomeInvalid, errBind
		}
	}

	if v.cache != nil {
		if res.Mutated {
			if errInvalidate := v.cache.Invalidate(ctx, cacheKey); errInvalidate != nil {
				log.WithError(errInvalidate).Warn("license: cache invalidation failed")
			}
		} else if errPut := v.cache.Put(ctx, cacheKey, res.Snapshot, v.cacheTTL); errPut != nil {
			log.WithError(errPut).Debug("license: cache fill failed")
		}
	}
	return res.Outcome, res.Reason
}
