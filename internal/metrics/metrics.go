// Package metrics exposes Prometheus collectors for verification, cache and
// reconciler activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ns = "licenseguard"

	LabelOutcome    = "outcome"
	LabelResult     = "result"
	LabelTransition = "transition"
	LabelBackend    = "backend"

	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheError   = "error"
	CacheDecided = "decided"

	TransitionExpired = "expired"
	TransitionAlive   = "alive"

	RateLimitLocal   = "local"
	RateLimitShared  = "redis"
	RateLimitAllowed = "allowed"
	RateLimitLimited = "limited"
)

// Metrics bundles the service collectors.
type Metrics struct {
	VerifyOutcomes *prometheus.CounterVec
	VerifyCache    *prometheus.CounterVec
	StoreSeconds   prometheus.Histogram

	ReconcileTransitions *prometheus.CounterVec
	ReconcileRuns        *prometheus.CounterVec

	RateLimitDecisions *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		VerifyOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "outcomes_total", Namespace: ns, Subsystem: "verify",
			Help: "Verification outcomes returned to devices.",
		}, []string{LabelOutcome}),
		VerifyCache: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "cache_total", Namespace: ns, Subsystem: "verify",
			Help: "Lookup cache results seen by the verification engine.",
		}, []string{LabelResult}),
		StoreSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name: "store_seconds", Namespace: ns, Subsystem: "verify",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			Help:    "Duration of the verification store transaction.",
		}),
		ReconcileTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "transitions_total", Namespace: ns, Subsystem: "reconcile",
			Help: "License rows whose expired flag was flipped by the reconciler.",
		}, []string{LabelTransition}),
		ReconcileRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "runs_total", Namespace: ns, Subsystem: "reconcile",
			Help: "Reconciler passes, by result.",
		}, []string{LabelResult}),
		RateLimitDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "decisions_total", Namespace: ns, Subsystem: "ratelimit",
			Help: "Verify rate limit decisions, by counting backend and result.",
		}, []string{LabelBackend, LabelResult}),
	}
}

// ObserveOutcome counts one verification outcome.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.VerifyOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveCache counts one cache lookup result.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.VerifyCache.WithLabelValues(result).Inc()
}

// ObserveStore records the duration of one store transaction.
func (m *Metrics) ObserveStore(d time.Duration) {
	if m == nil {
		return
	}
	m.StoreSeconds.Observe(d.Seconds())
}

// ObserveReconcile records one reconciler pass.
func (m *Metrics) ObserveReconcile(alive, expired int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReconcileRuns.WithLabelValues("error").Inc()
		return
	}
	m.ReconcileRuns.WithLabelValues("success").Inc()
	m.ReconcileTransitions.WithLabelValues(TransitionAlive).Add(float64(alive))
	m.ReconcileTransitions.WithLabelValues(TransitionExpired).Add(float64(expired))
}

// ObserveRateLimit counts one rate limit decision.
func (m *Metrics) ObserveRateLimit(backend string, allowed bool) {
	if m == nil {
		return
	}
	result := RateLimitLimited
	if allowed {
		result = RateLimitAllowed
	}
	m.RateLimitDecisions.WithLabelValues(backend, result).Inc()
}
