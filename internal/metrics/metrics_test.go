package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOutcome("valid")
	m.ObserveCache(CacheHit)
	m.ObserveStore(time.Millisecond)
	m.ObserveReconcile(1, 2, nil)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOutcome("valid")
	m.ObserveOutcome("valid")
	m.ObserveOutcome("limit")
	if got := testutil.ToFloat64(m.VerifyOutcomes.WithLabelValues("valid")); got != 2 {
		t.Fatalf("expected 2 valid outcomes, got %v", got)
	}

	m.ObserveReconcile(3, 4, nil)
	m.ObserveReconcile(0, 0, errors.New("boom"))
	if got := testutil.ToFloat64(m.ReconcileTransitions.WithLabelValues(TransitionAlive)); got != 3 {
		t.Fatalf("expected 3 alive transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReconcileTransitions.WithLabelValues(TransitionExpired)); got != 4 {
		t.Fatalf("expected 4 expired transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ReconcileRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
}
