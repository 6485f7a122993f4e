// Package reconcile keeps the denormalized is_expired flag in step with
// expires_at.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/metrics"
	"github.com/router-for-me/LicenseGuard/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultRunTimeout = 30 * time.Second

// Result reports how many rows changed state in one pass.
type Result struct {
	AliveSet   int64 `json:"aliveSet"`
	ExpiresSet int64 `json:"expiresSet"`
}

// Reconciler flips is_expired for licenses that crossed their expiry
// boundary. It never touches the lookup cache.
type Reconciler struct {
	db       *gorm.DB
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconciler constructs a reconciler. interval <= 0 disables Start.
func NewReconciler(db *gorm.DB, interval time.Duration, m *metrics.Metrics) *Reconciler {
	if db == nil {
		return nil
	}
	return &Reconciler{
		db:       db,
		interval: interval,
		timeout:  defaultRunTimeout,
		metrics:  m,
		now:      time.Now,
	}
}

// Start runs the reconcile loop in the background until ctx ends.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil || r.interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("expiry reconciler started (interval=%s)", r.interval)
}

func (r *Reconciler) run(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		log.WithError(err).Warn("expiry reconciler: initial run failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				log.WithError(err).Warn("expiry reconciler: run failed")
			}
		}
	}
}

// RunOnce applies both transitions in one transaction.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	if r == nil || r.db == nil {
		return Result{}, fmt.Errorf("expiry reconciler: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clock := r.now
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var result Result
	errTx := r.db.WithContext(runCtx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.License{}).
			Where("expires_at <= ? AND is_expired = ?", now, false).
			Updates(map[string]any{"is_expired": true, "updated_at": now})
		if expired.Error != nil {
			return fmt.Errorf("flag expired licenses: %w", expired.Error)
		}
		alive := tx.Model(&models.License{}).
			Where("expires_at > ? AND is_expired = ?", now, true).
			Updates(map[string]any{"is_expired": false, "updated_at": now})
		if alive.Error != nil {
			return fmt.Errorf("clear expired flag: %w", alive.Error)
		}
		result = Result{AliveSet: alive.RowsAffected, ExpiresSet: expired.RowsAffected}
		return nil
	})
	r.metrics.ObserveReconcile(result.AliveSet, result.ExpiresSet, errTx)
	if errTx != nil {
		return Result{}, fmt.Errorf("expiry reconciler: %w", errTx)
	}
	if result.AliveSet > 0 || result.ExpiresSet > 0 {
		log.Infof("expiry reconciler: aliveSet=%d expiresSet=%d", result.AliveSet, result.ExpiresSet)
	}
	return result, nil
}
