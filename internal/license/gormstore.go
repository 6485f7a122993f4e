package license

import (
	"context"
	"errors"
	"fmt"

	internaldb "github.com/router-for-me/LicenseGuard/internal/db"
	"github.com/router-for-me/LicenseGuard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxBindAttempts bounds transaction restarts after a revision conflict.
const maxBindAttempts = 5

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a gorm-backed license store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Bind loads the license and plan, decides, and appends fp when admitted,
// all inside one transaction. The append is a compare-and-set on Revision;
// a lost race restarts the transaction.
func (s *GormStore) Bind(ctx context.Context, key, fp string, gate Gate) (BindResult, error) {
	if s == nil || s.db == nil {
		return BindResult{}, fmt.Errorf("%w: nil database", ErrStoreUnavailable)
	}
	for attempt := 0; attempt < maxBindAttempts; attempt++ {
		res, err := s.bindOnce(ctx, key, fp, gate)
		if errors.Is(err, errRevisionConflict) {
			continue
		}
		return res, err
	}
	return BindResult{}, fmt.Errorf("%w: %w after %d attempts", ErrStoreUnavailable, errRevisionConflict, maxBindAttempts)
}

func (s *GormStore) bindOnce(ctx context.Context, key, fp string, gate Gate) (BindResult, error) {
	var res BindResult
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snap, errLoad := loadSnapshot(tx, key)
		if errLoad != nil {
			return errLoad
		}

		outcome, reason, admit := snap.Decide(fp, gate)
		if !admit {
			res = BindResult{Outcome: outcome, Reason: reason, Snapshot: snap}
			return nil
		}

		next := append(append([]string{}, snap.Fingerprints...), fp)
		encoded, errEncode := models.EncodeFingerprints(next)
		if errEncode != nil {
			return errEncode
		}
		usedAt := gate.Now
		update := tx.Model(&models.License{}).
			Where("id = ? AND revision = ?", snap.LicenseID, snap.Revision).
			Updates(map[string]any{
				"fingerprints": encoded,
				"revision":     snap.Revision + 1,
				"used_at":      &usedAt,
				"updated_at":   gate.Now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return errRevisionConflict
		}

		snap.Fingerprints = next
		snap.Revision++
		res = BindResult{Outcome: OutcomeValid, Snapshot: snap, Mutated: true}
		return nil
	})
	if errTx != nil {
		switch {
		case errors.Is(errTx, ErrNotFound), errors.Is(errTx, ErrPlanUnresolved), errors.Is(errTx, errRevisionConflict):
			return BindResult{}, errTx
		default:
			return BindResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, errTx)
		}
	}
	return res, nil
}

// loadSnapshot reads the license row, locking it where the dialect allows,
// and resolves its plan.
func loadSnapshot(tx *gorm.DB, key string) (Snapshot, error) {
	query := tx
	if internaldb.SupportsRowLocks(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row models.License
	if errFind := query.Where("license_key = ?", key).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, errFind
	}

	var plan models.Plan
	if errPlan := tx.Where("id = ?", row.PlanID).Take(&plan).Error; errPlan != nil {
		if errors.Is(errPlan, gorm.ErrRecordNotFound) {
			return Snapshot{}, ErrPlanUnresolved
		}
		return Snapshot{}, errPlan
	}
	if plan.DeviceLimit <= 0 {
		return Snapshot{}, ErrPlanUnresolved
	}

	fingerprints, errDecode := row.FingerprintList()
	if errDecode != nil {
		return Snapshot{}, fmt.Errorf("decode fingerprints: %w", errDecode)
	}
	return Snapshot{
		LicenseID:    row.ID,
		PlanID:       plan.ID,
		DeviceLimit:  plan.DeviceLimit,
		Fingerprints: fingerprints,
		ExpiresAt:    row.ExpiresAt.UTC(),
		IsExpired:    row.IsExpired,
		Revision:     row.Revision,
	}, nil
}
