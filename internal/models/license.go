package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// License is a purchased entitlement bound to a set of device fingerprints.
type License struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // UUID primary key.

	Key string `gorm:"column:license_key;type:varchar(32);not null;uniqueIndex"` // LIC-XXXX-XXXX-XXXX.

	PlanID uint64 `gorm:"not null;index"`                                                  // Owning plan ID.
	Plan   *Plan  `gorm:"foreignKey:PlanID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"` // Owning plan.

	Fingerprints datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Bound device fingerprints.
	Revision     int64          `gorm:"not null;default:0"`               // Bumped on every fingerprint write.

	ExpiresAt time.Time  `gorm:"not null;index"`               // Absolute expiry instant.
	IsExpired bool       `gorm:"not null;default:false;index"` // Reconciled expiry flag.
	UsedAt    *time.Time `gorm:"column:used_at"`               // Last admission time.
	CreatedAt time.Time  `gorm:"not null;autoCreateTime"`      // Creation timestamp.
	UpdatedAt time.Time  `gorm:"not null;autoUpdateTime"`      // Last update timestamp.
}

// FingerprintList decodes the bound fingerprint set.
func (l *License) FingerprintList() ([]string, error) {
	if l == nil || len(l.Fingerprints) == 0 {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal(l.Fingerprints, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// EncodeFingerprints encodes a fingerprint set for the Fingerprints column.
func EncodeFingerprints(fingerprints []string) (datatypes.JSON, error) {
	if fingerprints == nil {
		fingerprints = []string{}
	}
	raw, err := json.Marshal(fingerprints)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
