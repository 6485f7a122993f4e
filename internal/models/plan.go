package models

import "time"

// Plan is the quota template referenced by licenses.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:varchar(100);not null;uniqueIndex"` // Unique plan name.
	DeviceLimit int    `gorm:"not null"`                               // Max bound fingerprints per license.
	Expires     string `gorm:"type:varchar(255);not null"`             // Descriptive expiry policy label.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
