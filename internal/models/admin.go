package models

import "time"

// Admin is an operator account for the management API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username    string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Password    string `gorm:"type:text;not null"`             // Hashed password.
	TOTPSecret  string `gorm:"type:text"`                      // Confirmed TOTP secret for MFA.
	TOTPPending string `gorm:"type:text"`                      // Secret awaiting confirmation.
	Active      bool   `gorm:"not null;default:true"`          // Whether the admin can sign in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
