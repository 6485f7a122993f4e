package db

import (
	"fmt"

	"github.com/router-for-me/LicenseGuard/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Plan{},
		&models.License{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errFingerprintDefault := conn.Exec(`
		UPDATE licenses
		SET fingerprints = '[]'::jsonb
		WHERE fingerprints IS NULL
	`).Error; errFingerprintDefault != nil {
		return fmt.Errorf("db: backfill license fingerprints: %w", errFingerprintDefault)
	}
	if errFingerprintIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_licenses_fingerprints
		ON licenses USING GIN (fingerprints)
	`).Error; errFingerprintIdx != nil {
		return fmt.Errorf("db: create fingerprint index: %w", errFingerprintIdx)
	}
	if errSweepIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_licenses_expiry_sweep
		ON licenses (is_expired, expires_at)
	`).Error; errSweepIdx != nil {
		return fmt.Errorf("db: create expiry sweep index: %w", errSweepIdx)
	}
	if errPlanLimit := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_plans_device_limit_positive'
			) THEN
				ALTER TABLE plans
				ADD CONSTRAINT chk_plans_device_limit_positive CHECK (device_limit > 0);
			END IF;
		END $$;
	`).Error; errPlanLimit != nil {
		return fmt.Errorf("db: add plan limit check: %w", errPlanLimit)
	}
	return nil
}

// migrateSQLite applies the SQLite schema.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Plan{},
		&models.License{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errFingerprintDefault := conn.Exec(`
		UPDATE licenses
		SET fingerprints = '[]'
		WHERE fingerprints IS NULL OR fingerprints = ''
	`).Error; errFingerprintDefault != nil {
		return fmt.Errorf("db: backfill license fingerprints: %w", errFingerprintDefault)
	}
	if errSweepIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_licenses_expiry_sweep
		ON licenses (is_expired, expires_at)
	`).Error; errSweepIdx != nil {
		return fmt.Errorf("db: create expiry sweep index: %w", errSweepIdx)
	}
	return nil
}
