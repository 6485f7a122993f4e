package db

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/router-for-me/LicenseGuard/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	conn, err := Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = Close(conn) })
	return conn
}

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	conn := openTestDB(t)
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if SupportsRowLocks(conn) {
		t.Fatalf("expected sqlite to skip row locks")
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	// A second run must be a no-op.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate again: %v", errMigrate)
	}
	for _, table := range []string{"admins", "plans", "licenses"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %q", table)
		}
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestJSONArrayContains_SQLite(t *testing.T) {
	conn := openTestDB(t)
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	plan := models.Plan{Name: "basic", DeviceLimit: 2, Expires: "30 days"}
	if errCreate := conn.Create(&plan).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	fps, _ := models.EncodeFingerprints([]string{"device-aaaaaaaa", "device-bbbbbbbb"})
	lic := models.License{
		ID:           "00000000-0000-0000-0000-000000000001",
		Key:          "LIC-AAAA-BBBB-CCCC",
		PlanID:       plan.ID,
		Fingerprints: fps,
		ExpiresAt:    time.Now().UTC().Add(24 * time.Hour),
	}
	if errCreate := conn.Create(&lic).Error; errCreate != nil {
		t.Fatalf("create license: %v", errCreate)
	}

	var count int64
	expr := JSONArrayContainsExpr(conn, "fingerprints")
	if errCount := conn.Model(&models.License{}).
		Where(expr, JSONArrayContainsValue(conn, "device-bbbbbbbb")).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 match, got %d", count)
	}
	if errCount := conn.Model(&models.License{}).
		Where(expr, JSONArrayContainsValue(conn, "device-cccccccc")).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected 0 matches, got %d", count)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	conn := openTestDB(t)
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	if errCreate := conn.Create(&models.Plan{Name: "dup", DeviceLimit: 1, Expires: "1 day"}).Error; errCreate != nil {
		t.Fatalf("create plan: %v", errCreate)
	}
	errDup := conn.Create(&models.Plan{Name: "dup", DeviceLimit: 1, Expires: "1 day"}).Error
	if errDup == nil {
		t.Fatalf("expected duplicate error")
	}
	if !IsUniqueViolation(errDup) {
		t.Fatalf("expected unique violation, got %v", errDup)
	}

	pgErr := fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(pgErr) {
		t.Fatalf("expected pg 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("expected foreign key violation to be rejected")
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Fatalf("expected unrelated errors to be rejected")
	}
}

func TestCaseInsensitiveLikeExpr(t *testing.T) {
	conn := openTestDB(t)
	if got := CaseInsensitiveLikeExpr(conn, "license_key"); got != "LOWER(license_key) LIKE ?" {
		t.Fatalf("unexpected sqlite like expr: %q", got)
	}
	if got := NormalizeLikePattern(conn, "%LIC-AB%"); got != "%lic-ab%" {
		t.Fatalf("unexpected pattern: %q", got)
	}
}
