package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/db"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/models"
	"github.com/router-for-me/LicenseGuard/internal/reconcile"
)

func TestRun_GenerateKeys(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-generate-keys", "3"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(lines))
	}
	for _, line := range lines {
		if !license.ValidKey(line) {
			t.Fatalf("expected well-formed key, got %q", line)
		}
	}
}

func TestRun_InvalidFlags(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-port", "0"}, &out); err == nil {
		t.Fatalf("expected error for port 0")
	}
	if err := run(context.Background(), []string{"-generate-keys", "-1"}, &out); err == nil {
		t.Fatalf("expected error for negative key count")
	}
}

func TestRun_ReconcileOnce(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "cli.db")
	configPath := filepath.Join(dir, "config.yaml")
	if errWrite := os.WriteFile(configPath, []byte("database-dsn: \""+dsn+"\"\n"), 0600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}

	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	plan := models.Plan{Name: "cli", DeviceLimit: 1, Expires: "1 day"}
	if errPlan := conn.Create(&plan).Error; errPlan != nil {
		t.Fatalf("create plan: %v", errPlan)
	}
	fps, _ := models.EncodeFingerprints(nil)
	if errLic := conn.Create(&models.License{
		ID:           "00000000-0000-0000-0000-0000000000c1",
		Key:          "LIC-CLI0-0000-0001",
		PlanID:       plan.ID,
		Fingerprints: fps,
		ExpiresAt:    time.Now().UTC().Add(-time.Hour),
	}).Error; errLic != nil {
		t.Fatalf("create license: %v", errLic)
	}
	_ = db.Close(conn)

	var out bytes.Buffer
	if errRun := run(context.Background(), []string{"-config", configPath, "-reconcile"}, &out); errRun != nil {
		t.Fatalf("run: %v", errRun)
	}
	var result reconcile.Result
	if errDecode := json.Unmarshal(out.Bytes(), &result); errDecode != nil {
		t.Fatalf("decode output %q: %v", out.String(), errDecode)
	}
	if result.ExpiresSet != 1 || result.AliveSet != 0 {
		t.Fatalf("expected one expired transition, got %+v", result)
	}
}
