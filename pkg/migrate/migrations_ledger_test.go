package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/assetledger-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestEntitlementRecordsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_entitlement_records")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS entitlement_records",
		"CONSTRAINT uq_entitlement_records_user_asset_status UNIQUE (user_id, asset_id, status)",
		"CHECK (points_spent >= 0)",
		"CHECK (cost_amount >= 0)",
		"cost_amount NUMERIC(12,2) NOT NULL DEFAULT 0",
		"WHERE status = 'completed' AND revoked_at IS NULL",
		"DROP TABLE IF EXISTS entitlement_records",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAccessLogMigrationIsUniquePerPair(t *testing.T) {
	content := readMigration(t, "create_entitlement_access_logs")

	checks := []string{
		"CONSTRAINT uq_entitlement_access_logs_user_asset UNIQUE (user_id, asset_id)",
		"last_user_agent VARCHAR(255)",
		"DROP TABLE IF EXISTS entitlement_access_logs",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestViewEventsMigrationHasNoUniqueConstraint(t *testing.T) {
	content := readMigration(t, "create_asset_view_events")

	if strings.Contains(strings.ToUpper(content), "UNIQUE") {
		t.Fatalf("view events must stay constraint free")
	}
	for _, sub := range []string{
		"ON asset_view_events (asset_id, user_id, occurred_at)",
		"ON asset_view_events (asset_id, session_id, occurred_at)",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected index %q", sub)
		}
	}
}

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Asset Checksum!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_asset_checksum.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestValidateDirChecksStatementBlocks(t *testing.T) {
	cases := map[string]string{
		"missing down":     "-- +goose Up\nSELECT 1;\n",
		"down before up":   "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n",
		"unterminated":     "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\nSELECT 1;\n",
		"stray end":        "-- +goose Up\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\n",
		"nested statement": "-- +goose Up\n-- +goose StatementBegin\n-- +goose StatementBegin\n-- +goose StatementEnd\n-- +goose Down\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "20260101000000_broken.sql"), []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := migrate.ValidateDir(dir); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateSQLMigrationOrdersAfterExisting(t *testing.T) {
	dir := t.TempDir()
	future := "29991231235959_later.sql"
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, future), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	path, err := migrate.CreateSQLMigration(dir, "next")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if base := filepath.Base(path); base <= future {
		t.Fatalf("expected %s to sort after %s", base, future)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestMigrateToVersionRejectsBadVersion(t *testing.T) {
	if err := migrate.MigrateToVersion(context.Background(), nil, "migrations", "12"); err == nil {
		t.Fatal("expected invalid version error")
	}
}
