package migrate_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/enrollpay-backend/pkg/config"
	"github.com/angelmondragon/enrollpay-backend/pkg/db"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
	"github.com/angelmondragon/enrollpay-backend/pkg/migrate"
)

func TestPaymentsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"CHECK (amount > 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_receipt_id",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_idempotency_key",
		"DROP TABLE IF EXISTS payments",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestRefundsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_refunds.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS refunds",
		"FOREIGN KEY (payment_record_id) REFERENCES payments(id) ON DELETE CASCADE",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_refunds_refund_id",
		"DROP TABLE IF EXISTS refunds",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateDir(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("migrations should validate: %v", err)
	}
	if err := migrate.ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations should validate: %v", err)
	}
}

func TestValidateFSRejectsBadMigrations(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"m/create_things.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"m/20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"m/20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"empty": {
			"m/README.md": {Data: []byte("nothing here")},
		},
	}
	for name, fsys := range cases {
		if err := migrate.ValidateFS(fsys, "m"); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payment Notes!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payment_notes.sql") {
		t.Fatalf("unexpected file name %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for a name without usable characters")
	}
}

func TestMigrationsApplyOnSQLite(t *testing.T) {
	for name, dir := range map[string]string{"disk": "migrations", "embedded": ""} {
		t.Run(name, func(t *testing.T) { applyAndRollback(t, dir) })
	}
}

func applyAndRollback(t *testing.T, dir string) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	ctx := context.Background()
	if err := migrate.Run(ctx, sqlDB, "sqlite3", dir, "up"); err != nil {
		t.Fatalf("goose up: %v", err)
	}
	for _, table := range []string{"payments", "refunds"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s after up", table)
		}
	}
	if err := migrate.Run(ctx, sqlDB, "sqlite3", dir, "down-to", "0"); err != nil {
		t.Fatalf("goose down-to: %v", err)
	}
	if conn.Migrator().HasTable("payments") {
		t.Fatal("expected payments table dropped after down-to 0")
	}
	if err := migrate.Run(ctx, sqlDB, "sqlite3", dir, "fix"); err == nil {
		t.Fatal("expected unsupported command to be rejected")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestAutoMigrateOnlyInDev(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	client := db.NewFromConn(conn)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := &config.Config{
		App:          config.AppConfig{Env: "prod"},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}

	ran, err := migrate.AutoMigrate(context.Background(), cfg, logg, client)
	if err != nil || ran {
		t.Fatalf("prod must not auto-migrate, ran=%v err=%v", ran, err)
	}

	cfg.App.Env = "dev"
	ran, err = migrate.AutoMigrate(context.Background(), cfg, logg, client)
	if err != nil || !ran {
		t.Fatalf("dev should auto-migrate, ran=%v err=%v", ran, err)
	}
	if !conn.Migrator().HasTable("refunds") {
		t.Fatal("expected refunds table after auto-migrate")
	}
}
