package database

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBAndMigrate(t *testing.T) {
	db := openTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count); err != nil {
		t.Fatalf("failed to query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), count)
	}

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate should be a no-op: %v", err)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	if _, err := db.Exec("INSERT INTO history (subject_id, action, status) VALUES ('eq-1', 'backup.execute', 'success')"); err != nil {
		t.Fatalf("failed to insert history: %v", err)
	}
	if _, err := db.Exec("UPDATE history SET status = 'failed'"); err == nil {
		t.Fatalf("expected update on history to be rejected")
	}
}
