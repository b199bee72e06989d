// Package storetest opens migrated throwaway databases for tests.
package storetest

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/yourusername/network-backup-manager/internal/crypto"
	"github.com/yourusername/network-backup-manager/internal/database"
	"github.com/yourusername/network-backup-manager/internal/store"
)

// Key is the encryption key used by New.
var Key = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

// New returns a Store over a fresh migrated database in t.TempDir().
func New(t testing.TB) *store.Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "backups.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	enc, err := crypto.NewEncryptionManagerWithKey(Key)
	if err != nil {
		t.Fatalf("failed to create encryption manager: %v", err)
	}
	return store.New(db.DB, enc)
}
