// Package store persists equipment, providers, jobs and backups in SQLite.
// Credentials are sealed with the encryption manager before they reach disk.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/network-backup-manager/internal/crypto"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides CRUD over the backup manager tables.
type Store struct {
	db  *sql.DB
	enc *crypto.EncryptionManager
	now func() time.Time
}

// New creates a Store. enc may be nil to store credentials in plain text.
func New(db *sql.DB, enc *crypto.EncryptionManager) *Store {
	return &Store{db: db, enc: enc, now: time.Now}
}

// DB exposes the connection for components that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) seal(value string) (string, error) {
	if s.enc == nil {
		return value, nil
	}
	sealed, err := s.enc.SealString(value)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credential: %w", err)
	}
	return sealed, nil
}

func (s *Store) open(value string) (string, error) {
	if s.enc == nil {
		return value, nil
	}
	plain, err := s.enc.OpenString(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return plain, nil
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}
