package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/network-backup-manager/internal/models"
)

const backupColumns = `
	id, equipment_id, job_id, file_name, file_path, provider_id, provider_type, file_size,
	checksum, status, sync_status, sync_provider_id, sync_provider_path, sync_error,
	sync_attempts, last_sync_date, created_at`

// maxSyncError bounds the stored sync error text.
const maxSyncError = 2048

// CreateBackup inserts an artifact record.
func (s *Store) CreateBackup(ctx context.Context, b *models.Backup) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = models.BackupActive
	}
	if b.SyncStatus == "" {
		b.SyncStatus = models.SyncNotSynced
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.timestamp()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (`+backupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.EquipmentID, nullString(b.JobID), b.FileName, b.FilePath, nullString(b.ProviderID),
		string(b.ProviderType), b.FileSize, b.Checksum, string(b.Status), string(b.SyncStatus),
		nullString(b.SyncProviderID), nullString(b.SyncProviderPath), nullString(b.SyncError),
		b.SyncAttempts, nullTime(b.LastSyncDate), b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}

// ActiveBackupAtPath reports whether an active artifact on providerID is
// stored at filePath.
func (s *Store) ActiveBackupAtPath(ctx context.Context, providerID, filePath string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backups
		WHERE COALESCE(provider_id, '') = ? AND file_path = ? AND status = ?
	`, providerID, filePath, string(models.BackupActive)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query backup path: %w", err)
	}
	return n > 0, nil
}

// GetBackup loads one artifact record.
func (s *Store) GetBackup(ctx context.Context, id string) (*models.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err != nil {
		return nil, notFound(err, "backup", id)
	}
	return b, nil
}

// BackupFilter narrows ListBackups.
type BackupFilter struct {
	EquipmentID    string
	SyncStatus     models.SyncStatus
	IncludeDeleted bool
	Limit          int
}

// ListBackups returns artifact records newest first.
func (s *Store) ListBackups(ctx context.Context, f BackupFilter) ([]*models.Backup, error) {
	var (
		where []string
		args  []any
	)
	if f.EquipmentID != "" {
		where = append(where, "equipment_id = ?")
		args = append(args, f.EquipmentID)
	}
	if f.SyncStatus != "" {
		where = append(where, "sync_status = ?")
		args = append(args, string(f.SyncStatus))
	}
	if !f.IncludeDeleted {
		where = append(where, "status = ?")
		args = append(args, string(models.BackupActive))
	}

	query := `SELECT ` + backupColumns + ` FROM backups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var list []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// MarkBackupDeleted flips an active artifact to deleted. It reports whether
// the row changed.
func (s *Store) MarkBackupDeleted(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET status = ? WHERE id = ? AND status = ? AND sync_status != ?
	`, string(models.BackupDeleted), id, string(models.BackupActive), string(models.SyncSyncing))
	if err != nil {
		return false, fmt.Errorf("failed to delete backup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BeginSync atomically moves an active artifact from not_synced or failed
// to syncing and counts the attempt. It reports whether this caller won.
func (s *Store) BeginSync(ctx context.Context, id string) (bool, error) {
	sources := models.SyncSources(models.SyncSyncing)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")

	args := []any{string(models.SyncSyncing), id, string(models.BackupActive)}
	for _, src := range sources {
		args = append(args, string(src))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET sync_status = ?, sync_attempts = sync_attempts + 1
		WHERE id = ? AND status = ? AND sync_status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to begin sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteSync moves syncing to synced, recording where the copy lives.
func (s *Store) CompleteSync(ctx context.Context, id, providerID, remotePath string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET sync_status = ?, sync_provider_id = ?, sync_provider_path = ?,
			last_sync_date = ?, sync_error = NULL
		WHERE id = ? AND sync_status = ?
	`, string(models.SyncSynced), providerID, remotePath, at.UTC(), id, string(models.SyncSyncing))
	if err != nil {
		return fmt.Errorf("failed to complete sync: %w", err)
	}
	return requireAffected(res, "syncing backup", id)
}

// FailSync moves syncing to failed with the error text.
func (s *Store) FailSync(ctx context.Context, id, providerID, message string) error {
	if len(message) > maxSyncError {
		message = message[:maxSyncError]
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET sync_status = ?, sync_provider_id = ?, sync_error = ?
		WHERE id = ? AND sync_status = ?
	`, string(models.SyncFailed), nullString(providerID), message, id, string(models.SyncSyncing))
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return requireAffected(res, "syncing backup", id)
}

// ResetStaleSyncs fails syncs interrupted by a restart.
func (s *Store) ResetStaleSyncs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups SET sync_status = ?, sync_error = ? WHERE sync_status = ?
	`, string(models.SyncFailed), "sync interrupted by restart", string(models.SyncSyncing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale syncs: %w", err)
	}
	return res.RowsAffected()
}

// ListSyncRetryCandidates returns failed syncs with attempts left.
func (s *Store) ListSyncRetryCandidates(ctx context.Context, maxAttempts int) ([]*models.Backup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+backupColumns+` FROM backups
		WHERE status = ? AND sync_status = ? AND sync_attempts < ? AND sync_provider_id IS NOT NULL
		ORDER BY created_at
	`, string(models.BackupActive), string(models.SyncFailed), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync retries: %w", err)
	}
	defer rows.Close()

	var list []*models.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func scanBackup(row rowScanner) (*models.Backup, error) {
	var (
		b                                         models.Backup
		jobID, providerID                         sql.NullString
		providerType, status, syncStatus          string
		syncProviderID, syncProviderPath, syncErr sql.NullString
		lastSync                                  sql.NullTime
	)
	if err := row.Scan(
		&b.ID, &b.EquipmentID, &jobID, &b.FileName, &b.FilePath, &providerID, &providerType, &b.FileSize,
		&b.Checksum, &status, &syncStatus, &syncProviderID, &syncProviderPath, &syncErr,
		&b.SyncAttempts, &lastSync, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.JobID = jobID.String
	b.ProviderID = providerID.String
	b.ProviderType = models.ProviderType(providerType)
	b.Status = models.BackupStatus(status)
	b.SyncStatus = models.SyncStatus(syncStatus)
	b.SyncProviderID = syncProviderID.String
	b.SyncProviderPath = syncProviderPath.String
	b.SyncError = syncErr.String
	b.LastSyncDate = timePtr(lastSync)
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
