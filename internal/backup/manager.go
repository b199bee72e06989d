// Package backup stores captured configuration artifacts on their primary
// provider, replicates them to secondary providers and enforces retention.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/executor"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/store"
)

var (
	// ErrNotFound is returned for unknown backups or providers.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a sync is requested from a state
	// that does not allow it.
	ErrInvalidTransition = errors.New("invalid sync transition")
	// ErrSyncInProgress is returned when deleting an artifact that is syncing.
	ErrSyncInProgress = errors.New("backup is being synced")
)

// Manager owns artifacts on their primary provider.
type Manager struct {
	store     *store.Store
	providers *Providers
	recorder  history.Recorder
	retention int
	now       func() time.Time
}

// NewManager creates a Manager. retention is the number of active
// artifacts kept per equipment; 0 keeps everything.
func NewManager(st *store.Store, providers *Providers, recorder history.Recorder, retention int) *Manager {
	if recorder == nil {
		recorder = history.Nop{}
	}
	return &Manager{
		store:     st,
		providers: providers,
		recorder:  recorder,
		retention: retention,
		now:       time.Now,
	}
}

// Capture writes an executor artifact to the primary provider, checks the
// provider agrees on the checksum and records it as active.
func (m *Manager) Capture(ctx context.Context, equipment *models.Equipment, jobID, providerID string, artifact *executor.Artifact) (*models.Backup, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, backuperr.Transfer("backup.capture", errors.New("no artifact to store"))
	}
	if provider.Checksum(artifact.Data) != artifact.Checksum {
		return nil, backuperr.Transfer("backup.capture", errors.New("artifact bytes do not match captured checksum"))
	}

	primary, resolvedID, err := m.providers.Get(ctx, providerID)
	if err != nil {
		return nil, backuperr.Configuration("backup.capture", "primary provider unavailable: %v", err)
	}

	id := uuid.New().String()
	fileName := uniqueFileName(artifact.FileName, id)
	dest := provider.ObjectPath(equipment.ID, fileName)
	inUse, err := m.store.ActiveBackupAtPath(ctx, resolvedID, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check artifact path: %w", err)
	}
	if inUse {
		return nil, backuperr.Transfer("backup.capture", fmt.Errorf("path %s already holds an active backup", dest))
	}

	res, err := primary.Store(ctx, bytes.NewReader(artifact.Data), dest)
	if err != nil {
		return nil, backuperr.Transfer("backup.capture", fmt.Errorf("failed to store artifact: %w", err))
	}
	if res.Checksum != artifact.Checksum || res.Size != artifact.Size {
		primary.Remove(context.WithoutCancel(ctx), res.Path)
		return nil, backuperr.Transfer("backup.capture", fmt.Errorf("provider stored %d bytes with checksum %s, expected %d bytes with %s",
			res.Size, res.Checksum, artifact.Size, artifact.Checksum))
	}

	b := &models.Backup{
		ID:           id,
		EquipmentID:  equipment.ID,
		JobID:        jobID,
		FileName:     fileName,
		FilePath:     res.Path,
		ProviderID:   resolvedID,
		ProviderType: primary.Type(),
		FileSize:     res.Size,
		Checksum:     res.Checksum,
		Status:       models.BackupActive,
		SyncStatus:   models.SyncNotSynced,
		CreatedAt:    m.now().UTC(),
	}
	if err := m.store.CreateBackup(ctx, b); err != nil {
		primary.Remove(context.WithoutCancel(ctx), res.Path)
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	log.Printf("[BackupMgr] Stored %s for equipment %s on %s (%d bytes)", b.FileName, equipment.ID, resolvedID, b.FileSize)

	if m.retention > 0 {
		if _, err := m.EnforceRetention(ctx, equipment.ID, m.retention); err != nil {
			log.Printf("[BackupMgr] Retention for equipment %s failed: %v", equipment.ID, err)
		}
	}
	return b, nil
}

// uniqueFileName tags name with the first block of the backup id so two
// captures taken in the same second never share an object.
func uniqueFileName(name, id string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	tag := id
	if i := strings.IndexByte(id, '-'); i > 0 {
		tag = id[:i]
	}
	return stem + "_" + tag + ext
}

// Get returns an artifact record.
func (m *Manager) Get(ctx context.Context, backupID string) (*models.Backup, error) {
	b, err := m.store.GetBackup(ctx, backupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("backup %s: %w", backupID, ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

// List returns active artifacts of an equipment, newest first.
func (m *Manager) List(ctx context.Context, equipmentID string) ([]*models.Backup, error) {
	return m.store.ListBackups(ctx, store.BackupFilter{EquipmentID: equipmentID})
}

// Fetch returns the stored bytes of an active artifact.
func (m *Manager) Fetch(ctx context.Context, backupID string) ([]byte, *models.Backup, error) {
	b, err := m.Get(ctx, backupID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != models.BackupActive {
		return nil, b, fmt.Errorf("backup %s: %w", backupID, ErrNotFound)
	}
	primary, _, err := m.providers.Get(ctx, b.ProviderID)
	if err != nil {
		return nil, b, err
	}
	data, err := primary.Fetch(ctx, b.FilePath)
	if err != nil {
		return nil, b, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, b, nil
}

// VerifyResult reports a checksum re-computation.
type VerifyResult struct {
	BackupID string `json:"backup_id"`
	Valid    bool   `json:"valid"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Size     int64  `json:"size"`
}

// Verify re-reads the artifact from its primary provider and compares the
// checksum with the recorded one.
func (m *Manager) Verify(ctx context.Context, backupID string) (*VerifyResult, error) {
	data, b, err := m.Fetch(ctx, backupID)
	if err != nil {
		return nil, err
	}
	actual := provider.Checksum(data)
	return &VerifyResult{
		BackupID: b.ID,
		Valid:    actual == b.Checksum && int64(len(data)) == b.FileSize,
		Expected: b.Checksum,
		Actual:   actual,
		Size:     int64(len(data)),
	}, nil
}

// Remove marks an artifact deleted and removes its bytes from the primary
// provider. Secondary copies are kept.
func (m *Manager) Remove(ctx context.Context, backupID string) error {
	b, err := m.Get(ctx, backupID)
	if err != nil {
		return err
	}
	if b.Status == models.BackupDeleted {
		return nil
	}
	if b.SyncStatus == models.SyncSyncing {
		return ErrSyncInProgress
	}

	changed, err := m.store.MarkBackupDeleted(ctx, backupID)
	if err != nil {
		return err
	}
	if !changed {
		return ErrSyncInProgress
	}

	primary, _, err := m.providers.Get(ctx, b.ProviderID)
	if err == nil {
		err = primary.Remove(ctx, b.FilePath)
		if errors.Is(err, provider.ErrNotFound) {
			err = nil
		}
	}

	rec := &models.HistoryRecord{
		SubjectID: b.EquipmentID,
		Action:    models.ActionBackupDelete,
		Status:    models.HistorySuccess,
		Message:   fmt.Sprintf("deleted %s", b.FileName),
		Details:   map[string]any{"backup_id": b.ID, "provider_id": b.ProviderID},
	}
	if err != nil {
		rec.Status = models.HistoryFailed
		rec.Message = fmt.Sprintf("marked %s deleted but could not remove stored bytes: %v", b.FileName, err)
		log.Printf("[BackupMgr] Failed to remove bytes of %s: %v", b.ID, err)
	}
	if recErr := m.recorder.Record(ctx, rec); recErr != nil {
		log.Printf("[BackupMgr] Failed to record deletion of %s: %v", b.ID, recErr)
	}
	return nil
}
