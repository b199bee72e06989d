package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/store"
)

// SyncManager replicates active artifacts to a secondary provider.
type SyncManager struct {
	store     *store.Store
	providers *Providers
	recorder  history.Recorder
	group     singleflight.Group
	now       func() time.Time
}

// NewSyncManager creates a SyncManager.
func NewSyncManager(st *store.Store, providers *Providers, recorder history.Recorder) *SyncManager {
	if recorder == nil {
		recorder = history.Nop{}
	}
	return &SyncManager{store: st, providers: providers, recorder: recorder, now: time.Now}
}

// TriggerSync copies an artifact to providerID, or to the provider of its
// last attempt when providerID is empty. Concurrent calls for one artifact
// share a single run. Only not_synced and failed artifacts may sync.
func (s *SyncManager) TriggerSync(ctx context.Context, backupID, providerID string) (*models.Backup, error) {
	v, err, _ := s.group.Do(backupID, func() (any, error) {
		return s.sync(ctx, backupID, providerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Backup), nil
}

func (s *SyncManager) sync(ctx context.Context, backupID, providerID string) (*models.Backup, error) {
	b, err := s.store.GetBackup(ctx, backupID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("backup %s: %w", backupID, ErrNotFound)
		}
		return nil, err
	}
	if b.Status != models.BackupActive || !b.SyncStatus.CanTransition(models.SyncSyncing) {
		return nil, fmt.Errorf("%w: backup %s is %s/%s", ErrInvalidTransition, backupID, b.Status, b.SyncStatus)
	}

	if providerID == "" {
		providerID = b.SyncProviderID
	}
	if providerID == "" {
		return nil, backuperr.Configuration("backup.sync", "no sync provider given for backup %s", backupID)
	}
	if providerID == b.ProviderID {
		return nil, backuperr.Configuration("backup.sync", "sync provider must differ from the primary provider")
	}

	target, _, err := s.providers.Get(ctx, providerID)
	if err != nil {
		return nil, backuperr.Configuration("backup.sync", "sync provider unavailable: %v", err)
	}
	primary, _, err := s.providers.Get(ctx, b.ProviderID)
	if err != nil {
		return nil, backuperr.Configuration("backup.sync", "primary provider unavailable: %v", err)
	}

	won, err := s.store.BeginSync(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: backup %s is already syncing or no longer eligible", ErrInvalidTransition, backupID)
	}

	// The outcome must be persisted even if the caller goes away.
	persistCtx := context.WithoutCancel(ctx)
	started := s.now()

	remotePath, syncErr := s.upload(ctx, b, primary, target)
	if syncErr != nil {
		return nil, s.fail(persistCtx, b, providerID, syncErr, started)
	}

	if err := s.store.CompleteSync(persistCtx, backupID, providerID, remotePath, s.now()); err != nil {
		return nil, s.fail(persistCtx, b, providerID, fmt.Errorf("failed to record sync completion: %w", err), started)
	}
	s.record(persistCtx, b, providerID, nil, started)
	log.Printf("[Sync] Backup %s synced to %s at %s", backupID, providerID, remotePath)

	return s.store.GetBackup(persistCtx, backupID)
}

// fail moves the artifact out of syncing so the attempt can be retried.
func (s *SyncManager) fail(ctx context.Context, b *models.Backup, providerID string, syncErr error, started time.Time) error {
	if err := s.store.FailSync(ctx, b.ID, providerID, syncErr.Error()); err != nil {
		log.Printf("[Sync] Failed to record sync failure for %s: %v", b.ID, err)
	}
	s.record(ctx, b, providerID, syncErr, started)
	return backuperr.Sync("backup.sync", syncErr)
}

// upload re-verifies the local bytes, writes them to the deterministic path
// and checks the provider's checksum.
func (s *SyncManager) upload(ctx context.Context, b *models.Backup, primary, target provider.Provider) (string, error) {
	data, err := primary.Fetch(ctx, b.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read local artifact: %w", err)
	}
	if sum := provider.Checksum(data); sum != b.Checksum {
		return "", fmt.Errorf("local artifact checksum %s does not match recorded %s", sum, b.Checksum)
	}

	res, err := target.Store(ctx, bytes.NewReader(data), provider.ObjectPath(b.EquipmentID, b.FileName))
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if res.Checksum != b.Checksum {
		return "", fmt.Errorf("remote checksum %s does not match %s", res.Checksum, b.Checksum)
	}
	return res.Path, nil
}

func (s *SyncManager) record(ctx context.Context, b *models.Backup, providerID string, syncErr error, started time.Time) {
	details := map[string]any{
		"backup_id":   b.ID,
		"provider_id": providerID,
		"duration_ms": s.now().Sub(started).Milliseconds(),
	}
	var rec *models.HistoryRecord
	if syncErr != nil {
		rec = history.FromError(b.EquipmentID, models.ActionBackupSync, backuperr.Sync("backup.sync", syncErr), details)
	} else {
		rec = &models.HistoryRecord{
			SubjectID: b.EquipmentID,
			Action:    models.ActionBackupSync,
			Status:    models.HistorySuccess,
			Message:   fmt.Sprintf("synced %s to %s", b.FileName, providerID),
			Details:   details,
		}
	}
	if err := s.recorder.Record(ctx, rec); err != nil {
		log.Printf("[Sync] Failed to record history for %s: %v", b.ID, err)
	}
}

// RetryFailed re-triggers failed syncs that still have attempts left. It
// returns how many succeeded.
func (s *SyncManager) RetryFailed(ctx context.Context, maxAttempts int) (int, error) {
	candidates, err := s.store.ListSyncRetryCandidates(ctx, maxAttempts)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, b := range candidates {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := s.TriggerSync(ctx, b.ID, b.SyncProviderID); err != nil {
			log.Printf("[Sync] Retry of %s (attempt %d) failed: %v", b.ID, b.SyncAttempts+1, err)
			continue
		}
		synced++
	}
	return synced, nil
}
