package backup

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/yourusername/network-backup-manager/internal/models"
)

// RetentionStats summarizes what a retention run would do.
type RetentionStats struct {
	TotalBackups    int   `json:"total_backups"`
	RetentionLimit  int   `json:"retention_limit"`
	BackupsToDelete int   `json:"backups_to_delete"`
	TotalSizeBytes  int64 `json:"total_size_bytes"`
	WillDeleteSize  int64 `json:"will_delete_size"`
}

// EnforceRetention keeps the newest keep artifacts of an equipment and
// removes the rest. Artifacts that are syncing are skipped this round.
func (m *Manager) EnforceRetention(ctx context.Context, equipmentID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	backups, err := m.List(ctx, equipmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to list backups: %w", err)
	}
	if len(backups) <= keep {
		return 0, nil
	}

	sortNewestFirst(backups)

	deleted := 0
	for _, b := range backups[keep:] {
		if b.SyncStatus == models.SyncSyncing {
			continue
		}
		log.Printf("[Retention] Deleting old backup: %s (created: %s)", b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"))
		if err := m.Remove(ctx, b.ID); err != nil {
			log.Printf("[Retention] Error deleting backup %s: %v", b.ID, err)
			continue
		}
		deleted++
	}

	log.Printf("[Retention] Equipment %s: deleted %d backups (keep %d)", equipmentID, deleted, keep)
	return deleted, nil
}

// RetentionStats reports how many artifacts a retention run would remove.
func (m *Manager) RetentionStats(ctx context.Context, equipmentID string, keep int) (*RetentionStats, error) {
	backups, err := m.List(ctx, equipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	stats := &RetentionStats{TotalBackups: len(backups), RetentionLimit: keep}
	for _, b := range backups {
		stats.TotalSizeBytes += b.FileSize
	}
	if keep > 0 && len(backups) > keep {
		sortNewestFirst(backups)
		stats.BackupsToDelete = len(backups) - keep
		for _, b := range backups[keep:] {
			stats.WillDeleteSize += b.FileSize
		}
	}
	return stats, nil
}

func sortNewestFirst(backups []*models.Backup) {
	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
}
