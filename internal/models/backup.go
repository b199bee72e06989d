package models

import "time"

// BackupStatus is the lifecycle state of a stored artifact.
type BackupStatus string

const (
	BackupActive  BackupStatus = "active"
	BackupDeleted BackupStatus = "deleted"
)

// SyncStatus tracks replication of an artifact to a secondary provider.
type SyncStatus string

const (
	SyncNotSynced SyncStatus = "not_synced"
	SyncSyncing   SyncStatus = "syncing"
	SyncSynced    SyncStatus = "synced"
	SyncFailed    SyncStatus = "failed"
)

var syncTransitions = map[SyncStatus][]SyncStatus{
	SyncNotSynced: {SyncSyncing},
	SyncSyncing:   {SyncSynced, SyncFailed},
	SyncFailed:    {SyncSyncing},
}

// CanTransition reports whether from -> to is a legal sync transition.
func (from SyncStatus) CanTransition(to SyncStatus) bool {
	for _, allowed := range syncTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SyncSources returns the states from which to can be entered.
func SyncSources(to SyncStatus) []SyncStatus {
	var sources []SyncStatus
	for _, from := range []SyncStatus{SyncNotSynced, SyncSyncing, SyncSynced, SyncFailed} {
		if from.CanTransition(to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Backup is a captured configuration artifact.
type Backup struct {
	ID               string       `json:"id"`
	EquipmentID      string       `json:"equipment_id"`
	JobID            string       `json:"job_id,omitempty"`
	FileName         string       `json:"file_name"`
	FilePath         string       `json:"file_path"`
	ProviderID       string       `json:"provider_id"`
	ProviderType     ProviderType `json:"provider_type"`
	FileSize         int64        `json:"file_size"`
	Checksum         string       `json:"checksum"`
	Status           BackupStatus `json:"status"`
	SyncStatus       SyncStatus   `json:"sync_status"`
	SyncProviderID   string       `json:"sync_provider_id,omitempty"`
	SyncProviderPath string       `json:"sync_provider_path,omitempty"`
	SyncError        string       `json:"sync_error,omitempty"`
	SyncAttempts     int          `json:"sync_attempts"`
	LastSyncDate     *time.Time   `json:"last_sync_date,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}
