package models

import "time"

// Event types published to live subscribers.
const (
	EventJobStarted      = "job.started"
	EventJobFinished     = "job.finished"
	EventJobDeferred     = "job.deferred"
	EventSyncFinished    = "sync.finished"
	EventConnectivityRun = "connectivity.finished"
)

// Event is a state change pushed to live subscribers.
type Event struct {
	Type        string    `json:"type"`
	EquipmentID string    `json:"equipment_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	BackupID    string    `json:"backup_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}
