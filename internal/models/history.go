package models

import "time"

// History actions.
const (
	ActionBackupExecute    = "backup.execute"
	ActionBackupSync       = "backup.sync"
	ActionBackupDelete     = "backup.delete"
	ActionConnectivityTest = "connectivity.test"
	ActionJobSchedule      = "job.schedule"
	ActionJobPause         = "job.pause"
	ActionJobResume        = "job.resume"
	ActionSchedulerFault   = "scheduler.fault"
)

// History statuses.
const (
	HistorySuccess = "success"
	HistoryFailed  = "failed"
	HistoryStarted = "started"
	HistorySkipped = "skipped"
)

// HistoryRecord is an append-only ledger entry.
type HistoryRecord struct {
	ID        int64          `json:"id"`
	SubjectID string         `json:"subject_id"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	ErrorKind string         `json:"error_kind,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
