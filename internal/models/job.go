package models

import "time"

// JobStatus is the outcome state of a scheduled backup job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobPaused    JobStatus = "paused"
)

// Job is the recurring backup task of one equipment.
type Job struct {
	ID              string     `json:"id"`
	EquipmentID     string     `json:"equipment_id"`
	ProviderID      string     `json:"provider_id"`
	SchedulePattern string     `json:"schedule_pattern"`
	IsActive        bool       `json:"is_active"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
	Status          JobStatus  `json:"status"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsDue reports whether an active job should fire at now.
func (j *Job) IsDue(now time.Time) bool {
	if !j.IsActive || j.Status == JobRunning {
		return false
	}
	return j.NextRun == nil || !j.NextRun.After(now)
}
