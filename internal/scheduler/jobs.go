package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/schedule"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/transport"
)

// DefaultPattern is used when auto backup is enabled without a schedule.
const DefaultPattern = "0 2 * * *"

// Pause stops future dispatch of a job. A run already in flight finishes
// normally; next_run is kept as it was.
func (s *Scheduler) Pause(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.IsActive {
		return job, nil
	}

	job, err = s.store.PauseJob(ctx, id)
	if err != nil {
		return nil, err
	}

	s.log.Info("job_paused", "job_id", job.ID, "equipment_id", job.EquipmentID)
	s.record(&models.HistoryRecord{
		SubjectID: job.EquipmentID,
		Action:    models.ActionJobPause,
		Status:    models.HistorySuccess,
		Message:   "job paused",
		Details:   map[string]any{"job_id": job.ID},
	})
	return job, nil
}

// Resume re-enables a job with next_run computed from now.
func (s *Scheduler) Resume(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := schedule.Next(job.SchedulePattern, s.clock.Now())
	if err != nil {
		return nil, err
	}

	job, err = s.store.ResumeJob(ctx, id, next)
	if err != nil {
		return nil, err
	}

	s.log.Info("job_resumed", "job_id", job.ID, "equipment_id", job.EquipmentID, "next_run", next)
	s.record(&models.HistoryRecord{
		SubjectID: job.EquipmentID,
		Action:    models.ActionJobResume,
		Status:    models.HistorySuccess,
		Message:   fmt.Sprintf("job resumed, next run %s", next.UTC().Format("2006-01-02 15:04")),
		Details:   map[string]any{"job_id": job.ID, "next_run": next.UTC()},
	})
	return job, nil
}

// SyncJob brings the job of an equipment in line with its configuration:
// created or updated when auto backup is on, paused when it is off or the
// equipment cannot be backed up. A nil job means nothing is scheduled.
func (s *Scheduler) SyncJob(ctx context.Context, equipment *models.Equipment) (*models.Job, error) {
	existing, err := s.store.GetJobByEquipment(ctx, equipment.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		existing = nil
	}

	if !equipment.AutoBackupEnabled {
		if existing != nil && existing.IsActive {
			return s.Pause(ctx, existing.ID)
		}
		return existing, nil
	}

	pattern := strings.TrimSpace(equipment.AutoBackupSchedule)
	if pattern == "" {
		pattern = DefaultPattern
	}
	if err := schedule.Validate(pattern); err != nil {
		return nil, s.refuse(ctx, equipment, existing, err)
	}

	prof, ok := s.registry.Resolve(equipment.Type)
	if !ok {
		s.log.Info("equipment_type_unsupported", "equipment_id", equipment.ID, "type", equipment.Type)
		if existing != nil && existing.IsActive {
			return s.Pause(ctx, existing.ID)
		}
		return existing, nil
	}
	if err := transport.CheckAccess(prof.ConnectionType, equipment); err != nil {
		return nil, s.refuse(ctx, equipment, existing, err)
	}

	next, err := schedule.Next(pattern, s.clock.Now())
	if err != nil {
		return nil, s.refuse(ctx, equipment, existing, err)
	}

	if existing == nil {
		job := &models.Job{
			EquipmentID:     equipment.ID,
			SchedulePattern: pattern,
			IsActive:        true,
			NextRun:         &next,
			Status:          models.JobPending,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
		s.recordSchedule(job)
		return job, nil
	}

	changed := existing.SchedulePattern != pattern || !existing.IsActive || existing.NextRun == nil
	var nextRun *time.Time
	if changed {
		nextRun = &next
	}
	job, err := s.store.ScheduleJob(ctx, existing.ID, pattern, nextRun)
	if err != nil {
		return nil, err
	}
	if changed {
		s.recordSchedule(job)
	}
	return job, nil
}

// refuse records a configuration problem and pauses any existing job so it
// is not dispatched.
func (s *Scheduler) refuse(ctx context.Context, equipment *models.Equipment, existing *models.Job, err error) error {
	if !backuperr.Is(err, backuperr.KindConfiguration) {
		err = backuperr.Configuration("scheduler.sync_job", "%v", err)
	}
	if existing != nil && existing.IsActive {
		s.suspend(ctx, existing, err)
	} else {
		s.record(history.FromError(equipment.ID, models.ActionJobSchedule, err, nil))
	}
	return err
}

// suspend deactivates a job that cannot be scheduled.
func (s *Scheduler) suspend(ctx context.Context, job *models.Job, cause error) {
	if !backuperr.Is(cause, backuperr.KindConfiguration) {
		cause = backuperr.Configuration("scheduler.schedule", "%v", cause)
	}
	if err := s.store.SuspendJob(ctx, job.ID, backuperr.Message(cause)); err != nil {
		s.log.Error("job_suspend_failed", "job_id", job.ID, "error", err)
	}
	s.log.Warn("job_suspended", "job_id", job.ID, "equipment_id", job.EquipmentID, "error", cause.Error())
	s.record(history.FromError(job.EquipmentID, models.ActionJobSchedule, cause, map[string]any{"job_id": job.ID}))
}

func (s *Scheduler) recordSchedule(job *models.Job) {
	details := map[string]any{"job_id": job.ID, "pattern": job.SchedulePattern}
	msg := "job scheduled"
	if job.NextRun != nil {
		details["next_run"] = job.NextRun.UTC()
		msg = fmt.Sprintf("job scheduled, next run %s", job.NextRun.UTC().Format("2006-01-02 15:04"))
	}
	s.log.Info("job_scheduled", "job_id", job.ID, "equipment_id", job.EquipmentID, "pattern", job.SchedulePattern)
	s.record(&models.HistoryRecord{
		SubjectID: job.EquipmentID,
		Action:    models.ActionJobSchedule,
		Status:    models.HistorySuccess,
		Message:   msg,
		Details:   details,
	})
}
