package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/network-backup-manager/internal/models"
)

const jobColumns = `
	id, equipment_id, provider_id, schedule_pattern, is_active, last_run, next_run,
	status, last_error, created_at, updated_at`

// CreateJob inserts j. Each equipment owns at most one job.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = models.JobPending
	}
	now := s.timestamp()
	j.CreatedAt, j.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID, j.EquipmentID, nullString(j.ProviderID), j.SchedulePattern, j.IsActive,
		nullTime(j.LastRun), nullTime(j.NextRun), string(j.Status), nullString(j.LastError),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// The updates below each touch only the columns their caller owns. status
// and last_run belong to MarkJobRunning and FinishJob, so a run finishing
// between a read and one of these writes is never undone.

// PauseJob deactivates a job. A running job keeps its status until
// FinishJob moves it to paused.
func (s *Store) PauseJob(ctx context.Context, id string) (*models.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET
			is_active = 0,
			status = CASE WHEN status != ? THEN ? ELSE status END,
			updated_at = ?
		WHERE id = ?
	`, string(models.JobRunning), string(models.JobPaused), s.timestamp(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to pause job: %w", err)
	}
	if err := requireAffected(res, "job", id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// ResumeJob activates a job with the given next run. Only a paused status
// moves back to pending.
func (s *Store) ResumeJob(ctx context.Context, id string, nextRun time.Time) (*models.Job, error) {
	return s.ScheduleJob(ctx, id, "", &nextRun)
}

// ScheduleJob activates a job, optionally replacing its pattern and next
// run. An empty pattern or nil nextRun keeps the stored value.
func (s *Store) ScheduleJob(ctx context.Context, id, pattern string, nextRun *time.Time) (*models.Job, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET
			schedule_pattern = CASE WHEN ? != '' THEN ? ELSE schedule_pattern END,
			next_run = COALESCE(?, next_run),
			is_active = 1,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			updated_at = ?
		WHERE id = ?
	`,
		pattern, pattern,
		nullTime(nextRun),
		string(models.JobPaused), string(models.JobPending),
		s.timestamp(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}
	if err := requireAffected(res, "job", id); err != nil {
		return nil, err
	}
	return s.GetJob(ctx, id)
}

// SuspendJob deactivates a job that cannot be scheduled and records why.
func (s *Store) SuspendJob(ctx context.Context, id, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET
			is_active = 0,
			status = CASE WHEN status != ? THEN ? ELSE status END,
			last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(models.JobRunning), string(models.JobFailed), nullString(lastError), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to suspend job: %w", err)
	}
	return requireAffected(res, "job", id)
}

// PrimeNextRun sets next_run on a job that has none.
func (s *Store) PrimeNextRun(ctx context.Context, id string, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET next_run = ?, updated_at = ?
		WHERE id = ? AND next_run IS NULL
	`, nextRun.UTC(), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM backup_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return j, nil
}

// GetJobByEquipment loads the job of an equipment.
func (s *Store) GetJobByEquipment(ctx context.Context, equipmentID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM backup_jobs WHERE equipment_id = ?`, equipmentID)
	j, err := scanJob(row)
	if err != nil {
		return nil, notFound(err, "job for equipment", equipmentID)
	}
	return j, nil
}

// ListJobs returns every job.
func (s *Store) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM backup_jobs ORDER BY created_at`)
}

// ListActiveJobs returns jobs the scheduler should evaluate.
func (s *Store) ListActiveJobs(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM backup_jobs WHERE is_active = 1 ORDER BY created_at`)
}

// DeleteJob removes a job.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backup_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireAffected(res, "job", id)
}

// MarkJobRunning moves a job to running unless it already is. It reports
// whether this caller won the transition.
func (s *Store) MarkJobRunning(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, string(models.JobRunning), s.timestamp(), id, string(models.JobRunning))
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishJob records the outcome of a run. Paused jobs keep their status
// and next_run; only last_run and last_error move.
func (s *Store) FinishJob(ctx context.Context, id string, status models.JobStatus, lastRun time.Time, nextRun *time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET
			status = CASE WHEN is_active = 1 THEN ? ELSE ? END,
			next_run = CASE WHEN is_active = 1 THEN ? ELSE next_run END,
			last_run = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`,
		string(status), string(models.JobPaused),
		nullTime(nextRun),
		lastRun.UTC(), nullString(lastError), s.timestamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return requireAffected(res, "job", id)
}

// ResetRunningJobs returns jobs left running by a previous process to
// pending. Called once at startup.
func (s *Store) ResetRunningJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_jobs SET status = CASE WHEN is_active = 1 THEN ? ELSE ? END, updated_at = ?
		WHERE status = ?
	`, string(models.JobPending), string(models.JobPaused), s.timestamp(), string(models.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                   models.Job
		providerID, lastErr sql.NullString
		lastRun, nextRun    sql.NullTime
		status              string
	)
	if err := row.Scan(
		&j.ID, &j.EquipmentID, &providerID, &j.SchedulePattern, &j.IsActive, &lastRun, &nextRun,
		&status, &lastErr, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.ProviderID = providerID.String
	j.LastRun = timePtr(lastRun)
	j.NextRun = timePtr(nextRun)
	j.Status = models.JobStatus(status)
	j.LastError = lastErr.String
	return &j, nil
}
