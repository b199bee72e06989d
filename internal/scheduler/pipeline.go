package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/executor"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
)

// Runner performs one backup of an equipment. job is nil for ad-hoc runs.
type Runner interface {
	RunBackup(ctx context.Context, equipment *models.Equipment, job *models.Job) (*models.Backup, error)
}

// Pipeline is the production Runner: execute against the device, then
// store the artifact on the primary provider. Every outcome lands in the
// history ledger.
type Pipeline struct {
	executor *executor.Executor
	manager  *backup.Manager
	recorder history.Recorder
	log      *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(exec *executor.Executor, manager *backup.Manager, recorder history.Recorder) *Pipeline {
	if recorder == nil {
		recorder = history.Nop{}
	}
	return &Pipeline{
		executor: exec,
		manager:  manager,
		recorder: recorder,
		log:      logging.Component("pipeline"),
	}
}

// RunBackup implements Runner.
func (p *Pipeline) RunBackup(ctx context.Context, equipment *models.Equipment, job *models.Job) (*models.Backup, error) {
	var jobID, providerID string
	if job != nil {
		jobID, providerID = job.ID, job.ProviderID
	}

	res := p.executor.Run(ctx, equipment)
	details := map[string]any{
		"profile":     res.Profile,
		"trace":       res.States(),
		"duration_ms": res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	}
	if jobID != "" {
		details["job_id"] = jobID
	}
	if len(res.CleanupErrors) > 0 {
		details["cleanup_errors"] = res.CleanupErrors
	}

	if !res.Succeeded() {
		err := res.Err
		if err == nil {
			err = backuperr.Transfer("pipeline.run", fmt.Errorf("run finished without an artifact"))
		}
		p.record(ctx, history.FromError(equipment.ID, models.ActionBackupExecute, err, details))
		return nil, err
	}

	b, err := p.manager.Capture(ctx, equipment, jobID, providerID, res.Artifact)
	if err != nil {
		p.record(ctx, history.FromError(equipment.ID, models.ActionBackupExecute, err, details))
		return nil, err
	}

	details["backup_id"] = b.ID
	details["file_size"] = b.FileSize
	details["checksum"] = b.Checksum
	details["provider_id"] = b.ProviderID
	p.record(ctx, &models.HistoryRecord{
		SubjectID: equipment.ID,
		Action:    models.ActionBackupExecute,
		Status:    models.HistorySuccess,
		Message:   fmt.Sprintf("captured %s (%d bytes)", b.FileName, b.FileSize),
		Details:   details,
	})
	return b, nil
}

func (p *Pipeline) record(ctx context.Context, rec *models.HistoryRecord) {
	if err := p.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		p.log.Error("history_write_failed", "subject_id", rec.SubjectID, "action", rec.Action, "error", err)
	}
}
