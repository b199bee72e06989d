// Package service is the collaborator-facing facade over the scheduler,
// prober and backup managers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/prober"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/schedule"
	"github.com/yourusername/network-backup-manager/internal/scheduler"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/workerpool"
)

// ErrNotFound is returned when an equipment, job or backup does not exist.
var ErrNotFound = errors.New("not found")

// previewRuns is the number of upcoming fire times ValidateCronPattern lists.
const previewRuns = 5

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store     *store.Store
	Registry  *profile.Registry
	Scheduler *scheduler.Scheduler
	Prober    *prober.Prober
	Backups   *backup.Manager
	Syncs     *backup.SyncManager
	Providers *backup.Providers
	// Ledger is optional; without it history queries fail.
	Ledger    *history.Ledger
	Publisher scheduler.Publisher
}

// Orchestrator exposes equipment, job, backup and sync operations.
type Orchestrator struct {
	store     *store.Store
	registry  *profile.Registry
	scheduler *scheduler.Scheduler
	prober    *prober.Prober
	backups   *backup.Manager
	syncs     *backup.SyncManager
	providers *backup.Providers
	ledger    *history.Ledger
	publisher scheduler.Publisher
	log       *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		store:     deps.Store,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		prober:    deps.Prober,
		backups:   deps.Backups,
		syncs:     deps.Syncs,
		providers: deps.Providers,
		ledger:    deps.Ledger,
		publisher: deps.Publisher,
		log:       logging.Component("service"),
		now:       time.Now,
	}
}

// Start recovers state left by a previous process and starts the scheduler.
func (o *Orchestrator) Start(ctx context.Context) error {
	n, err := o.store.ResetStaleSyncs(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted syncs: %w", err)
	}
	if n > 0 {
		o.log.Warn("stale_syncs_reset", "count", n)
	}
	return o.scheduler.Start(ctx)
}

// Stop drains the scheduler.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.scheduler.Stop(ctx)
}

// EquipmentState is an equipment with its job.
type EquipmentState struct {
	Equipment *models.Equipment `json:"equipment"`
	Job       *models.Job       `json:"job,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Busy      bool              `json:"busy"`
}

// ListEquipment returns every equipment with its job.
func (o *Orchestrator) ListEquipment(ctx context.Context) ([]*EquipmentState, error) {
	equipment, err := o.store.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := o.store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	byEquipment := make(map[string]*models.Job, len(jobs))
	for _, j := range jobs {
		byEquipment[j.EquipmentID] = j
	}

	out := make([]*EquipmentState, 0, len(equipment))
	for _, e := range equipment {
		out = append(out, o.state(e, byEquipment[e.ID]))
	}
	return out, nil
}

// GetEquipment returns one equipment with its job.
func (o *Orchestrator) GetEquipment(ctx context.Context, id string) (*EquipmentState, error) {
	e, err := o.equipment(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := o.store.GetJobByEquipment(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return o.state(e, job), nil
}

// CreateEquipment stores a new equipment and schedules its job. The
// equipment is kept even when its schedule is refused.
func (o *Orchestrator) CreateEquipment(ctx context.Context, e *models.Equipment) (*EquipmentState, error) {
	if err := validateEquipment(e); err != nil {
		return nil, err
	}
	if err := o.store.CreateEquipment(ctx, e); err != nil {
		return nil, err
	}
	o.log.Info("equipment_created", "equipment_id", e.ID, "type", e.Type)

	job, err := o.scheduler.SyncJob(ctx, e)
	return o.state(e, job), err
}

// UpdateEquipmentConfig saves new connection or schedule settings and
// brings the job in line. Blank secrets keep their stored value.
func (o *Orchestrator) UpdateEquipmentConfig(ctx context.Context, e *models.Equipment) (*EquipmentState, error) {
	current, err := o.equipment(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if err := validateEquipment(e); err != nil {
		return nil, err
	}
	if e.SSH.Password == "" {
		e.SSH.Password = current.SSH.Password
	}
	if strings.TrimSpace(e.SSH.PrivateKey) == "" {
		e.SSH.PrivateKey = current.SSH.PrivateKey
	}
	if e.HTTP.Password == "" {
		e.HTTP.Password = current.HTTP.Password
	}
	e.CreatedAt = current.CreatedAt

	if err := o.store.UpdateEquipment(ctx, e); err != nil {
		return nil, err
	}
	o.log.Info("equipment_updated", "equipment_id", e.ID, "auto_backup", e.AutoBackupEnabled)

	job, err := o.scheduler.SyncJob(ctx, e)
	if err != nil {
		// SyncJob leaves the job paused; report the current row with the error.
		job, _ = o.store.GetJobByEquipment(ctx, e.ID)
		return o.state(e, job), err
	}
	return o.state(e, job), nil
}

// DeleteEquipment removes an equipment and its job. Stored backups stay.
func (o *Orchestrator) DeleteEquipment(ctx context.Context, id string) error {
	if _, err := o.equipment(ctx, id); err != nil {
		return err
	}
	// The token blocks dispatch until the rows are gone.
	release, ok := o.scheduler.Locks().TryAcquire(id)
	if !ok {
		return scheduler.ErrBusy
	}
	defer release()

	job, err := o.store.GetJobByEquipment(ctx, id)
	switch {
	case err == nil:
		if err := o.store.DeleteJob(ctx, job.ID); err != nil {
			return err
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if err := o.store.DeleteEquipment(ctx, id); err != nil {
		return err
	}
	o.log.Info("equipment_deleted", "equipment_id", id)
	return nil
}

// TestConnectivity pings the equipment and attempts a handshake. It never
// changes the job.
func (o *Orchestrator) TestConnectivity(ctx context.Context, equipmentID string) (*prober.Report, error) {
	e, err := o.equipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	report := o.prober.Test(ctx, e)

	status := models.HistorySuccess
	if !report.Protocol.Success {
		status = models.HistoryFailed
	}
	o.publish(models.Event{
		Type:        models.EventConnectivityRun,
		EquipmentID: e.ID,
		Status:      status,
		Error:       report.Protocol.Error,
	})
	return &report, nil
}

// ExecuteBackupNow runs a backup immediately and waits for it.
func (o *Orchestrator) ExecuteBackupNow(ctx context.Context, equipmentID string) (*models.Backup, error) {
	b, err := o.scheduler.ExecuteNow(ctx, equipmentID)
	return b, o.translate(err)
}

// PauseJob stops future runs of a job.
func (o *Orchestrator) PauseJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.scheduler.Pause(ctx, jobID)
	return job, o.translate(err)
}

// ResumeJob re-enables a job with its next run computed from now.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.scheduler.Resume(ctx, jobID)
	return job, o.translate(err)
}

// RunJobNow dispatches a job without waiting for it.
func (o *Orchestrator) RunJobNow(ctx context.Context, jobID string) error {
	return o.translate(o.scheduler.RunNow(ctx, jobID))
}

// ListJobs returns every job.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return o.store.ListJobs(ctx)
}

// CronCheck is the outcome of ValidateCronPattern.
type CronCheck struct {
	Pattern  string             `json:"pattern"`
	Valid    bool               `json:"valid"`
	Error    string             `json:"error,omitempty"`
	NextRuns []time.Time        `json:"next_runs,omitempty"`
	Friendly *schedule.Friendly `json:"friendly,omitempty"`
}

// ValidateCronPattern reports whether pattern is usable and previews its
// next fire times. Friendly is set when the pattern has a friendly form.
func (o *Orchestrator) ValidateCronPattern(pattern string) CronCheck {
	check := CronCheck{Pattern: pattern}
	runs, err := schedule.Upcoming(pattern, o.now(), previewRuns)
	if err != nil {
		check.Error = backuperr.Message(err)
		return check
	}
	check.Valid = true
	check.NextRuns = runs
	if f, err := schedule.FromCron(pattern); err == nil {
		check.Friendly = &f
	}
	return check
}

// ListBackups returns the active artifacts of an equipment.
func (o *Orchestrator) ListBackups(ctx context.Context, equipmentID string) ([]*models.Backup, error) {
	if _, err := o.equipment(ctx, equipmentID); err != nil {
		return nil, err
	}
	return o.backups.List(ctx, equipmentID)
}

// GetBackup returns one artifact record.
func (o *Orchestrator) GetBackup(ctx context.Context, backupID string) (*models.Backup, error) {
	b, err := o.backups.Get(ctx, backupID)
	return b, o.translate(err)
}

// DownloadBackup returns the bytes of an active artifact.
func (o *Orchestrator) DownloadBackup(ctx context.Context, backupID string) ([]byte, *models.Backup, error) {
	data, b, err := o.backups.Fetch(ctx, backupID)
	return data, b, o.translate(err)
}

// VerifyBackup recomputes the checksum of an artifact.
func (o *Orchestrator) VerifyBackup(ctx context.Context, backupID string) (*backup.VerifyResult, error) {
	res, err := o.backups.Verify(ctx, backupID)
	return res, o.translate(err)
}

// DeleteBackup removes an artifact from its primary provider.
func (o *Orchestrator) DeleteBackup(ctx context.Context, backupID string) error {
	return o.translate(o.backups.Remove(ctx, backupID))
}

// RetentionStats reports what the retention policy would remove.
func (o *Orchestrator) RetentionStats(ctx context.Context, equipmentID string, keep int) (*backup.RetentionStats, error) {
	if _, err := o.equipment(ctx, equipmentID); err != nil {
		return nil, err
	}
	return o.backups.RetentionStats(ctx, equipmentID, keep)
}

// TriggerSync copies an artifact to a secondary provider and waits for the
// outcome.
func (o *Orchestrator) TriggerSync(ctx context.Context, backupID, providerID string) (*models.Backup, error) {
	b, err := o.syncs.TriggerSync(ctx, backupID, providerID)
	if err != nil && (errors.Is(err, backup.ErrNotFound) || errors.Is(err, backup.ErrInvalidTransition)) {
		return nil, o.translate(err)
	}

	event := models.Event{Type: models.EventSyncFinished, BackupID: backupID}
	if b != nil {
		event.EquipmentID = b.EquipmentID
		event.Status = string(b.SyncStatus)
	}
	if err != nil {
		event.Status = string(models.SyncFailed)
		event.Error = backuperr.Message(err)
	}
	o.publish(event)
	return b, err
}

// History lists ledger records, newest first.
func (o *Orchestrator) History(ctx context.Context, filter history.Filter) ([]*models.HistoryRecord, error) {
	if o.ledger == nil {
		return nil, fmt.Errorf("history ledger not configured")
	}
	return o.ledger.List(ctx, filter)
}

// SchedulerStatus is a snapshot of dispatch capacity and recent activity.
type SchedulerStatus struct {
	Pool       workerpool.Stats `json:"pool"`
	BusyTokens int              `json:"busy_equipment"`
	LastDay    map[string]int   `json:"last_24h"`
}

// Status reports worker pool counters, held equipment tokens and the ledger
// action counts of the last 24 hours.
func (o *Orchestrator) Status(ctx context.Context) (*SchedulerStatus, error) {
	status := &SchedulerStatus{
		Pool:       o.scheduler.Stats(),
		BusyTokens: o.scheduler.Locks().Len(),
		LastDay:    map[string]int{},
	}
	if o.ledger == nil {
		return status, nil
	}
	counts, err := o.ledger.Stats(ctx, "", o.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	status.LastDay = counts
	return status, nil
}

// Profiles lists the registered vendor profiles in resolution order.
func (o *Orchestrator) Profiles() []profile.Profile {
	return o.registry.Profiles()
}

func (o *Orchestrator) equipment(ctx context.Context, id string) (*models.Equipment, error) {
	e, err := o.store.GetEquipment(ctx, id)
	if err != nil {
		return nil, o.translate(err)
	}
	return e, nil
}

func (o *Orchestrator) state(e *models.Equipment, job *models.Job) *EquipmentState {
	st := &EquipmentState{Equipment: e, Job: job, Busy: o.scheduler.Locks().Held(e.ID)}
	if prof, ok := o.registry.Resolve(e.Type); ok {
		st.Profile = prof.Name
	}
	return st
}

// translate folds package-level not-found sentinels into ErrNotFound.
func (o *Orchestrator) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, backup.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (o *Orchestrator) publish(event models.Event) {
	if o.publisher == nil {
		return
	}
	if event.At.IsZero() {
		event.At = o.now().UTC()
	}
	o.publisher.Publish(event)
}

func validateEquipment(e *models.Equipment) error {
	if strings.TrimSpace(e.Name) == "" {
		return backuperr.Configuration("service.validate_equipment", "name is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return backuperr.Configuration("service.validate_equipment", "type is required")
	}
	if strings.TrimSpace(e.Host) == "" {
		return backuperr.Configuration("service.validate_equipment", "host is required")
	}
	if e.HTTP.Protocol != "" && !strings.EqualFold(e.HTTP.Protocol, "http") && !strings.EqualFold(e.HTTP.Protocol, "https") {
		return backuperr.Configuration("service.validate_equipment", "http protocol must be http or https")
	}
	return nil
}
