// Package scheduler fires backup runs on each job's cron cadence. A single
// polling goroutine decides what is due; a bounded worker pool executes.
// One run per equipment is in flight at any time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/schedule"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/workerpool"
)

var (
	// ErrBusy is returned when the equipment already has a run in flight.
	ErrBusy = errors.New("a backup is already running for this equipment")
	// ErrStopped is returned once the scheduler has been stopped.
	ErrStopped = errors.New("scheduler is stopped")
)

// SyncRetrier re-attempts failed secondary syncs.
type SyncRetrier interface {
	RetryFailed(ctx context.Context, maxAttempts int) (int, error)
}

// Publisher receives job events. Publish must not block.
type Publisher interface {
	Publish(event models.Event)
}

// Config tunes the scheduler.
type Config struct {
	PollInterval time.Duration
	Workers      int
	QueueSize    int
	DrainTimeout time.Duration
	// SyncRetryInterval enables the failed-sync sweep when positive.
	SyncRetryInterval time.Duration
	SyncMaxAttempts   int
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithRecorder sets the history ledger.
func WithRecorder(r history.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithSyncRetrier enables automatic sync retries.
func WithSyncRetrier(r SyncRetrier) Option {
	return func(s *Scheduler) { s.retrier = r }
}

// WithPublisher streams job events.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// TickReport summarizes one evaluation pass.
type TickReport struct {
	Due        int
	Dispatched int
	Deferred   int
	Skipped    int
	Faults     int
}

// Scheduler owns the polling loop, the worker pool and the per-equipment
// tokens. A Scheduler is started once and stopped once.
type Scheduler struct {
	store    *store.Store
	registry *profile.Registry
	runner   Runner
	cfg      Config

	clock     clock.Clock
	recorder  history.Recorder
	retrier   SyncRetrier
	publisher Publisher

	locks *Locks
	pool  *workerpool.Pool
	log   *slog.Logger

	// runCtx parents every dispatched run. It is only cancelled when a
	// drain times out.
	runCtx context.Context
	abort  context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastSweep time.Time
	sweeping  atomic.Bool
	bg        sync.WaitGroup

	// evaluateHook runs before each job evaluation. Tests only.
	evaluateHook func(*models.Job)
}

// New creates a Scheduler. The worker pool starts immediately so manual runs
// work before Start.
func New(st *store.Store, registry *profile.Registry, runner Runner, cfg Config, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	if cfg.SyncMaxAttempts <= 0 {
		cfg.SyncMaxAttempts = 5
	}

	runCtx, abort := context.WithCancel(context.Background())
	s := &Scheduler{
		store:    st,
		registry: registry,
		runner:   runner,
		cfg:      cfg,
		clock:    clock.WallClock,
		recorder: history.Nop{},
		locks:    NewLocks(),
		log:      logging.Component("scheduler"),
		runCtx:   runCtx,
		abort:    abort,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = workerpool.New(workerpool.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize})
	return s
}

// Locks exposes the per-equipment tokens.
func (s *Scheduler) Locks() *Locks {
	return s.locks
}

// Stats returns worker pool counters.
func (s *Scheduler) Stats() workerpool.Stats {
	return s.pool.Stats()
}

// Start recovers state left by a previous process, fills in missing
// next_run values and begins polling. The loop stops with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("scheduler already started")
	}

	if n, err := s.store.ResetRunningJobs(ctx); err != nil {
		return fmt.Errorf("failed to reset interrupted jobs: %w", err)
	} else if n > 0 {
		s.log.Warn("interrupted_jobs_reset", "count", n)
	}
	if err := s.prime(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.loop(loopCtx, s.done)

	s.log.Info("scheduler_started", "poll_interval", s.cfg.PollInterval.String(), "workers", s.cfg.Workers)
	return nil
}

// prime gives active jobs without a next_run one computed from now.
func (s *Scheduler) prime(ctx context.Context) error {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	now := s.clock.Now()
	for _, job := range jobs {
		if job.NextRun != nil {
			continue
		}
		next, err := schedule.Next(job.SchedulePattern, now)
		if err != nil {
			s.suspend(ctx, job, err)
			continue
		}
		if err := s.store.PrimeNextRun(ctx, job.ID, next); err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.PollInterval):
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every active job once.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	var report TickReport
	now := s.clock.Now()

	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		s.log.Error("list_jobs_failed", "error", err)
		return report
	}
	for _, job := range jobs {
		s.evaluate(ctx, job, now, &report)
	}
	s.maybeSweep(now)

	if report.Due > 0 {
		s.log.Debug("tick_finished", "due", report.Due, "dispatched", report.Dispatched,
			"deferred", report.Deferred, "skipped", report.Skipped, "faults", report.Faults)
	}
	return report
}

// evaluate decides about one job. A panic is contained to this job.
func (s *Scheduler) evaluate(ctx context.Context, job *models.Job, now time.Time, report *TickReport) {
	defer func() {
		if r := recover(); r != nil {
			report.Faults++
			err := backuperr.SchedulerFatal("scheduler.evaluate", fmt.Errorf("panic: %v", r))
			s.log.Error("job_evaluation_panicked", "job_id", job.ID, "equipment_id", job.EquipmentID,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			s.record(history.FromError(job.EquipmentID, models.ActionSchedulerFault, err, map[string]any{"job_id": job.ID}))
		}
	}()

	if s.evaluateHook != nil {
		s.evaluateHook(job)
	}
	if !job.IsDue(now) {
		return
	}
	report.Due++

	if err := schedule.Validate(job.SchedulePattern); err != nil {
		report.Skipped++
		s.suspend(ctx, job, err)
		return
	}

	equipment, err := s.store.GetEquipment(ctx, job.EquipmentID)
	if err != nil {
		report.Skipped++
		s.log.Error("equipment_load_failed", "job_id", job.ID, "equipment_id", job.EquipmentID, "error", err)
		return
	}

	switch err := s.dispatch(job, equipment, nil); {
	case err == nil:
		report.Dispatched++
	case errors.Is(err, ErrBusy), errors.Is(err, workerpool.ErrFull):
		// next_run stays as is; the job is picked up again next tick.
		report.Deferred++
		s.log.Info("job_deferred", "job_id", job.ID, "equipment_id", job.EquipmentID, "reason", err.Error())
		s.publish(models.Event{Type: models.EventJobDeferred, EquipmentID: job.EquipmentID, JobID: job.ID, Error: err.Error()})
	default:
		report.Skipped++
		s.log.Error("job_dispatch_failed", "job_id", job.ID, "equipment_id", job.EquipmentID, "error", err)
	}
}

// dispatch takes the equipment token and queues the run. The token is
// released after the outcome is persisted, on every path.
func (s *Scheduler) dispatch(job *models.Job, equipment *models.Equipment, done func(*models.Backup, error)) error {
	release, ok := s.locks.TryAcquire(equipment.ID)
	if !ok {
		return ErrBusy
	}

	var captured *models.Backup
	started := s.clock.Now()
	task := func(ctx context.Context) error {
		if job != nil {
			if _, err := s.store.MarkJobRunning(ctx, job.ID); err != nil {
				return err
			}
		}
		s.log.Info("job_dispatched", "job_id", jobID(job), "equipment_id", equipment.ID)
		s.publish(models.Event{Type: models.EventJobStarted, EquipmentID: equipment.ID, JobID: jobID(job), Status: string(models.JobRunning)})

		b, err := s.runner.RunBackup(ctx, equipment, job)
		captured = b
		return err
	}
	onDone := func(err error) {
		defer release()
		err = s.complete(job, equipment, captured, err, started)
		if done != nil {
			done(captured, err)
		}
	}

	if err := s.pool.Go(s.runCtx, "backup:"+equipment.ID, task, onDone); err != nil {
		release()
		if errors.Is(err, workerpool.ErrClosed) {
			return ErrStopped
		}
		return err
	}
	return nil
}

// complete persists the outcome of a run and returns the error reported to
// callers.
func (s *Scheduler) complete(job *models.Job, equipment *models.Equipment, b *models.Backup, runErr error, started time.Time) (err error) {
	err = runErr
	defer func() {
		if r := recover(); r != nil {
			err = backuperr.SchedulerFatal("scheduler.complete", fmt.Errorf("panic: %v", r))
			s.log.Error("job_completion_panicked", "equipment_id", equipment.ID, "panic", fmt.Sprint(r))
			s.record(history.FromError(equipment.ID, models.ActionSchedulerFault, err, nil))
		}
	}()

	var pe *workerpool.PanicError
	if errors.As(err, &pe) {
		err = backuperr.SchedulerFatal("scheduler.run", pe)
		s.record(history.FromError(equipment.ID, models.ActionSchedulerFault, err, map[string]any{"job_id": jobID(job)}))
	}

	ctx := context.Background()
	now := s.clock.Now()
	status := models.JobCompleted
	if err != nil {
		status = models.JobFailed
	}

	if job != nil {
		var next *time.Time
		if t, nextErr := schedule.Next(job.SchedulePattern, now); nextErr == nil {
			next = &t
		} else {
			s.log.Error("next_run_failed", "job_id", job.ID, "pattern", job.SchedulePattern, "error", nextErr)
		}
		if ferr := s.store.FinishJob(ctx, job.ID, status, now, next, backuperr.Message(err)); ferr != nil {
			s.log.Error("job_finish_failed", "job_id", job.ID, "error", ferr)
		}
	}

	attrs := []any{"job_id", jobID(job), "equipment_id", equipment.ID, "status", string(status),
		"duration_ms", now.Sub(started).Milliseconds()}
	event := models.Event{Type: models.EventJobFinished, EquipmentID: equipment.ID, JobID: jobID(job), Status: string(status)}
	if err != nil {
		attrs = append(attrs, "error_kind", string(backuperr.KindOf(err)), "retryable", backuperr.IsRetryable(err), "error", err.Error())
		event.Error = backuperr.Message(err)
		s.log.Warn("job_failed", attrs...)
	} else {
		if b != nil {
			attrs = append(attrs, "backup_id", b.ID)
			event.BackupID = b.ID
		}
		s.log.Info("job_completed", attrs...)
	}
	s.publish(event)
	return err
}

// RunNow dispatches a job immediately. It does not wait for the run.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	equipment, err := s.store.GetEquipment(ctx, job.EquipmentID)
	if err != nil {
		return err
	}
	return s.dispatch(job, equipment, nil)
}

// ExecuteNow runs a backup of an equipment through the same token and pool
// as scheduled runs and waits for the outcome. Cancelling ctx stops the wait,
// not the run.
func (s *Scheduler) ExecuteNow(ctx context.Context, equipmentID string) (*models.Backup, error) {
	equipment, err := s.store.GetEquipment(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetJobByEquipment(ctx, equipmentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		job = nil
	}

	type outcome struct {
		backup *models.Backup
		err    error
	}
	result := make(chan outcome, 1)
	if err := s.dispatch(job, equipment, func(b *models.Backup, err error) {
		result <- outcome{b, err}
	}); err != nil {
		return nil, err
	}

	select {
	case o := <-result:
		return o.backup, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// maybeSweep starts a failed-sync retry pass when one is due and none is
// running. Syncs do not take equipment tokens.
func (s *Scheduler) maybeSweep(now time.Time) {
	if s.retrier == nil || s.cfg.SyncRetryInterval <= 0 {
		return
	}
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < s.cfg.SyncRetryInterval {
		return
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	s.lastSweep = now

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer s.sweeping.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("sync_sweep_panicked", "panic", fmt.Sprint(r))
			}
		}()

		synced, err := s.retrier.RetryFailed(s.runCtx, s.cfg.SyncMaxAttempts)
		if err != nil {
			s.log.Error("sync_sweep_failed", "error", err)
			return
		}
		if synced > 0 {
			s.log.Info("sync_sweep_finished", "synced", synced)
		}
	}()
}

// Stop ends polling, waits for queued and running backups up to the drain
// timeout and releases all tokens. Runs still going after the timeout are
// cancelled and finish as failed.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	drainCtx := ctx
	if s.cfg.DrainTimeout > 0 {
		var cancelDrain context.CancelFunc
		drainCtx, cancelDrain = context.WithTimeout(ctx, s.cfg.DrainTimeout)
		defer cancelDrain()
	}
	err := s.pool.Shutdown(drainCtx)
	s.abort()
	s.bg.Wait()
	s.locks.Reset()

	if err != nil {
		s.log.Warn("scheduler_drain_incomplete", "error", err)
		return fmt.Errorf("failed to drain running backups: %w", err)
	}
	s.log.Info("scheduler_stopped")
	return nil
}

func (s *Scheduler) record(rec *models.HistoryRecord) {
	if err := s.recorder.Record(context.Background(), rec); err != nil {
		s.log.Error("history_write_failed", "subject_id", rec.SubjectID, "action", rec.Action, "error", err)
	}
}

func (s *Scheduler) publish(event models.Event) {
	if s.publisher == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.clock.Now().UTC()
	}
	s.publisher.Publish(event)
}

func jobID(job *models.Job) string {
	if job == nil {
		return ""
	}
	return job.ID
}
