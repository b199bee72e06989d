package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/store/storetest"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu        sync.Mutex
	calls     map[string]int
	active    map[string]int
	maxActive int
	block     chan struct{}
	started   chan string
	err       error
	panicFor  string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		calls:   make(map[string]int),
		active:  make(map[string]int),
		started: make(chan string, 64),
	}
}

func (f *fakeRunner) RunBackup(ctx context.Context, equipment *models.Equipment, job *models.Job) (*models.Backup, error) {
	f.mu.Lock()
	f.calls[equipment.ID]++
	f.active[equipment.ID]++
	if f.active[equipment.ID] > f.maxActive {
		f.maxActive = f.active[equipment.ID]
	}
	block, err, panicFor := f.block, f.err, f.panicFor
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active[equipment.ID]--
		f.mu.Unlock()
	}()

	f.started <- equipment.ID
	if block != nil {
		<-block
	}
	if equipment.ID == panicFor {
		panic("runner exploded")
	}
	if err != nil {
		return nil, err
	}
	return &models.Backup{ID: "backup-" + equipment.ID, EquipmentID: equipment.ID}, nil
}

func (f *fakeRunner) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type memRecorder struct {
	mu      sync.Mutex
	records []*models.HistoryRecord
}

func (r *memRecorder) Record(ctx context.Context, rec *models.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) byAction(action string) []*models.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.HistoryRecord
	for _, rec := range r.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type harness struct {
	store    *store.Store
	clock    *testclock.Clock
	runner   *fakeRunner
	recorder *memRecorder
	sched    *Scheduler
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:    storetest.New(t),
		clock:    testclock.NewClock(t0),
		runner:   newFakeRunner(),
		recorder: &memRecorder{},
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	opts = append([]Option{WithClock(h.clock), WithRecorder(h.recorder)}, opts...)
	h.sched = New(h.store, profile.Default(), h.runner, cfg, opts...)
	t.Cleanup(func() { h.sched.Stop(context.Background()) })
	return h
}

func (h *harness) equipment(t *testing.T, name string) *models.Equipment {
	t.Helper()
	e := &models.Equipment{
		Name:               name,
		Type:               "Mikrotik RB4011",
		Host:               "192.0.2.10",
		SSH:                models.SSHConfig{Enabled: true, Username: "backup", Password: "secret"},
		AutoBackupEnabled:  true,
		AutoBackupSchedule: "0 2 * * *",
	}
	require.NoError(t, h.store.CreateEquipment(context.Background(), e))
	return e
}

// dueJob creates an active job whose next_run is already in the past.
func (h *harness) dueJob(t *testing.T, e *models.Equipment) *models.Job {
	t.Helper()
	past := t0.Add(-time.Minute)
	job := &models.Job{
		EquipmentID:     e.ID,
		SchedulePattern: "0 2 * * *",
		IsActive:        true,
		NextRun:         &past,
		Status:          models.JobPending,
	}
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

func (h *harness) waitJob(t *testing.T, id string, cond func(*models.Job) bool) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		j, err := h.store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return cond(j)
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func finished(j *models.Job) bool {
	return j.Status == models.JobCompleted || j.Status == models.JobFailed
}

func TestSyncJobSchedulesNextRunInFuture(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "core-01")

	job, err := h.sched.SyncJob(context.Background(), e)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.Equal(time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)), "got %s", job.NextRun)
	assert.True(t, job.IsActive)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Len(t, h.recorder.byAction(models.ActionJobSchedule), 1)

	// An unchanged config leaves next_run alone.
	h.clock.Advance(time.Hour)
	again, err := h.sched.SyncJob(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.True(t, again.NextRun.Equal(*job.NextRun))

	e.AutoBackupSchedule = "30 3 * * *"
	changed, err := h.sched.SyncJob(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed.NextRun.Equal(time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC)))
}

func TestSyncJobRejectsBadConfiguration(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	e := h.equipment(t, "core-01")
	e.AutoBackupSchedule = "every day"
	_, err := h.sched.SyncJob(ctx, e)
	require.Error(t, err)
	assert.True(t, backuperr.Is(err, backuperr.KindConfiguration))

	e.AutoBackupSchedule = "0 2 * * *"
	e.SSH.Password = ""
	_, err = h.sched.SyncJob(ctx, e)
	require.Error(t, err)
	assert.True(t, backuperr.Is(err, backuperr.KindConfiguration))

	_, err = h.store.GetJobByEquipment(ctx, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncJobSkipsUnsupportedAndDisabled(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	e := h.equipment(t, "mystery")
	e.Type = "Acme Toaster 3000"
	job, err := h.sched.SyncJob(ctx, e)
	require.NoError(t, err)
	assert.Nil(t, job)

	e.Type = "Mikrotik"
	job, err = h.sched.SyncJob(ctx, e)
	require.NoError(t, err)
	require.True(t, job.IsActive)

	e.AutoBackupEnabled = false
	paused, err := h.sched.SyncJob(ctx, e)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	assert.Equal(t, models.JobPaused, paused.Status)
	assert.True(t, paused.NextRun.Equal(*job.NextRun))
}

func TestTickRunsDueJobAndRecomputesNextRun(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	report := h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Dispatched)

	done := h.waitJob(t, job.ID, finished)
	assert.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.LastRun)
	assert.True(t, done.LastRun.Equal(t0))
	require.NotNil(t, done.NextRun)
	assert.True(t, done.NextRun.After(t0))
	assert.True(t, done.NextRun.Equal(time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)))
	assert.Empty(t, done.LastError)

	require.Eventually(t, func() bool { return h.sched.Locks().Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	// Not due again until the new next_run.
	report = h.sched.Tick(context.Background())
	assert.Zero(t, report.Due)
	assert.Equal(t, 1, h.runner.callCount(e.ID))
}

func TestFailedRunRecordsMessage(t *testing.T) {
	h := newHarness(t, Config{})
	h.runner.err = backuperr.Execution("executor.step", 3, "% Invalid input", errors.New("device reported an error"))
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	h.sched.Tick(context.Background())
	done := h.waitJob(t, job.ID, finished)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Equal(t, "execution error at step 3: device reported an error", done.LastError)
	assert.True(t, done.NextRun.After(t0))
}

func TestBusyEquipmentIsDeferredWithoutMovingNextRun(t *testing.T) {
	h := newHarness(t, Config{})
	h.runner.block = make(chan struct{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	require.NoError(t, h.sched.RunNow(context.Background(), job.ID))
	<-h.runner.started

	report := h.sched.Tick(context.Background())
	assert.Zero(t, report.Dispatched)

	current, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, current.Status)
	assert.True(t, current.NextRun.Equal(*job.NextRun))

	close(h.runner.block)
	h.waitJob(t, job.ID, finished)
	assert.Equal(t, 1, h.runner.callCount(e.ID))
}

func TestHeldTokenDefersDueJob(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	release, ok := h.sched.Locks().TryAcquire(e.ID)
	require.True(t, ok)

	report := h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, report.Dispatched)

	current, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, current.Status)
	assert.True(t, current.NextRun.Equal(*job.NextRun))

	release()
	report = h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Dispatched)
	h.waitJob(t, job.ID, finished)
}

func TestOverlappingRunNowNeverRunsConcurrently(t *testing.T) {
	h := newHarness(t, Config{Workers: 4})
	h.runner.block = make(chan struct{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		busy     atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.sched.RunNow(context.Background(), job.ID)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(9), busy.Load())

	_, err := h.sched.ExecuteNow(context.Background(), e.ID)
	assert.ErrorIs(t, err, ErrBusy)

	close(h.runner.block)
	h.waitJob(t, job.ID, finished)
	require.Eventually(t, func() bool { return !h.sched.Locks().Held(e.ID) }, 5*time.Second, 10*time.Millisecond)

	b, err := h.sched.ExecuteNow(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "backup-"+e.ID, b.ID)

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	assert.Equal(t, 1, h.runner.maxActive)
	assert.Equal(t, 2, h.runner.calls[e.ID])
}

func TestExecuteNowWithoutJob(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "edge-01")

	b, err := h.sched.ExecuteNow(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, b.EquipmentID)

	h.runner.err = backuperr.Authentication("executor.authenticate", errors.New("permission denied"))
	_, err = h.sched.ExecuteNow(context.Background(), e.ID)
	assert.True(t, backuperr.Is(err, backuperr.KindAuthentication))
}

func TestPauseFreezesAndResumeRecomputes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	paused, err := h.sched.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	assert.Equal(t, models.JobPaused, paused.Status)

	report := h.sched.Tick(ctx)
	assert.Zero(t, report.Due)
	assert.Zero(t, h.runner.callCount(e.ID))

	stored, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRun.Equal(*job.NextRun))

	h.clock.Advance(20 * time.Hour) // 2024-01-02T06:00
	resumed, err := h.sched.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, resumed.IsActive)
	assert.Equal(t, models.JobPending, resumed.Status)
	assert.True(t, resumed.NextRun.Equal(time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC)), "got %s", resumed.NextRun)

	assert.Len(t, h.recorder.byAction(models.ActionJobPause), 1)
	assert.Len(t, h.recorder.byAction(models.ActionJobResume), 1)
}

func TestPauseDuringRunKeepsJobPaused(t *testing.T) {
	h := newHarness(t, Config{})
	h.runner.block = make(chan struct{})
	ctx := context.Background()
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	h.sched.Tick(ctx)
	<-h.runner.started
	h.waitJob(t, job.ID, func(j *models.Job) bool { return j.Status == models.JobRunning })

	_, err := h.sched.Pause(ctx, job.ID)
	require.NoError(t, err)
	close(h.runner.block)

	done := h.waitJob(t, job.ID, func(j *models.Job) bool { return j.LastRun != nil })
	assert.False(t, done.IsActive)
	assert.Equal(t, models.JobPaused, done.Status)
	assert.True(t, done.NextRun.Equal(*job.NextRun))
}

func TestEvaluationPanicIsContained(t *testing.T) {
	h := newHarness(t, Config{})
	bad := h.equipment(t, "bad")
	good := h.equipment(t, "good")
	badJob := h.dueJob(t, bad)
	goodJob := h.dueJob(t, good)

	h.sched.evaluateHook = func(j *models.Job) {
		if j.ID == badJob.ID {
			panic("corrupt job row")
		}
	}

	report := h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Faults)
	assert.Equal(t, 1, report.Dispatched)
	h.waitJob(t, goodJob.ID, finished)

	faults := h.recorder.byAction(models.ActionSchedulerFault)
	require.Len(t, faults, 1)
	assert.Equal(t, string(backuperr.KindSchedulerFatal), faults[0].ErrorKind)
	assert.Equal(t, bad.ID, faults[0].SubjectID)

	// The next tick still evaluates everything.
	report = h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Faults)
}

func TestRunnerPanicFailsJobAndReleasesToken(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "core-01")
	h.runner.panicFor = e.ID
	job := h.dueJob(t, e)

	h.sched.Tick(context.Background())
	done := h.waitJob(t, job.ID, finished)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Contains(t, done.LastError, "scheduler_fatal")
	require.Eventually(t, func() bool { return h.sched.Locks().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, h.recorder.byAction(models.ActionSchedulerFault), 1)
}

func TestInvalidPatternSuspendsJob(t *testing.T) {
	h := newHarness(t, Config{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)
	_, err := h.store.ScheduleJob(context.Background(), job.ID, "61 * * * *", nil)
	require.NoError(t, err)

	report := h.sched.Tick(context.Background())
	assert.Equal(t, 1, report.Skipped)

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Contains(t, stored.LastError, "configuration error")
	assert.Zero(t, h.runner.callCount(e.ID))
}

func TestStartLoopTicksOnClock(t *testing.T) {
	h := newHarness(t, Config{PollInterval: time.Minute})
	ctx := context.Background()
	e := h.equipment(t, "core-01")

	soon := t0.Add(30 * time.Second)
	job := &models.Job{EquipmentID: e.ID, SchedulePattern: "0 2 * * *", IsActive: true, NextRun: &soon}
	require.NoError(t, h.store.CreateJob(ctx, job))

	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx))

	require.NoError(t, h.clock.WaitAdvance(time.Minute, 5*time.Second, 1))
	select {
	case id := <-h.runner.started:
		assert.Equal(t, e.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not dispatched after the poll interval")
	}
	h.waitJob(t, job.ID, finished)

	require.NoError(t, h.sched.Stop(ctx))
	assert.ErrorIs(t, h.sched.RunNow(ctx, job.ID), ErrStopped)
}

func TestStartResetsInterruptedJobs(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	e := h.equipment(t, "core-01")

	job := &models.Job{EquipmentID: e.ID, SchedulePattern: "0 2 * * *", IsActive: true, Status: models.JobRunning}
	require.NoError(t, h.store.CreateJob(ctx, job))

	require.NoError(t, h.sched.Start(ctx))
	stored := h.waitJob(t, job.ID, func(j *models.Job) bool { return j.Status != models.JobRunning })
	assert.Equal(t, models.JobPending, stored.Status)
	require.NotNil(t, stored.NextRun)
	assert.True(t, stored.NextRun.Equal(time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)))
}

func TestStopDrainsInFlightRuns(t *testing.T) {
	h := newHarness(t, Config{DrainTimeout: 5 * time.Second})
	h.runner.block = make(chan struct{})
	e := h.equipment(t, "core-01")
	job := h.dueJob(t, e)

	h.sched.Tick(context.Background())
	<-h.runner.started

	stopped := make(chan error, 1)
	go func() { stopped <- h.sched.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.runner.block)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}

	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, stored.Status)
	assert.Zero(t, h.sched.Locks().Len())
}

type countingRetrier struct {
	calls atomic.Int32
	max   atomic.Int32
}

func (c *countingRetrier) RetryFailed(ctx context.Context, maxAttempts int) (int, error) {
	c.calls.Add(1)
	c.max.Store(int32(maxAttempts))
	return 0, nil
}

func TestSyncSweepRunsOnInterval(t *testing.T) {
	retrier := &countingRetrier{}
	h := newHarness(t, Config{SyncRetryInterval: 15 * time.Minute, SyncMaxAttempts: 3}, WithSyncRetrier(retrier))
	ctx := context.Background()

	h.sched.Tick(ctx)
	require.Eventually(t, func() bool { return retrier.calls.Load() == 1 && !h.sched.sweeping.Load() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), retrier.max.Load())

	h.clock.Advance(time.Minute)
	h.sched.Tick(ctx)
	assert.Equal(t, int32(1), retrier.calls.Load())

	h.clock.Advance(15 * time.Minute)
	h.sched.Tick(ctx)
	require.Eventually(t, func() bool { return retrier.calls.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestLocksReleaseOnce(t *testing.T) {
	l := NewLocks()
	release, ok := l.TryAcquire("eq-1")
	require.True(t, ok)
	_, ok = l.TryAcquire("eq-1")
	assert.False(t, ok)

	release()
	again, ok := l.TryAcquire("eq-1")
	require.True(t, ok)

	// A stale release must not free the new holder's token.
	release()
	assert.True(t, l.Held("eq-1"))
	again()
	assert.False(t, l.Held("eq-1"))
}
