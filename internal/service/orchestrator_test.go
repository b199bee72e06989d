package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/executor"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/prober"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/scheduler"
	"github.com/yourusername/network-backup-manager/internal/store"
	"github.com/yourusername/network-backup-manager/internal/store/storetest"
	"github.com/yourusername/network-backup-manager/internal/transport"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type okPinger struct{}

func (okPinger) Ping(context.Context, string) prober.PingResult {
	return prober.PingResult{Success: true, Latency: 3 * time.Millisecond}
}

// deviceSession accepts only the configured password.
type deviceSession struct {
	password string
	expected string
}

func (s *deviceSession) Connect(context.Context) error { return nil }

func (s *deviceSession) Authenticate(context.Context) error {
	if s.password != s.expected {
		return fmt.Errorf("%w: invalid credentials", transport.ErrAuthRejected)
	}
	return nil
}

func (s *deviceSession) RunStep(context.Context, profile.Step) (string, error) { return "", nil }

func (s *deviceSession) Download(context.Context, profile.Step, io.Writer) (transport.Transfer, error) {
	return transport.Transfer{}, nil
}

func (s *deviceSession) Close() error { return nil }

type deviceOpener struct{ expected string }

func (o deviceOpener) Open(_ profile.Profile, e *models.Equipment) (transport.Session, error) {
	return &deviceSession{password: e.SSH.Password, expected: o.expected}, nil
}

type stubRunner struct{}

func (stubRunner) RunBackup(_ context.Context, e *models.Equipment, _ *models.Job) (*models.Backup, error) {
	return &models.Backup{ID: "backup-" + e.ID, EquipmentID: e.ID}, nil
}

type events struct {
	mu   sync.Mutex
	seen []models.Event
}

func (e *events) Publish(event models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, event)
}

func (e *events) ofType(kind string) []models.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Event
	for _, ev := range e.seen {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store     *store.Store
	orch      *Orchestrator
	manager   *backup.Manager
	providers *backup.Providers
	events    *events
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storetest.New(t)
	registry := profile.Default()
	ev := &events{}

	sched := scheduler.New(st, registry, stubRunner{}, scheduler.Config{Workers: 1, PollInterval: time.Minute},
		scheduler.WithClock(testclock.NewClock(t0)), scheduler.WithPublisher(ev))
	t.Cleanup(func() { sched.Stop(context.Background()) })

	providers := backup.NewProviders(st, provider.Options{}, "", provider.NewLocal(provider.LocalConfig{Path: t.TempDir()}, ""))
	providers.Register("offsite", provider.NewLocal(provider.LocalConfig{Path: t.TempDir()}, ""))
	manager := backup.NewManager(st, providers, nil, 0)

	orch := New(Deps{
		Store:     st,
		Registry:  registry,
		Scheduler: sched,
		Prober:    prober.New(okPinger{}, deviceOpener{expected: "secret"}, registry, nil, time.Second),
		Backups:   manager,
		Syncs:     backup.NewSyncManager(st, providers, nil),
		Providers: providers,
		Publisher: ev,
	})
	orch.now = func() time.Time { return t0 }
	return &fixture{store: st, orch: orch, manager: manager, providers: providers, events: ev}
}

func mikrotik(password string) *models.Equipment {
	return &models.Equipment{
		Name:               "core-01",
		Type:               "Mikrotik",
		Host:               "192.0.2.1",
		SSH:                models.SSHConfig{Enabled: true, Username: "admin", Password: password},
		AutoBackupEnabled:  true,
		AutoBackupSchedule: "0 2 * * *",
	}
}

func TestDeleteEquipmentHoldsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("secret"))
	require.NoError(t, err)
	id := st.Equipment.ID

	release, ok := f.orch.scheduler.Locks().TryAcquire(id)
	require.True(t, ok)

	busy, err := f.orch.GetEquipment(ctx, id)
	require.NoError(t, err)
	assert.True(t, busy.Busy)
	assert.ErrorIs(t, f.orch.DeleteEquipment(ctx, id), scheduler.ErrBusy)

	release()
	require.NoError(t, f.orch.DeleteEquipment(ctx, id))
	assert.Zero(t, f.orch.scheduler.Locks().Len())

	_, err = f.orch.GetEquipment(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.orch.ExecuteBackupNow(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateEquipmentSchedulesJob(t *testing.T) {
	f := newFixture(t)

	st, err := f.orch.CreateEquipment(context.Background(), mikrotik("secret"))
	require.NoError(t, err)
	require.NotNil(t, st.Job)
	assert.Equal(t, "mikrotik", st.Profile)
	assert.True(t, st.Job.IsActive)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), st.Job.NextRun.UTC())
}

func TestWrongPasswordProbeLeavesJobUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("wrong"))
	require.NoError(t, err)
	before, err := f.store.GetJobByEquipment(ctx, st.Equipment.ID)
	require.NoError(t, err)

	report, err := f.orch.TestConnectivity(ctx, st.Equipment.ID)
	require.NoError(t, err)
	assert.True(t, report.Ping.Success)
	assert.True(t, report.Protocol.Attempted)
	assert.False(t, report.Protocol.Success)
	assert.Equal(t, backuperr.KindAuthentication, report.Protocol.ErrorKind)

	after, err := f.store.GetJobByEquipment(ctx, st.Equipment.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.IsActive, after.IsActive)
	assert.Equal(t, before.NextRun, after.NextRun)
	assert.Equal(t, before.LastRun, after.LastRun)
	assert.Equal(t, before.LastError, after.LastError)

	published := f.events.ofType(models.EventConnectivityRun)
	require.Len(t, published, 1)
	assert.Equal(t, models.HistoryFailed, published[0].Status)
}

func TestUpdateEquipmentKeepsStoredSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("secret"))
	require.NoError(t, err)

	update := mikrotik("")
	update.ID = st.Equipment.ID
	update.AutoBackupSchedule = "30 3 * * 1"
	updated, err := f.orch.UpdateEquipmentConfig(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, "30 3 * * 1", updated.Job.SchedulePattern)

	stored, err := f.store.GetEquipment(ctx, st.Equipment.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", stored.SSH.Password)
}

func TestUpdateEquipmentWithBadPatternPausesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("secret"))
	require.NoError(t, err)

	update := mikrotik("secret")
	update.ID = st.Equipment.ID
	update.AutoBackupSchedule = "61 2 * * *"
	updated, err := f.orch.UpdateEquipmentConfig(ctx, update)
	require.Error(t, err)
	assert.Equal(t, backuperr.KindConfiguration, backuperr.KindOf(err))
	require.NotNil(t, updated.Job)
	assert.False(t, updated.Job.IsActive)

	stored, err := f.store.GetEquipment(ctx, st.Equipment.ID)
	require.NoError(t, err)
	assert.Equal(t, "61 2 * * *", stored.AutoBackupSchedule)
}

func TestDisablingAutoBackupPausesJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("secret"))
	require.NoError(t, err)

	update := mikrotik("secret")
	update.ID = st.Equipment.ID
	update.AutoBackupEnabled = false
	updated, err := f.orch.UpdateEquipmentConfig(ctx, update)
	require.NoError(t, err)
	require.NotNil(t, updated.Job)
	assert.False(t, updated.Job.IsActive)
	assert.Equal(t, models.JobPaused, updated.Job.Status)
}

func TestCreateEquipmentRequiresHost(t *testing.T) {
	f := newFixture(t)
	e := mikrotik("secret")
	e.Host = " "

	_, err := f.orch.CreateEquipment(context.Background(), e)
	require.Error(t, err)
	assert.Equal(t, backuperr.KindConfiguration, backuperr.KindOf(err))
}

func TestValidateCronPattern(t *testing.T) {
	f := newFixture(t)

	check := f.orch.ValidateCronPattern("0 2 * * *")
	require.True(t, check.Valid)
	require.Len(t, check.NextRuns, previewRuns)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC), check.NextRuns[0].UTC())
	require.NotNil(t, check.Friendly)

	check = f.orch.ValidateCronPattern("*/15 * * * *")
	assert.True(t, check.Valid)
	assert.Nil(t, check.Friendly)

	check = f.orch.ValidateCronPattern("0 2 * *")
	assert.False(t, check.Valid)
	assert.NotEmpty(t, check.Error)
}

func TestExecuteBackupNowWithoutJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := mikrotik("secret")
	e.AutoBackupEnabled = false
	st, err := f.orch.CreateEquipment(ctx, e)
	require.NoError(t, err)
	assert.Nil(t, st.Job)

	b, err := f.orch.ExecuteBackupNow(ctx, st.Equipment.ID)
	require.NoError(t, err)
	assert.Equal(t, "backup-"+st.Equipment.ID, b.ID)
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.PauseJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.orch.GetBackup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.orch.TestConnectivity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTriggerSyncPublishesOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.orch.CreateEquipment(ctx, mikrotik("secret"))
	require.NoError(t, err)

	data := []byte("/system identity set name=core-01\n")
	b, err := f.manager.Capture(ctx, st.Equipment, "", "", &executor.Artifact{
		FileName: "core-01.rsc",
		Data:     data,
		Size:     int64(len(data)),
		Checksum: provider.Checksum(data),
	})
	require.NoError(t, err)

	synced, err := f.orch.TriggerSync(ctx, b.ID, "offsite")
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, synced.SyncStatus)

	published := f.events.ofType(models.EventSyncFinished)
	require.Len(t, published, 1)
	assert.Equal(t, string(models.SyncSynced), published[0].Status)
	assert.Equal(t, st.Equipment.ID, published[0].EquipmentID)

	_, err = f.orch.TriggerSync(ctx, b.ID, "offsite")
	assert.ErrorIs(t, err, backup.ErrInvalidTransition)
}

func TestSaveProviderValidatesAndRebinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := &models.Provider{Name: "offsite s3", Type: models.ProviderS3, Config: json.RawMessage(`{"region":"eu-west-1"}`), IsActive: true}
	err := f.orch.SaveProvider(ctx, bad)
	require.Error(t, err)
	assert.Equal(t, backuperr.KindConfiguration, backuperr.KindOf(err))

	reserved := &models.Provider{ID: backup.LocalProviderID, Name: "local", Type: models.ProviderLocal, Config: json.RawMessage(`{"path":"/tmp"}`)}
	require.Error(t, f.orch.SaveProvider(ctx, reserved))

	first := t.TempDir()
	p := &models.Provider{Name: "nas", Type: models.ProviderLocal, Config: json.RawMessage(fmt.Sprintf(`{"path":%q}`, first)), IsActive: true}
	require.NoError(t, f.orch.SaveProvider(ctx, p))
	require.NotEmpty(t, p.ID)

	backend, _, err := f.providers.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first, backend.(*provider.Local).BasePath())

	second := t.TempDir()
	p.Config = json.RawMessage(fmt.Sprintf(`{"path":%q}`, second))
	require.NoError(t, f.orch.SaveProvider(ctx, p))

	backend, _, err = f.providers.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, second, backend.(*provider.Local).BasePath())

	list, err := f.orch.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.orch.DeleteProvider(ctx, p.ID))
	assert.ErrorIs(t, f.orch.DeleteProvider(ctx, p.ID), ErrNotFound)
}
