package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/yourusername/network-backup-manager/internal/backup"
	"github.com/yourusername/network-backup-manager/internal/config"
	"github.com/yourusername/network-backup-manager/internal/executor"
	"github.com/yourusername/network-backup-manager/internal/history"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/prober"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/scheduler"
	"github.com/yourusername/network-backup-manager/internal/service"
	"github.com/yourusername/network-backup-manager/internal/store/storetest"
	"github.com/yourusername/network-backup-manager/internal/transport"
	"github.com/yourusername/network-backup-manager/internal/websocket"
)

type upPinger struct{}

func (upPinger) Ping(context.Context, string) prober.PingResult {
	return prober.PingResult{Success: true}
}

type stubRunner struct{}

func (stubRunner) RunBackup(_ context.Context, e *models.Equipment, _ *models.Job) (*models.Backup, error) {
	return &models.Backup{ID: "manual-" + e.ID, EquipmentID: e.ID}, nil
}

type testServer struct {
	router  http.Handler
	hub     *websocket.Hub
	manager *backup.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := storetest.New(t)
	registry := profile.Default()

	ledger, err := history.NewLedger(st.DB(), "")
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	hub := websocket.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	sched := scheduler.New(st, registry, stubRunner{}, scheduler.Config{Workers: 1, PollInterval: time.Minute},
		scheduler.WithRecorder(ledger), scheduler.WithPublisher(hub))
	t.Cleanup(func() { sched.Stop(context.Background()) })

	providers := backup.NewProviders(st, provider.Options{}, "", provider.NewLocal(provider.LocalConfig{Path: t.TempDir()}, ""))
	manager := backup.NewManager(st, providers, ledger, 0)

	orch := service.New(service.Deps{
		Store:     st,
		Registry:  registry,
		Scheduler: sched,
		Prober:    prober.New(upPinger{}, transport.NewFactory(transport.Options{DialTimeout: time.Second}), registry, ledger, time.Second),
		Backups:   manager,
		Syncs:     backup.NewSyncManager(st, providers, ledger),
		Providers: providers,
		Ledger:    ledger,
		Publisher: hub,
	})

	cfg := config.Default()
	cfg.Security.CORS.AllowedOrigins = []string{"*"}
	return &testServer{router: SetupRouter(cfg, orch, hub), hub: hub, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %s: %v", w.Body.String(), err)
	}
}

func newEquipment() map[string]any {
	return map[string]any{
		"name": "core-01",
		"type": "Mikrotik CCR",
		"host": "192.0.2.1",
		"ssh": map[string]any{
			"enabled":  true,
			"username": "backup",
			"password": "s3cret",
		},
		"auto_backup_enabled":  true,
		"auto_backup_schedule": "0 2 * * *",
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected security headers on response")
	}
}

func TestCreateEquipmentRedactsCredentials(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/equipment", newEquipment())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "s3cret") {
		t.Fatalf("response leaked the password: %s", w.Body.String())
	}

	var resp struct {
		Equipment service.EquipmentState `json:"equipment"`
	}
	decode(t, w, &resp)
	if resp.Equipment.Job == nil || !resp.Equipment.Job.IsActive {
		t.Fatalf("expected an active job, got %+v", resp.Equipment.Job)
	}
	if resp.Equipment.Profile != "mikrotik" {
		t.Fatalf("expected mikrotik profile, got %q", resp.Equipment.Profile)
	}
}

func TestCreateEquipmentWithBadScheduleKeepsEquipment(t *testing.T) {
	s := newTestServer(t)
	body := newEquipment()
	body["auto_backup_schedule"] = "0 2 * *"

	w := s.do(t, http.MethodPost, "/api/v1/equipment", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["schedule_error"] == nil || resp["schedule_error"] == "" {
		t.Fatalf("expected schedule_error, got %v", resp)
	}
}

func TestCreateEquipmentValidation(t *testing.T) {
	s := newTestServer(t)
	body := newEquipment()
	delete(body, "host")

	w := s.do(t, http.MethodPost, "/api/v1/equipment", body)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["kind"] != "configuration" {
		t.Fatalf("expected configuration kind, got %v", resp["kind"])
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/jobs/missing/pause", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestValidateSchedule(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/schedules/validate", map[string]string{"pattern": "0 2 * * *"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var check service.CronCheck
	decode(t, w, &check)
	if !check.Valid || len(check.NextRuns) == 0 || check.Friendly == nil {
		t.Fatalf("unexpected check %+v", check)
	}

	w = s.do(t, http.MethodPost, "/api/v1/schedules/from-friendly", map[string]any{"frequency": "monthly", "hour": 3, "minute": 0, "day_of_month": 31})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for day 31, got %d", w.Code)
	}
}

func TestExecuteBackupAndHistory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/equipment", newEquipment())
	var created struct {
		Equipment service.EquipmentState `json:"equipment"`
	}
	decode(t, w, &created)
	id := created.Equipment.Equipment.ID

	w = s.do(t, http.MethodPost, "/api/v1/equipment/"+id+"/backup", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/v1/history?subject_id="+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var hist struct {
		History []models.HistoryRecord `json:"history"`
	}
	decode(t, w, &hist)
	if len(hist.History) == 0 {
		t.Fatalf("expected history records for %s", id)
	}

	w = s.do(t, http.MethodGet, "/api/v1/jobs/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status service.SchedulerStatus
	decode(t, w, &status)
	if status.Pool.Workers != 1 {
		t.Fatalf("expected 1 worker, got %d", status.Pool.Workers)
	}
	if len(status.LastDay) == 0 {
		t.Fatalf("expected ledger activity in the last day")
	}
}

func TestDownloadAndVerifyBackup(t *testing.T) {
	s := newTestServer(t)
	data := []byte("/interface bridge add name=lan\n")
	b, err := s.manager.Capture(context.Background(), &models.Equipment{ID: "eq-9", Name: "edge"}, "", "", &executor.Artifact{
		FileName: "edge.rsc",
		Data:     data,
		Size:     int64(len(data)),
		Checksum: provider.Checksum(data),
	})
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	w := s.do(t, http.MethodGet, "/api/v1/backups/"+b.ID+"/download", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Fatalf("unexpected download body %q", w.Body.String())
	}
	if w.Header().Get("X-Checksum-SHA256") != b.Checksum {
		t.Fatalf("missing checksum header")
	}

	w = s.do(t, http.MethodPost, "/api/v1/backups/"+b.ID+"/verify", nil)
	var res backup.VerifyResult
	decode(t, w, &res)
	if !res.Valid {
		t.Fatalf("expected valid checksum, got %+v", res)
	}

	w = s.do(t, http.MethodPost, "/api/v1/backups/"+b.ID+"/sync", map[string]string{"provider_id": "local"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for syncing to the primary, got %d: %s", w.Code, w.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var msg websocket.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != "subscribed" {
		t.Fatalf("expected subscribed message, got %q", msg.Type)
	}

	s.hub.Publish(models.Event{Type: models.EventJobFinished, EquipmentID: "eq-1", Status: "completed"})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if msg.Type != models.EventJobFinished {
		t.Fatalf("expected job event, got %q", msg.Type)
	}
}
