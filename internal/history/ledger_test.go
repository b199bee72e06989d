package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/database"
	"github.com/yourusername/network-backup-manager/internal/models"
)

func newTestLedger(t *testing.T) (*Ledger, *database.DB, string) {
	t.Helper()
	root := t.TempDir()
	db, err := database.NewDB(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("failed to create db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}

	logDir := filepath.Join(root, "history")
	ledger, err := NewLedger(db.DB, logDir)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger, db, logDir
}

func TestLedgerRecordAndList(t *testing.T) {
	ledger, _, logDir := newTestLedger(t)
	ctx := context.Background()

	if err := ledger.Record(ctx, &models.HistoryRecord{
		SubjectID: "eq-1",
		Action:    models.ActionBackupExecute,
		Status:    models.HistorySuccess,
		Message:   "backup stored",
		Details:   map[string]any{"backup_id": "b-1"},
	}); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	execErr := backuperr.Execution("executor.step", 3, "password cisco123\n% Invalid input", errors.New("error marker found"))
	if err := ledger.Record(ctx, FromError("eq-1", models.ActionBackupExecute, execErr, nil)); err != nil {
		t.Fatalf("failed to record failure: %v", err)
	}

	records, err := ledger.List(ctx, Filter{SubjectID: "eq-1"})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	failed := records[0]
	if failed.Status != models.HistoryFailed || failed.ErrorKind != string(backuperr.KindExecution) {
		t.Fatalf("unexpected failure record %+v", failed)
	}
	if step, ok := failed.Details["step"].(float64); !ok || step != 3 {
		t.Fatalf("expected step 3 in details, got %v", failed.Details["step"])
	}
	output, _ := failed.Details["output"].(string)
	if strings.Contains(output, "cisco123") || !strings.Contains(output, "% Invalid input") {
		t.Fatalf("expected redacted output, got %q", output)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected history file to be written: %v", err)
	}
}

func TestLedgerStatsAndFilters(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ledger.Record(ctx, &models.HistoryRecord{SubjectID: "b-1", Action: models.ActionBackupSync, Status: models.HistoryFailed})
	}
	ledger.Record(ctx, &models.HistoryRecord{SubjectID: "b-1", Action: models.ActionBackupSync, Status: models.HistorySuccess})
	ledger.Record(ctx, &models.HistoryRecord{SubjectID: "eq-2", Action: models.ActionConnectivityTest, Status: models.HistorySuccess})

	stats, err := ledger.Stats(ctx, "b-1", time.Time{})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats[models.ActionBackupSync] != 4 {
		t.Fatalf("expected 4 sync records, got %v", stats)
	}

	failed, err := ledger.List(ctx, Filter{SubjectID: "b-1", Status: models.HistoryFailed, Limit: 2})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(failed))
	}
}

func TestLedgerCompressesOldFiles(t *testing.T) {
	ledger, _, logDir := newTestLedger(t)
	old := filepath.Join(logDir, "history-2020-01-01.log")
	if err := os.WriteFile(old, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("failed to seed old file: %v", err)
	}

	ledger.compressBefore("2020-01-02")

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected old file to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(old + ".gz"); err != nil {
		t.Fatalf("expected gzip file: %v", err)
	}
}
