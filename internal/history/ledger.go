// Package history is the append-only ledger of executions, syncs and
// diagnostics. Records go to the database and to a daily JSON-lines file.
package history

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
)

// maxMessage bounds the user-facing message column.
const maxMessage = 1024

// Recorder appends records to the ledger.
type Recorder interface {
	Record(ctx context.Context, rec *models.HistoryRecord) error
}

// Ledger writes history records to SQLite and a rotated daily file.
type Ledger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// NewLedger creates a ledger. logDir may be empty to skip file output.
func NewLedger(db *sql.DB, logDir string) (*Ledger, error) {
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	log.Printf("[History] Initialized (log directory: %s)", logDir)

	return &Ledger{db: db, logDir: logDir, now: time.Now}, nil
}

// Record appends rec. The timestamp is set when zero.
func (l *Ledger) Record(ctx context.Context, rec *models.HistoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if len(rec.Message) > maxMessage {
		rec.Message = rec.Message[:maxMessage] + "... (truncated)"
	}

	var dbErr error
	if l.db != nil {
		if dbErr = l.insert(ctx, rec); dbErr != nil {
			logging.L().Error("history_insert_failed", "subject_id", rec.SubjectID, "action", rec.Action, "error", dbErr)
		}
	}

	if l.logDir != "" {
		if err := l.writeFile(rec); err != nil {
			logging.L().Error("history_file_write_failed", "subject_id", rec.SubjectID, "action", rec.Action, "error", err)
			if dbErr == nil {
				dbErr = err
			}
		}
	}

	return dbErr
}

func (l *Ledger) insert(ctx context.Context, rec *models.HistoryRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO history (subject_id, action, status, message, error_kind, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.SubjectID, rec.Action, rec.Status, rec.Message, rec.ErrorKind, string(details), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (l *Ledger) writeFile(rec *models.HistoryRecord) error {
	date := rec.Timestamp.Format("2006-01-02")
	if l.currentFile == nil || l.currentDate != date {
		if err := l.rotate(date); err != nil {
			return fmt.Errorf("failed to rotate history file: %w", err)
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}
	if _, err := fmt.Fprintf(l.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}

	if rec.Status == models.HistoryFailed {
		l.currentFile.Sync()
	}
	return nil
}

func (l *Ledger) rotate(date string) error {
	if l.currentFile != nil {
		l.currentFile.Close()
		l.currentFile = nil
	}

	path := filepath.Join(l.logDir, fmt.Sprintf("history-%s.log", date))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}

	l.currentFile = file
	l.currentDate = date

	go l.compressBefore(date)
	return nil
}

// compressBefore gzips daily files older than date.
func (l *Ledger) compressBefore(date string) {
	matches, err := filepath.Glob(filepath.Join(l.logDir, "history-*.log"))
	if err != nil {
		return
	}

	for _, path := range matches {
		fileDate := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "history-"), ".log")
		if fileDate >= date {
			continue
		}
		if err := gzipFile(path); err != nil {
			logging.L().Warn("history_compress_failed", "path", path, "error", err)
		}
	}
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Close closes the current history file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	SubjectID string
	Action    string
	Status    string
	Since     time.Time
	Limit     int
}

// List returns records newest first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]*models.HistoryRecord, error) {
	if l.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `
		SELECT id, subject_id, action, status, message, error_kind, details, timestamp
		FROM history
		WHERE 1=1
	`
	args := make([]interface{}, 0)

	if filter.SubjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, filter.SubjectID)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := make([]*models.HistoryRecord, 0)
	for rows.Next() {
		rec := &models.HistoryRecord{}
		var message, errorKind, details sql.NullString

		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.Action, &rec.Status, &message, &errorKind, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		rec.Message = message.String
		rec.ErrorKind = errorKind.String
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &rec.Details); err != nil {
				log.Printf("[History] Error unmarshaling details: %v", err)
			}
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats counts records per action for a subject since a time.
func (l *Ledger) Stats(ctx context.Context, subjectID string, since time.Time) (map[string]int, error) {
	if l.db == nil {
		return nil, fmt.Errorf("database not available")
	}

	query := `SELECT action, COUNT(*) FROM history WHERE 1=1`
	args := make([]interface{}, 0)
	if subjectID != "" {
		query += " AND subject_id = ?"
		args = append(args, subjectID)
	}
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}
	query += " GROUP BY action"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan history stats: %w", err)
		}
		stats[action] = count
	}
	return stats, rows.Err()
}

// FromError builds a failed record carrying the error kind, step and
// truncated raw output.
func FromError(subjectID, action string, err error, details map[string]any) *models.HistoryRecord {
	if details == nil {
		details = make(map[string]any)
	}

	rec := &models.HistoryRecord{
		SubjectID: subjectID,
		Action:    action,
		Status:    models.HistoryFailed,
		Message:   err.Error(),
		ErrorKind: string(backuperr.KindOf(err)),
		Details:   details,
	}

	var be *backuperr.Error
	if errors.As(err, &be) {
		if be.Step > 0 {
			details["step"] = be.Step
		}
		if be.Output != "" {
			details["output"] = logging.Redact(be.Output)
		}
		if be.Op != "" {
			details["op"] = be.Op
		}
	}
	return rec
}

// Nop discards records.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, *models.HistoryRecord) error { return nil }
