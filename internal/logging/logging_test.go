package logging

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE run_log (
		run_id      TEXT NOT NULL,
		kind        TEXT NOT NULL,
		inputs      TEXT,
		records     INTEGER NOT NULL,
		traces      INTEGER NOT NULL,
		outcome     TEXT NOT NULL,
		reason      TEXT,
		duration_ms INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-run-tests
func TestLogRun_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := RunEntry{
		RunID:     "r1",
		Kind:      "extract",
		Inputs:    "flows.csv",
		Records:   1200,
		Traces:    87,
		Outcome:   "ok",
		Duration:  1500 * time.Millisecond,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogRun(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var runID, outcome string
	var traces, ms int
	db.QueryRow("SELECT run_id, outcome, traces, duration_ms FROM run_log").Scan(&runID, &outcome, &traces, &ms)
	if runID != "r1" || outcome != "ok" {
		t.Errorf("unexpected row %q %q", runID, outcome)
	}
	if traces != 87 {
		t.Errorf("expected 87 traces, got %d", traces)
	}
	if ms != 1500 {
		t.Errorf("expected 1500ms, got %d", ms)
	}
}

func TestLogRun_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogRun(db, RunEntry{RunID: "r2", Kind: "replay", Outcome: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	var inputs, reason sql.NullString
	db.QueryRow("SELECT created_at, inputs, reason FROM run_log").Scan(&createdAtStr, &inputs, &reason)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
	if inputs.Valid || reason.Valid {
		t.Error("expected NULL for empty optional fields")
	}
}

func TestLogRun_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	if err := LogRun(db, RunEntry{RunID: "r3", Kind: "extract", Outcome: "failed"}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-run-tests

// #region logger-tests
func TestNewLogger_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowtrace.log")
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.File = path

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("segment emitted")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"message":"segment emitted"`) || !strings.Contains(line, `"level":"debug"`) {
		t.Errorf("unexpected log line %q", line)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := NewLogger(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

// #endregion logger-tests
