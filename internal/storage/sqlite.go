package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. busyTimeout bounds lock waits for concurrent
// webhook deliveries.
func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := validateSQLiteFilesystem(path); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
  id                    TEXT PRIMARY KEY,
  agent_name            TEXT NOT NULL,
  agent_version         TEXT,
  team_name             TEXT,
  level                 INTEGER NOT NULL,
  split                 TEXT NOT NULL,
  accuracy              REAL NOT NULL,
  correct_tasks         INTEGER NOT NULL,
  total_tasks           INTEGER NOT NULL,
  average_time_per_task REAL,
  total_time_seconds    REAL,
  errors                INTEGER NOT NULL DEFAULT 0,
  task_results          JSON,
  source_repo           TEXT,
  commit_sha            TEXT,
  branch                TEXT,
  model_used            TEXT,
  environment           TEXT,
  verified              INTEGER NOT NULL DEFAULT 0,
  verification_notes    TEXT,
  created_at            TEXT NOT NULL,
  updated_at            TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS leaderboard_entries (
  id                    INTEGER PRIMARY KEY AUTOINCREMENT,
  scope                 TEXT NOT NULL,
  name                  TEXT NOT NULL,
  level                 INTEGER NOT NULL,
  split                 TEXT NOT NULL,
  rank                  INTEGER NOT NULL,
  accuracy              REAL NOT NULL,
  correct_tasks         INTEGER NOT NULL,
  total_tasks           INTEGER NOT NULL,
  average_time_per_task REAL,
  model_used            TEXT,
  verified              INTEGER NOT NULL DEFAULT 0,
  submission_id         TEXT NOT NULL,
  submitted_at          TEXT NOT NULL,
  refreshed_at          TEXT NOT NULL,
  UNIQUE(scope, level, split, name)
);`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
  delivery_id      TEXT PRIMARY KEY,
  event_type       TEXT NOT NULL,
  payload          TEXT NOT NULL,
  payload_digest   TEXT NOT NULL,
  source_repo      TEXT,
  commit_sha       TEXT,
  outcome          TEXT NOT NULL,
  processed        INTEGER NOT NULL DEFAULT 0,
  processing_error TEXT,
  submission_id    TEXT,
  received_at      TEXT NOT NULL,
  processed_at     TEXT
);`,
		`CREATE INDEX IF NOT EXISTS submissions_team_level_split_idx ON submissions(team_name, level, split);`,
		`CREATE INDEX IF NOT EXISTS submissions_agent_created_at_idx ON submissions(agent_name, created_at);`,
		`CREATE INDEX IF NOT EXISTS submissions_level_split_idx ON submissions(level, split);`,
		`CREATE INDEX IF NOT EXISTS leaderboard_entries_level_rank_idx ON leaderboard_entries(level, rank);`,
		`CREATE INDEX IF NOT EXISTS webhook_events_received_at_idx ON webhook_events(received_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
