// Package store persists pipeline run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mediadigest/internal/logging"
)

// ErrEmptySource rejects runs created without a source URL or path.
var ErrEmptySource = errors.New("empty source")

// Run represents a row in the runs table: one trip through the
// pipeline for one source.
type Run struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Stage        string    `json:"stage"`  // download|extract|transcribe|analyze
	Status       string    `json:"status"` // queued|running|completed|failed
	Progress     float64   `json:"progress"`
	Artifacts    []string  `json:"artifacts,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store wraps an sql.DB and provides typed helpers.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at path and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    stage TEXT,
    status TEXT,
    progress REAL,
    artifacts TEXT,
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}

	// Columns added after the first release; existing databases get them
	// on open.
	if err := ensureColumn(db, "runs", "artifacts", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(db, "runs", "error_message", "TEXT"); err != nil {
		return err
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, colType string) error {
	hasCol, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if hasCol {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a queued run.
func (s *Store) CreateRun(ctx context.Context, id, source string) error {
	if strings.TrimSpace(source) == "" {
		return ErrEmptySource
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, source, stage, status, progress, artifacts)
VALUES (?, ?, '', 'queued', 0, '[]')`, id, source)
	logging.LogDBOperation("create_run", id, err)
	return err
}

// SetStage marks a run as running the given stage and resets its
// per-stage progress.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE runs SET stage = ?, status = 'running', progress = 0, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, stage, id)
	logging.LogDBOperation("set_stage", id, err)
	return err
}

// UpdateProgress sets progress (0-100) and bumps updated_at.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE runs SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, progress, id)
	return err
}

// AddArtifact appends an output file path to the run's artifact list.
// The read-modify-write runs in one transaction; artifact hooks fire
// concurrently and must not lose each other's appends.
func (s *Store) AddArtifact(ctx context.Context, id, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT artifacts FROM runs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}

	artifacts := parseArtifacts(raw.String)
	for _, p := range artifacts {
		if p == path {
			return tx.Commit()
		}
	}
	payload, err := json.Marshal(append(artifacts, path))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE runs SET artifacts = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(payload), id); err != nil {
		logging.LogDBOperation("add_artifact", id, err)
		return err
	}
	err = tx.Commit()
	logging.LogDBOperation("add_artifact", id, err)
	return err
}

// MarkCompleted transitions a run to completed with full progress.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = 'completed', progress = 100, error_message = NULL, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, id)
	logging.LogDBOperation("mark_completed", id, err)
	return err
}

// MarkFailed transitions a run to failed, recording the message.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = 'failed', error_message = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?`, strings.TrimSpace(errMsg), id)
	logging.LogDBOperation("mark_failed", id, err)
	return err
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	var r Run
	var artifacts, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT id, source, stage, status, progress, artifacts, error_message, created_at, updated_at
FROM runs WHERE id = ?`, id).Scan(
		&r.ID, &r.Source, &r.Stage, &r.Status, &r.Progress, &artifacts, &errMsg, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	r.Artifacts = parseArtifacts(artifacts.String)
	r.ErrorMessage = errMsg.String
	return r, true, nil
}

// ListFilter narrows and orders ListRuns results.
type ListFilter struct {
	Status string // optional: queued|running|completed|failed
	Limit  int
	Offset int
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, f ListFilter) ([]Run, error) {
	var args []any
	sb := strings.Builder{}
	sb.WriteString(`SELECT id, source, stage, status, progress, artifacts, error_message, created_at, updated_at FROM runs`)
	if f.Status != "" {
		sb.WriteString(" WHERE status = ?")
		args = append(args, f.Status)
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Run, 0, 32)
	for rows.Next() {
		var r Run
		var artifacts, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Source, &r.Stage, &r.Status, &r.Progress, &artifacts, &errMsg, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Artifacts = parseArtifacts(artifacts.String)
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus returns how many runs carry the given status.
func (s *Store) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE status = ?`, status).Scan(&count)
	return count, err
}

func parseArtifacts(input string) []string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}
	var parsed []string
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil
	}
	if len(parsed) == 0 {
		return nil
	}
	return parsed
}
