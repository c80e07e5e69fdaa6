// Package history persists execution outcomes in a local SQLite database.
// The audit log answers "what was decided"; history answers "what ran and
// how it went", queryable by client and time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id             TEXT PRIMARY KEY,
	ts             TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	client         TEXT NOT NULL,
	tool           TEXT NOT NULL,
	resource       TEXT NOT NULL,
	status         TEXT NOT NULL,
	exit_code      INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	stdout_bytes   INTEGER NOT NULL DEFAULT 0,
	stderr_bytes   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(ts);
CREATE INDEX IF NOT EXISTS idx_executions_client ON executions(client);
`

// Execution is one recorded run.
type Execution struct {
	ID            string    `json:"execution_id"`
	Timestamp     time.Time `json:"ts"`
	CorrelationID string    `json:"correlation_id"`
	Client        string    `json:"client"`
	Tool          string    `json:"tool"`
	Resource      string    `json:"resource"`
	Status        string    `json:"status"`
	ExitCode      int       `json:"exit_code"`
	Success       bool      `json:"success"`
	DurationMS    int64     `json:"duration_ms"`
	StdoutBytes   int       `json:"stdout_bytes"`
	StderrBytes   int       `json:"stderr_bytes"`
}

// Store wraps the executions database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	// One writer at a time; WAL keeps readers out of the writer's way.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one execution.
func (s *Store) Record(ctx context.Context, e Execution) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, ts, correlation_id, client, tool, resource, status, exit_code, success, duration_ms, stdout_bytes, stderr_bytes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.CorrelationID, e.Client,
		e.Tool, e.Resource, e.Status, e.ExitCode, boolToInt(e.Success), e.DurationMS,
		e.StdoutBytes, e.StderrBytes)
	if err != nil {
		return fmt.Errorf("history: record execution: %w", err)
	}
	return nil
}

// Recent returns up to limit executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Execution, error) {
	return s.query(ctx,
		`SELECT id, ts, correlation_id, client, tool, resource, status, exit_code, success, duration_ms, stdout_bytes, stderr_bytes
		 FROM executions ORDER BY ts DESC LIMIT ?`, clampLimit(limit))
}

// RecentByClient returns up to limit executions for one client, newest first.
func (s *Store) RecentByClient(ctx context.Context, client string, limit int) ([]Execution, error) {
	return s.query(ctx,
		`SELECT id, ts, correlation_id, client, tool, resource, status, exit_code, success, duration_ms, stdout_bytes, stderr_bytes
		 FROM executions WHERE client = ? ORDER BY ts DESC LIMIT ?`, client, clampLimit(limit))
}

// Count reports the number of recorded executions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count executions: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var ts string
		var success int
		if err := rows.Scan(&e.ID, &ts, &e.CorrelationID, &e.Client, &e.Tool, &e.Resource,
			&e.Status, &e.ExitCode, &success, &e.DurationMS,
			&e.StdoutBytes, &e.StderrBytes); err != nil {
			return nil, fmt.Errorf("history: scan execution: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Success = success != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate executions: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
