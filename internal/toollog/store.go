// Package toollog persists every tool execution so the history survives
// restarts and can be queried from the API. Records are append-only and
// indexed by time and tool name.
package toollog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/subzero/internal/tools"
)

// Record is one persisted tool execution.
type Record struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Tier       string            `json:"tier"`
	Params     map[string]string `json:"params,omitempty"`
	Success    bool              `json:"success"`
	Retryable  bool              `json:"retryable,omitempty"`
	Output     string            `json:"output"`
	DurationMS int64             `json:"duration_ms"`
}

// Summary holds per-tool execution counts.
type Summary struct {
	Calls    int `json:"calls"`
	Failures int `json:"failures"`
}

// maxOutput bounds the stored output of a single execution.
const maxOutput = 4000

// Store is an append-only SQLite store of tool executions. It
// implements [tools.Recorder].
type Store struct {
	db *sql.DB
}

// NewStore opens the tool log at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open tool log database: %w", err)
	}
	s, err := NewStoreDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreDB wraps an open database, creating the schema if needed.
func NewStoreDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate tool log schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_executions (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		tool        TEXT NOT NULL,
		tier        TEXT NOT NULL,
		params      TEXT,
		success     INTEGER NOT NULL,
		retryable   INTEGER NOT NULL,
		output      TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tool_exec_timestamp ON tool_executions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tool_exec_tool ON tool_executions(tool);
	`)
	return err
}

// Record persists one executor log entry.
func (s *Store) Record(ctx context.Context, e tools.LogEntry) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate record ID: %w", err)
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var params []byte
	if len(e.Params) > 0 {
		if params, err = json.Marshal(e.Params); err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
	}
	output := e.Result.Output
	if len(output) > maxOutput {
		output = output[:maxOutput]
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tool_executions
			(id, timestamp, tool, tier, params, success, retryable, output, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(),
		ts.UTC().Format(time.RFC3339Nano),
		e.Tool,
		e.Tier.String(),
		string(params),
		e.Result.Success,
		e.Result.Retryable,
		output,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert tool execution: %w", err)
	}
	return nil
}

// Recent returns up to limit executions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, tool, tier, COALESCE(params, ''), success, retryable, output, duration_ms
		 FROM tool_executions
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool executions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r      Record
			ts     string
			params string
		)
		if err := rows.Scan(&r.ID, &ts, &r.Tool, &r.Tier, &params, &r.Success, &r.Retryable, &r.Output, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan tool execution: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if params != "" {
			if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
				return nil, fmt.Errorf("decode params for %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SummaryByTool returns call and failure counts per tool since start.
func (s *Store) SummaryByTool(ctx context.Context, start time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		 FROM tool_executions
		 WHERE timestamp >= ?
		 GROUP BY tool`,
		start.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query tool summary: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var tool string
		var sum Summary
		if err := rows.Scan(&tool, &sum.Calls, &sum.Failures); err != nil {
			return nil, fmt.Errorf("scan tool summary: %w", err)
		}
		result[tool] = &sum
	}
	return result, rows.Err()
}
