package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned by RunStore.Get for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Exhaustion reasons recorded on degraded runs.
const (
	ExhaustMaxRounds        = "max_rounds"
	ExhaustModelUnavailable = "model_unavailable"
	ExhaustCancelled        = "cancelled"
)

// RunRecord is the audit record of one RunTurn.
type RunRecord struct {
	ID            string         `json:"id"`
	ThreadID      string         `json:"thread_id"`
	CallerID      string         `json:"caller_id"`
	Role          string         `json:"role"`
	Model         string         `json:"model"`
	Rounds        int            `json:"rounds"`
	MaxRounds     int            `json:"max_rounds"`
	ToolCalls     int            `json:"tool_calls"`
	ToolErrors    int            `json:"tool_errors"`
	ToolsCalled   map[string]int `json:"tools_called,omitempty"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	Degraded      bool           `json:"degraded"`
	ExhaustReason string         `json:"exhaust_reason,omitempty"`
	Answer        string         `json:"answer"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMs    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"`
}

// RunStore persists run records. It shares a database with the other
// stores and creates its own table.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates the dispatch_runs table on db if needed.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("run store migrate: %w", err)
	}
	return s, nil
}

func (s *RunStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS dispatch_runs (
			id             TEXT PRIMARY KEY,
			thread_id      TEXT NOT NULL,
			caller_id      TEXT NOT NULL,
			role           TEXT NOT NULL,
			model          TEXT NOT NULL,
			rounds         INTEGER NOT NULL,
			max_rounds     INTEGER NOT NULL,
			tool_calls     INTEGER NOT NULL,
			tool_errors    INTEGER NOT NULL,
			tools_called   TEXT,
			input_tokens   INTEGER NOT NULL,
			output_tokens  INTEGER NOT NULL,
			degraded       BOOLEAN NOT NULL DEFAULT 0,
			exhaust_reason TEXT,
			answer         TEXT,
			started_at     TEXT NOT NULL,
			completed_at   TEXT NOT NULL,
			duration_ms    INTEGER NOT NULL,
			error          TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_dispatch_runs_thread
			ON dispatch_runs(thread_id, started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_dispatch_runs_started
			ON dispatch_runs(started_at DESC);
	`)
	return err
}

// Record inserts a run record.
func (s *RunStore) Record(ctx context.Context, rec *RunRecord) error {
	toolsJSON, err := json.Marshal(rec.ToolsCalled)
	if err != nil {
		return fmt.Errorf("marshal tools_called: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dispatch_runs (
			id, thread_id, caller_id, role, model,
			rounds, max_rounds, tool_calls, tool_errors, tools_called,
			input_tokens, output_tokens, degraded, exhaust_reason, answer,
			started_at, completed_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, rec.CallerID, rec.Role, rec.Model,
		rec.Rounds, rec.MaxRounds, rec.ToolCalls, rec.ToolErrors, string(toolsJSON),
		rec.InputTokens, rec.OutputTokens, rec.Degraded, rec.ExhaustReason, rec.Answer,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.CompletedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMs, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

const runColumns = `id, thread_id, caller_id, role, model,
	rounds, max_rounds, tool_calls, tool_errors, tools_called,
	input_tokens, output_tokens, degraded, exhaust_reason, answer,
	started_at, completed_at, duration_ms, error`

// Get returns a single run record.
func (s *RunStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM dispatch_runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	return rec, err
}

// List returns run records newest first, optionally for one thread. A
// limit of 0 returns all records.
func (s *RunStore) List(ctx context.Context, threadID string, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM dispatch_runs`
	var args []any
	if threadID != "" {
		query += ` WHERE thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var rec RunRecord
	var toolsJSON, exhaustReason, answer, errStr sql.NullString
	var startedAt, completedAt string

	err := s.Scan(
		&rec.ID, &rec.ThreadID, &rec.CallerID, &rec.Role, &rec.Model,
		&rec.Rounds, &rec.MaxRounds, &rec.ToolCalls, &rec.ToolErrors, &toolsJSON,
		&rec.InputTokens, &rec.OutputTokens, &rec.Degraded, &exhaustReason, &answer,
		&startedAt, &completedAt, &rec.DurationMs, &errStr,
	)
	if err != nil {
		return nil, err
	}

	rec.ExhaustReason = exhaustReason.String
	rec.Answer = answer.String
	rec.Error = errStr.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
	if toolsJSON.Valid && toolsJSON.String != "" && toolsJSON.String != "null" {
		_ = json.Unmarshal([]byte(toolsJSON.String), &rec.ToolsCalled)
	}
	return &rec, nil
}
