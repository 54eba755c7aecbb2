package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteStore is a SQLite-backed conversation store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the schema on db if needed. The caller owns
// the connection.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		role       TEXT NOT NULL,
		title      TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		thread_id    TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		speaker      TEXT NOT NULL,
		content      TEXT NOT NULL,
		tool_calls   TEXT,
		tool_call_id TEXT,
		created_at   TEXT NOT NULL,
		PRIMARY KEY (thread_id, seq)
	);
	`)
	return err
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateThread starts a new thread owned by ownerID.
func (s *SQLiteStore) CreateThread(ctx context.Context, ownerID, role, title string) (*Thread, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate thread id: %w", err)
	}
	if title == "" {
		title = DefaultTitle
	}
	ts := s.timestamp()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, owner_id, role, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), ownerID, role, title, ts, ts); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return s.GetThread(ctx, id.String())
}

// GetThread returns a thread's metadata.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, role, title, created_at, updated_at FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return t, nil
}

// ListThreads returns an owner's threads, most recently active first.
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, role, title, created_at, updated_at
		FROM threads WHERE owner_id = ? ORDER BY updated_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RenameThread sets a thread's title.
func (s *SQLiteStore) RenameThread(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`,
		title, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("rename thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	return nil
}

// DeleteThread removes a thread and its turns.
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	return tx.Commit()
}

// Load returns a thread's turns in sequence order.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, speaker, content, tool_calls, tool_call_id, created_at
		FROM turns WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		t := Turn{ThreadID: threadID}
		var toolCalls, toolCallID sql.NullString
		var created string
		if err := rows.Scan(&t.Seq, &t.Speaker, &t.Content, &toolCalls, &toolCallID, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of turn %d: %w", t.Seq, err)
			}
		}
		t.ToolCallID = toolCallID.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Append stores turns in one transaction. The sequence base is read
// inside the write transaction and (thread_id, seq) is the primary key,
// so a racing writer fails instead of interleaving.
func (s *SQLiteStore) Append(ctx context.Context, threadID string, turns ...Turn) ([]Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Touch the thread first so SQLite takes the write lock before the
	// sequence base is read.
	ts := s.timestamp()
	res, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, ts, threadID)
	if err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE thread_id = ?`, threadID).Scan(&last); err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	out := make([]Turn, len(turns))
	created := s.now()
	for i, t := range turns {
		t.ThreadID = threadID
		t.Seq = last + 1 + i
		t.CreatedAt = created
		if err := insertTurn(ctx, tx, t, ts); err != nil {
			return nil, err
		}
		out[i] = t
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return out, nil
}

// EnsureSystem inserts the system turn at the reserved sequence slot.
func (s *SQLiteStore) EnsureSystem(ctx context.Context, threadID, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO turns (thread_id, seq, speaker, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, threadID, systemSeq, System, content, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("insert system turn: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTurn(ctx context.Context, db execer, t Turn, ts string) error {
	var toolCalls sql.NullString
	if len(t.ToolCalls) > 0 {
		b, err := json.Marshal(t.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = sql.NullString{String: string(b), Valid: true}
	}
	var toolCallID sql.NullString
	if t.ToolCallID != "" {
		toolCallID = sql.NullString{String: t.ToolCallID, Valid: true}
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO turns (thread_id, seq, speaker, content, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.Seq, t.Speaker, t.Content, toolCalls, toolCallID, ts); err != nil {
		return fmt.Errorf("insert turn %d: %w", t.Seq, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var created, updated string
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Role, &t.Title, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &t, nil
}

var _ Store = (*SQLiteStore)(nil)
