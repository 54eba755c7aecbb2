// Package college is the relational store behind the registrar tools:
// departments, people, courses, enrollments, schedules and attendance.
// Tool executors receive a *Store explicitly; nothing in the package
// holds global state.
package college

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned (wrapped) when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Record is one row keyed by column name.
type Record map[string]any

// Filter restricts List to rows whose columns equal the given values.
type Filter map[string]any

// Store provides CRUD and domain queries over the college schema.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an open database and creates the schema if needed.
// Callers choose the driver: production opens sqlite3 files, tests use
// an in-memory database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("college store migrate: %w", err)
	}
	return s, nil
}

// Open opens (or creates) a college database file using the sqlite3
// driver, which must be registered by the caller.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("open college database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection so sibling stores can share it.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE COLLATE NOCASE,
		name       TEXT NOT NULL,
		role       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS departments (
		id          TEXT PRIMARY KEY,
		code        TEXT NOT NULL UNIQUE COLLATE NOCASE,
		name        TEXT NOT NULL,
		description TEXT,
		hod_name    TEXT,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS students (
		id            TEXT PRIMARY KEY,
		student_id    TEXT NOT NULL UNIQUE COLLATE NOCASE,
		user_id       TEXT REFERENCES users(id),
		name          TEXT NOT NULL,
		email         TEXT,
		department_id TEXT REFERENCES departments(id),
		semester      INTEGER,
		batch         TEXT,
		phone         TEXT,
		address       TEXT,
		date_of_birth TEXT,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_students_user ON students(user_id);

	CREATE TABLE IF NOT EXISTS teachers (
		id             TEXT PRIMARY KEY,
		teacher_id     TEXT NOT NULL UNIQUE COLLATE NOCASE,
		user_id        TEXT REFERENCES users(id),
		name           TEXT NOT NULL,
		email          TEXT,
		department_id  TEXT REFERENCES departments(id),
		designation    TEXT,
		specialization TEXT,
		phone          TEXT,
		office_room    TEXT,
		office_hours   TEXT,
		joining_date   TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_teachers_user ON teachers(user_id);

	CREATE TABLE IF NOT EXISTS courses (
		id            TEXT PRIMARY KEY,
		course_code   TEXT NOT NULL UNIQUE COLLATE NOCASE,
		course_name   TEXT NOT NULL,
		credits       INTEGER NOT NULL DEFAULT 3,
		department_id TEXT REFERENCES departments(id),
		semester      INTEGER,
		description   TEXT,
		syllabus      TEXT,
		max_students  INTEGER,
		is_active     INTEGER NOT NULL DEFAULT 1,
		teacher_id    TEXT REFERENCES teachers(id),
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_courses_teacher ON courses(teacher_id);

	CREATE TABLE IF NOT EXISTS enrollments (
		id          TEXT PRIMARY KEY,
		student_id  TEXT NOT NULL REFERENCES students(id),
		course_id   TEXT NOT NULL REFERENCES courses(id),
		status      TEXT NOT NULL DEFAULT 'ACTIVE',
		grade       TEXT,
		grade_points REAL,
		created_at  TEXT NOT NULL,
		UNIQUE(student_id, course_id)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id          TEXT PRIMARY KEY,
		course_id   TEXT NOT NULL REFERENCES courses(id),
		teacher_id  TEXT REFERENCES teachers(id),
		day_of_week TEXT NOT NULL,
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		room        TEXT,
		building    TEXT,
		type        TEXT NOT NULL DEFAULT 'LECTURE',
		is_active   INTEGER NOT NULL DEFAULT 1,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_course ON schedules(course_id);

	CREATE TABLE IF NOT EXISTS class_sessions (
		id         TEXT PRIMARY KEY,
		course_id  TEXT NOT NULL REFERENCES courses(id),
		teacher_id TEXT,
		date       TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time   TEXT NOT NULL,
		topic      TEXT,
		status     TEXT NOT NULL DEFAULT 'SCHEDULED',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_course_date ON class_sessions(course_id, date);

	CREATE TABLE IF NOT EXISTS student_attendance (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES class_sessions(id),
		student_id TEXT NOT NULL REFERENCES students(id),
		status     TEXT NOT NULL,
		remarks    TEXT,
		marked_by  TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(session_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS teacher_attendance (
		id         TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL REFERENCES teachers(id),
		course_id  TEXT,
		date       TEXT NOT NULL,
		status     TEXT NOT NULL,
		remarks    TEXT,
		marked_by  TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS timetables (
		id         TEXT PRIMARY KEY,
		semester   INTEGER NOT NULL,
		section    INTEGER NOT NULL,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`)
	return err
}

// newID returns a UUIDv7 string for a new row.
func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// scanRecords reads every row into a Record. []byte values are
// converted to strings so records marshal as readable JSON.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// String returns the string form of a record field, or "" when the
// field is absent or NULL.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// ID returns the surrogate id of the record.
func (r Record) ID() string { return r.String("id") }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
