package college

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Entity describes one table for the generic CRUD operations. Column
// names used in SQL always come from these definitions, never from
// caller input.
type Entity struct {
	// Name is the human-readable singular name used in errors.
	Name  string
	Table string
	// Columns are the writable columns, excluding id and created_at.
	Columns  []string
	Required []string
	// NaturalKeys are tried in order, case-insensitively, by Resolve
	// before falling back to the surrogate id.
	NaturalKeys []string
	// OrderBy is the default List ordering.
	OrderBy string
}

// The college schema.
var (
	Users = &Entity{
		Name: "user", Table: "users",
		Columns:     []string{"email", "name", "role"},
		Required:    []string{"email", "name", "role"},
		NaturalKeys: []string{"email"},
		OrderBy:     "name",
	}
	Departments = &Entity{
		Name: "department", Table: "departments",
		Columns:     []string{"code", "name", "description", "hod_name"},
		Required:    []string{"code", "name"},
		NaturalKeys: []string{"code", "name"},
		OrderBy:     "code",
	}
	Students = &Entity{
		Name: "student", Table: "students",
		Columns: []string{"student_id", "user_id", "name", "email", "department_id",
			"semester", "batch", "phone", "address", "date_of_birth"},
		Required:    []string{"student_id", "name"},
		NaturalKeys: []string{"student_id", "email"},
		OrderBy:     "student_id",
	}
	Teachers = &Entity{
		Name: "teacher", Table: "teachers",
		Columns: []string{"teacher_id", "user_id", "name", "email", "department_id",
			"designation", "specialization", "phone", "office_room", "office_hours", "joining_date"},
		Required:    []string{"teacher_id", "name"},
		NaturalKeys: []string{"teacher_id", "email"},
		OrderBy:     "teacher_id",
	}
	Courses = &Entity{
		Name: "course", Table: "courses",
		Columns: []string{"course_code", "course_name", "credits", "department_id", "semester",
			"description", "syllabus", "max_students", "is_active", "teacher_id"},
		Required:    []string{"course_code", "course_name"},
		NaturalKeys: []string{"course_code", "course_name"},
		OrderBy:     "course_code",
	}
	Enrollments = &Entity{
		Name: "enrollment", Table: "enrollments",
		Columns:  []string{"student_id", "course_id", "status", "grade", "grade_points"},
		Required: []string{"student_id", "course_id"},
		OrderBy:  "created_at",
	}
	Schedules = &Entity{
		Name: "schedule", Table: "schedules",
		Columns: []string{"course_id", "teacher_id", "day_of_week", "start_time", "end_time",
			"room", "building", "type", "is_active"},
		Required: []string{"course_id", "day_of_week", "start_time", "end_time"},
		OrderBy:  "day_of_week, start_time",
	}
	Sessions = &Entity{
		Name: "class session", Table: "class_sessions",
		Columns:  []string{"course_id", "teacher_id", "date", "start_time", "end_time", "topic", "status"},
		Required: []string{"course_id", "date", "start_time", "end_time"},
		OrderBy:  "date DESC, start_time",
	}
	StudentAttendance = &Entity{
		Name: "student attendance record", Table: "student_attendance",
		Columns:  []string{"session_id", "student_id", "status", "remarks", "marked_by"},
		Required: []string{"session_id", "student_id", "status"},
		OrderBy:  "created_at",
	}
	TeacherAttendance = &Entity{
		Name: "teacher attendance record", Table: "teacher_attendance",
		Columns:  []string{"teacher_id", "course_id", "date", "status", "remarks", "marked_by"},
		Required: []string{"teacher_id", "date", "status"},
		OrderBy:  "date DESC",
	}
	Timetables = &Entity{
		Name: "timetable", Table: "timetables",
		Columns:  []string{"semester", "section", "data"},
		Required: []string{"semester", "section", "data"},
		OrderBy:  "semester, section",
	}
)

func (e *Entity) checkColumns(fields Record) error {
	for k := range fields {
		if !slices.Contains(e.Columns, k) {
			return fmt.Errorf("unknown %s field %q", e.Name, k)
		}
	}
	return nil
}

func (e *Entity) orderBy() string {
	if e.OrderBy == "" {
		return "id"
	}
	return e.OrderBy
}

// List returns every row of e matching filter.
func (s *Store) List(ctx context.Context, e *Entity, filter Filter) ([]Record, error) {
	if err := e.checkColumns(Record(filter)); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		where = append(where, k+" = ?")
		args = append(args, filter[k])
	}

	q := "SELECT * FROM " + e.Table
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY " + e.orderBy()

	recs, err := s.queryRecords(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", e.Table, err)
	}
	return recs, nil
}

// Get returns the row of e with the given surrogate id.
func (s *Store) Get(ctx context.Context, e *Entity, id string) (Record, error) {
	recs, err := s.queryRecords(ctx, "SELECT * FROM "+e.Table+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", e.Name, err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s %q: %w", e.Name, id, ErrNotFound)
	}
	return recs[0], nil
}

// Resolve finds a row by any of e's natural keys, matched
// case-insensitively in declaration order, and falls back to the
// surrogate id. It is the one place tools turn a human reference like
// "cs101" or "Data Structures" into a row.
func (s *Store) Resolve(ctx context.Context, e *Entity, key string) (Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%s reference is empty: %w", e.Name, ErrNotFound)
	}
	for _, col := range e.NaturalKeys {
		recs, err := s.queryRecords(ctx,
			"SELECT * FROM "+e.Table+" WHERE "+col+" = ? COLLATE NOCASE LIMIT 1", key)
		if err != nil {
			return nil, fmt.Errorf("resolve %s by %s: %w", e.Name, col, err)
		}
		if len(recs) > 0 {
			return recs[0], nil
		}
	}
	return s.Get(ctx, e, key)
}

// Create inserts a row and returns it as stored. Nil values are left
// to column defaults.
func (s *Store) Create(ctx context.Context, e *Entity, fields Record) (Record, error) {
	if err := e.checkColumns(fields); err != nil {
		return nil, err
	}
	for _, req := range e.Required {
		if v, ok := fields[req]; !ok || v == nil || v == "" {
			return nil, fmt.Errorf("%s: %s is required", e.Name, req)
		}
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}

	cols := []string{"id", "created_at"}
	args := []any{id, s.timestamp()}
	for _, c := range e.Columns {
		if v, ok := fields[c]; ok && v != nil {
			cols = append(cols, c)
			args = append(args, v)
		}
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", e.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("create %s: %w", e.Name, err)
	}
	return s.Get(ctx, e, id)
}

// Update applies fields to the row with the given id and returns the
// updated row.
func (s *Store) Update(ctx context.Context, e *Entity, id string, fields Record) (Record, error) {
	if err := e.checkColumns(fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return s.Get(ctx, e, id)
	}

	var sets []string
	var args []any
	for _, c := range e.Columns {
		if v, ok := fields[c]; ok {
			sets = append(sets, c+" = ?")
			args = append(args, v)
		}
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE "+e.Table+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", e.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s %q: %w", e.Name, id, ErrNotFound)
	}
	return s.Get(ctx, e, id)
}

// Delete removes the row with the given id.
func (s *Store) Delete(ctx context.Context, e *Entity, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+e.Table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", e.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %q: %w", e.Name, id, ErrNotFound)
	}
	return nil
}

// IsNotFound reports whether err wraps ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
