package college

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// Attendance statuses accepted for students and teachers.
var AttendanceStatuses = []string{"PRESENT", "ABSENT", "LATE", "EXCUSED"}

// Default slot for sessions created implicitly while marking attendance.
const (
	DefaultSessionStart = "09:00"
	DefaultSessionEnd   = "10:00"
)

// GoodStandingPercent is the attendance percentage at or above which a
// student is reported in good standing.
const GoodStandingPercent = 75.0

const dateLayout = "2006-01-02"

// MarkRequest identifies a student attendance mark by human references.
type MarkRequest struct {
	CourseKey  string // course code, name or id
	StudentKey string // student number, email or id
	Status     string
	Date       string // YYYY-MM-DD; empty means today
	Remarks    string
	MarkedBy   string // user id of the caller making the mark
}

// BulkEntry is one student in a bulk attendance mark.
type BulkEntry struct {
	StudentKey string `json:"student_id"`
	Status     string `json:"status"`
	Remarks    string `json:"remarks,omitempty"`
}

// BulkResult reports the outcome of a bulk mark.
type BulkResult struct {
	SessionID string   `json:"session_id"`
	Records   []Record `json:"records"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Summary aggregates attendance records.
type Summary struct {
	Total      int     `json:"total_classes"`
	Attended   int     `json:"attended"`
	Percentage float64 `json:"attendance_percentage"`
}

// StudentStats is one student's attendance across all courses.
type StudentStats struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Summary
	Standing string `json:"standing"`
}

// NormalizeStatus upper-cases and validates an attendance status.
func NormalizeStatus(status string) (string, error) {
	st := strings.ToUpper(strings.TrimSpace(status))
	if !slices.Contains(AttendanceStatuses, st) {
		return "", fmt.Errorf("invalid attendance status %q (valid: %s)", status, strings.Join(AttendanceStatuses, ", "))
	}
	return st, nil
}

func (s *Store) normalizeDate(date string) (string, error) {
	if strings.TrimSpace(date) == "" {
		return s.now().Format(dateLayout), nil
	}
	// Accept full timestamps but store the calendar date only.
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(date)); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD)", date)
}

// FindOrCreateSession returns the first session of a course on a date,
// creating a conducted session in the default slot when none exists.
func (s *Store) FindOrCreateSession(ctx context.Context, course Record, date string) (Record, bool, error) {
	existing, err := s.List(ctx, Sessions, Filter{"course_id": course.ID(), "date": date})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing[0], false, nil
	}

	fields := Record{
		"course_id":  course.ID(),
		"date":       date,
		"start_time": DefaultSessionStart,
		"end_time":   DefaultSessionEnd,
		"status":     "CONDUCTED",
		"topic":      fmt.Sprintf("%s - %s", course.String("course_name"), date),
	}
	if t := course.String("teacher_id"); t != "" {
		fields["teacher_id"] = t
	}
	sess, err := s.Create(ctx, Sessions, fields)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// MarkStudentAttendance records (or overwrites) a student's status for
// the course session on the given date.
func (s *Store) MarkStudentAttendance(ctx context.Context, req MarkRequest) (Record, error) {
	status, err := NormalizeStatus(req.Status)
	if err != nil {
		return nil, err
	}
	date, err := s.normalizeDate(req.Date)
	if err != nil {
		return nil, err
	}
	course, err := s.Resolve(ctx, Courses, req.CourseKey)
	if err != nil {
		return nil, err
	}
	student, err := s.Resolve(ctx, Students, req.StudentKey)
	if err != nil {
		return nil, err
	}
	sess, _, err := s.FindOrCreateSession(ctx, course, date)
	if err != nil {
		return nil, err
	}
	return s.upsertMark(ctx, sess.ID(), student.ID(), status, req.Remarks, req.MarkedBy)
}

// BulkMarkStudentAttendance marks several students in one course
// session. Unknown students are skipped and reported rather than
// failing the whole batch.
func (s *Store) BulkMarkStudentAttendance(ctx context.Context, courseKey, date, markedBy string, entries []BulkEntry) (*BulkResult, error) {
	date, err := s.normalizeDate(date)
	if err != nil {
		return nil, err
	}
	course, err := s.Resolve(ctx, Courses, courseKey)
	if err != nil {
		return nil, err
	}
	// Validate every status before writing anything.
	statuses := make([]string, len(entries))
	for i, e := range entries {
		if statuses[i], err = NormalizeStatus(e.Status); err != nil {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.StudentKey, err)
		}
	}
	sess, _, err := s.FindOrCreateSession(ctx, course, date)
	if err != nil {
		return nil, err
	}

	res := &BulkResult{SessionID: sess.ID(), Records: []Record{}}
	for i, e := range entries {
		student, err := s.Resolve(ctx, Students, e.StudentKey)
		if IsNotFound(err) {
			res.Skipped = append(res.Skipped, e.StudentKey)
			continue
		} else if err != nil {
			return nil, err
		}
		rec, err := s.upsertMark(ctx, sess.ID(), student.ID(), statuses[i], e.Remarks, markedBy)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

func (s *Store) upsertMark(ctx context.Context, sessionID, studentID, status, remarks, markedBy string) (Record, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO student_attendance (id, session_id, student_id, status, remarks, marked_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, student_id) DO UPDATE SET
			status = excluded.status, remarks = excluded.remarks, marked_by = excluded.marked_by`,
		id, sessionID, studentID, status, nullIfEmpty(remarks), nullIfEmpty(markedBy), s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("mark attendance: %w", err)
	}
	recs, err := s.queryRecords(ctx,
		`SELECT * FROM student_attendance WHERE session_id = ? AND student_id = ?`, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("read attendance: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("attendance for session %s: %w", sessionID, ErrNotFound)
	}
	return recs[0], nil
}

// StudentAttendance returns a student's attendance records, newest
// first, optionally restricted to one course.
func (s *Store) StudentAttendance(ctx context.Context, studentID, courseID string) ([]Record, error) {
	q := `
		SELECT a.id, a.status, a.remarks, cs.date, cs.start_time, cs.topic,
		       c.course_code, c.course_name
		FROM student_attendance a
		JOIN class_sessions cs ON cs.id = a.session_id
		JOIN courses c ON c.id = cs.course_id
		WHERE a.student_id = ?`
	args := []any{studentID}
	if courseID != "" {
		q += ` AND c.id = ?`
		args = append(args, courseID)
	}
	recs, err := s.queryRecords(ctx, q+` ORDER BY cs.date DESC, cs.start_time`, args...)
	if err != nil {
		return nil, fmt.Errorf("student attendance: %w", err)
	}
	return recs, nil
}

// CourseAttendance returns the attendance marks for a course, optionally
// on a single date.
func (s *Store) CourseAttendance(ctx context.Context, courseID, date string) ([]Record, error) {
	q := `
		SELECT a.id, a.status, a.remarks, cs.date, st.student_id, st.name
		FROM student_attendance a
		JOIN class_sessions cs ON cs.id = a.session_id
		JOIN students st ON st.id = a.student_id
		WHERE cs.course_id = ?`
	args := []any{courseID}
	if date != "" {
		d, err := s.normalizeDate(date)
		if err != nil {
			return nil, err
		}
		q += ` AND cs.date = ?`
		args = append(args, d)
	}
	recs, err := s.queryRecords(ctx, q+` ORDER BY cs.date DESC, st.student_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("course attendance: %w", err)
	}
	return recs, nil
}

// Summarize counts attended classes. Only PRESENT counts as attended.
func Summarize(records []Record) Summary {
	sum := Summary{Total: len(records)}
	for _, r := range records {
		if r.String("status") == "PRESENT" {
			sum.Attended++
		}
	}
	if sum.Total > 0 {
		sum.Percentage = math.Round(float64(sum.Attended)/float64(sum.Total)*10000) / 100
	}
	return sum
}

// AllStudentStats returns attendance totals for every student.
func (s *Store) AllStudentStats(ctx context.Context) ([]StudentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.student_id, st.name,
		       COUNT(a.id),
		       COALESCE(SUM(CASE WHEN a.status = 'PRESENT' THEN 1 ELSE 0 END), 0)
		FROM students st
		LEFT JOIN student_attendance a ON a.student_id = st.id
		GROUP BY st.id
		ORDER BY st.student_id`)
	if err != nil {
		return nil, fmt.Errorf("attendance stats: %w", err)
	}
	defer rows.Close()

	var out []StudentStats
	for rows.Next() {
		var st StudentStats
		if err := rows.Scan(&st.StudentID, &st.Name, &st.Total, &st.Attended); err != nil {
			return nil, fmt.Errorf("scan attendance stats: %w", err)
		}
		if st.Total > 0 {
			st.Percentage = math.Round(float64(st.Attended)/float64(st.Total)*10000) / 100
		}
		st.Standing = "GOOD"
		if st.Total > 0 && st.Percentage < GoodStandingPercent {
			st.Standing = "AT_RISK"
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// TeacherMark identifies a teacher attendance mark by human references.
type TeacherMark struct {
	TeacherKey string
	CourseKey  string // optional
	Status     string
	Date       string
	Remarks    string
	MarkedBy   string
}

// MarkTeacherAttendance records a teacher's attendance for a date.
func (s *Store) MarkTeacherAttendance(ctx context.Context, m TeacherMark) (Record, error) {
	status, err := NormalizeStatus(m.Status)
	if err != nil {
		return nil, err
	}
	date, err := s.normalizeDate(m.Date)
	if err != nil {
		return nil, err
	}
	teacher, err := s.Resolve(ctx, Teachers, m.TeacherKey)
	if err != nil {
		return nil, err
	}
	fields := Record{
		"teacher_id": teacher.ID(),
		"date":       date,
		"status":     status,
		"remarks":    nullIfEmpty(m.Remarks),
		"marked_by":  nullIfEmpty(m.MarkedBy),
	}
	if m.CourseKey != "" {
		course, err := s.Resolve(ctx, Courses, m.CourseKey)
		if err != nil {
			return nil, err
		}
		fields["course_id"] = course.ID()
	}
	return s.Create(ctx, TeacherAttendance, fields)
}

// TeacherAttendanceRecords returns a teacher's attendance, optionally
// restricted to one course.
func (s *Store) TeacherAttendanceRecords(ctx context.Context, teacherID, courseID string) ([]Record, error) {
	q := `
		SELECT ta.id, ta.date, ta.status, ta.remarks, c.course_code
		FROM teacher_attendance ta
		LEFT JOIN courses c ON c.id = ta.course_id
		WHERE ta.teacher_id = ?`
	args := []any{teacherID}
	if courseID != "" {
		q += ` AND ta.course_id = ?`
		args = append(args, courseID)
	}
	recs, err := s.queryRecords(ctx, q+` ORDER BY ta.date DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("teacher attendance: %w", err)
	}
	return recs, nil
}

// AllTeacherStats returns attendance totals for every teacher.
func (s *Store) AllTeacherStats(ctx context.Context) ([]Record, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT t.teacher_id, t.name, COUNT(ta.id) AS total_days,
		       COALESCE(SUM(CASE WHEN ta.status = 'PRESENT' THEN 1 ELSE 0 END), 0) AS present_days
		FROM teachers t
		LEFT JOIN teacher_attendance ta ON ta.teacher_id = t.id
		GROUP BY t.id
		ORDER BY t.teacher_id`)
	if err != nil {
		return nil, fmt.Errorf("teacher attendance stats: %w", err)
	}
	return recs, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
