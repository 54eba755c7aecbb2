package college

import (
	"context"
	"fmt"
	"slices"
)

// Weekdays in timetable order.
var Weekdays = []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"}

// ClassSlot is one scheduled class in a timetable.
type ClassSlot struct {
	ScheduleID string `json:"schedule_id"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	Teacher    string `json:"teacher,omitempty"`
	DayOfWeek  string `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Room       string `json:"room,omitempty"`
	Building   string `json:"building,omitempty"`
	Type       string `json:"type"`
}

// DaySchedule groups a day's classes in start-time order.
type DaySchedule struct {
	Day     string      `json:"day"`
	Classes []ClassSlot `json:"classes"`
}

const slotSelect = `
	SELECT s.id, c.course_code, c.course_name, COALESCE(t.name, ''), s.day_of_week,
	       s.start_time, s.end_time, COALESCE(s.room, ''), COALESCE(s.building, ''), s.type
	FROM schedules s
	JOIN courses c ON c.id = s.course_id
	LEFT JOIN teachers t ON t.id = COALESCE(s.teacher_id, c.teacher_id)
	WHERE s.is_active = 1`

func (s *Store) slots(ctx context.Context, clause string, args ...any) ([]ClassSlot, error) {
	rows, err := s.db.QueryContext(ctx, slotSelect+clause+" ORDER BY s.start_time", args...)
	if err != nil {
		return nil, fmt.Errorf("query timetable: %w", err)
	}
	defer rows.Close()

	var out []ClassSlot
	for rows.Next() {
		var c ClassSlot
		if err := rows.Scan(&c.ScheduleID, &c.CourseCode, &c.CourseName, &c.Teacher, &c.DayOfWeek,
			&c.StartTime, &c.EndTime, &c.Room, &c.Building, &c.Type); err != nil {
			return nil, fmt.Errorf("scan timetable: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StudentTimetable returns the weekly grid for a student's active
// enrollments.
func (s *Store) StudentTimetable(ctx context.Context, studentID string) ([]DaySchedule, error) {
	slots, err := s.slots(ctx, ` AND s.course_id IN (
		SELECT course_id FROM enrollments WHERE student_id = ? AND status = 'ACTIVE')`, studentID)
	if err != nil {
		return nil, err
	}
	return Grid(slots), nil
}

// TeacherTimetable returns the weekly grid of classes a teacher leads,
// either directly on the schedule or as the course's teacher.
func (s *Store) TeacherTimetable(ctx context.Context, teacherID string) ([]DaySchedule, error) {
	slots, err := s.slots(ctx, ` AND COALESCE(s.teacher_id, c.teacher_id) = ?`, teacherID)
	if err != nil {
		return nil, err
	}
	return Grid(slots), nil
}

// CourseSchedule returns the active slots for one course.
func (s *Store) CourseSchedule(ctx context.Context, courseID string) ([]ClassSlot, error) {
	return s.slots(ctx, ` AND s.course_id = ?`, courseID)
}

// FullTimetable returns every active slot grouped by day.
func (s *Store) FullTimetable(ctx context.Context) ([]DaySchedule, error) {
	slots, err := s.slots(ctx, "")
	if err != nil {
		return nil, err
	}
	return Grid(slots), nil
}

// Grid groups slots by weekday in calendar order, dropping empty days.
func Grid(slots []ClassSlot) []DaySchedule {
	byDay := map[string][]ClassSlot{}
	for _, sl := range slots {
		byDay[sl.DayOfWeek] = append(byDay[sl.DayOfWeek], sl)
	}
	var out []DaySchedule
	for _, d := range Weekdays {
		if classes, ok := byDay[d]; ok {
			out = append(out, DaySchedule{Day: d, Classes: classes})
			delete(byDay, d)
		}
	}
	// Non-standard day labels go last, sorted for stable output.
	var rest []string
	for d := range byDay {
		rest = append(rest, d)
	}
	slices.Sort(rest)
	for _, d := range rest {
		out = append(out, DaySchedule{Day: d, Classes: byDay[d]})
	}
	return out
}

// StudentByUser returns the student profile linked to a user account.
func (s *Store) StudentByUser(ctx context.Context, userID string) (Record, error) {
	return s.byUser(ctx, Students, userID)
}

// TeacherByUser returns the teacher profile linked to a user account.
func (s *Store) TeacherByUser(ctx context.Context, userID string) (Record, error) {
	return s.byUser(ctx, Teachers, userID)
}

func (s *Store) byUser(ctx context.Context, e *Entity, userID string) (Record, error) {
	recs, err := s.List(ctx, e, Filter{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s profile for user %q: %w", e.Name, userID, ErrNotFound)
	}
	return recs[0], nil
}

// StudentEnrollments returns a student's enrollments joined with
// course, teacher and department details.
func (s *Store) StudentEnrollments(ctx context.Context, studentID string) ([]Record, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT e.id AS enrollment_id, e.status, e.grade, e.grade_points,
		       c.id AS course_id, c.course_code, c.course_name, c.credits, c.semester,
		       COALESCE(t.name, 'TBA') AS teacher, d.name AS department
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		LEFT JOIN teachers t ON t.id = c.teacher_id
		LEFT JOIN departments d ON d.id = c.department_id
		WHERE e.student_id = ?
		ORDER BY c.course_code`, studentID)
	if err != nil {
		return nil, fmt.Errorf("student enrollments: %w", err)
	}
	return recs, nil
}

// TeacherCourses returns the courses a teacher is assigned to.
func (s *Store) TeacherCourses(ctx context.Context, teacherID string) ([]Record, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT c.id, c.course_code, c.course_name, c.credits, c.semester, d.name AS department,
		       (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.status = 'ACTIVE') AS enrolled
		FROM courses c
		LEFT JOIN departments d ON d.id = c.department_id
		WHERE c.teacher_id = ?
		ORDER BY c.course_code`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("teacher courses: %w", err)
	}
	return recs, nil
}

// StudentsInCourse returns the students actively enrolled in a course.
func (s *Store) StudentsInCourse(ctx context.Context, courseID string) ([]Record, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT st.id, st.student_id, st.name, st.email, st.semester, e.status AS enrollment_status
		FROM enrollments e
		JOIN students st ON st.id = e.student_id
		WHERE e.course_id = ? AND e.status = 'ACTIVE'
		ORDER BY st.student_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("students in course: %w", err)
	}
	return recs, nil
}

// SubjectsDetails returns every active course with its teacher and
// weekly contact hours, the input a timetable planner works from.
func (s *Store) SubjectsDetails(ctx context.Context) ([]Record, error) {
	recs, err := s.queryRecords(ctx, `
		SELECT c.course_code, c.course_name, c.credits, c.semester,
		       COALESCE(t.name, 'TBA') AS teacher,
		       (SELECT COUNT(*) FROM schedules s WHERE s.course_id = c.id AND s.is_active = 1) AS weekly_slots
		FROM courses c
		LEFT JOIN teachers t ON t.id = c.teacher_id
		WHERE c.is_active = 1
		ORDER BY c.semester, c.course_code`)
	if err != nil {
		return nil, fmt.Errorf("subjects details: %w", err)
	}
	return recs, nil
}
