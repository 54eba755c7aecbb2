package college

import (
	"context"
	"fmt"
)

// Demo holds the user ids created by SeedDemo, one per role, so a
// fresh install can issue tokens and try the assistant immediately.
type Demo struct {
	AdminUserID   string
	TeacherUserID string
	StudentUserID string
}

// Demo account emails.
const (
	DemoAdminEmail   = "admin@college.test"
	DemoTeacherEmail = "ada@college.test"
	DemoStudentEmail = "alice@college.test"
)

// SeedDemo populates an empty database with one department, a teacher,
// two students, two courses and their weekly schedule. It is a no-op
// when the demo admin already exists.
func (s *Store) SeedDemo(ctx context.Context) (*Demo, error) {
	if admin, err := s.Resolve(ctx, Users, DemoAdminEmail); err == nil {
		return s.existingDemo(ctx, admin)
	} else if !IsNotFound(err) {
		return nil, err
	}

	var firstErr error
	create := func(e *Entity, fields Record) Record {
		if firstErr != nil {
			return nil
		}
		rec, err := s.Create(ctx, e, fields)
		if err != nil {
			firstErr = fmt.Errorf("seed %s: %w", e.Name, err)
			return nil
		}
		return rec
	}

	admin := create(Users, Record{"email": DemoAdminEmail, "name": "Registrar Admin", "role": "ADMIN"})
	tUser := create(Users, Record{"email": DemoTeacherEmail, "name": "Ada Lovelace", "role": "TEACHER"})
	aUser := create(Users, Record{"email": DemoStudentEmail, "name": "Alice Kumar", "role": "STUDENT"})
	bUser := create(Users, Record{"email": "bob@college.test", "name": "Bob Singh", "role": "STUDENT"})
	if firstErr != nil {
		return nil, firstErr
	}

	dept := create(Departments, Record{"code": "CS", "name": "Computer Science", "hod_name": "Ada Lovelace"})
	if firstErr != nil {
		return nil, firstErr
	}
	teacher := create(Teachers, Record{
		"teacher_id": "T001", "user_id": tUser.ID(), "name": "Ada Lovelace", "email": DemoTeacherEmail,
		"department_id": dept.ID(), "designation": "Professor", "office_room": "B-204",
	})
	alice := create(Students, Record{
		"student_id": "S001", "user_id": aUser.ID(), "name": "Alice Kumar", "email": DemoStudentEmail,
		"department_id": dept.ID(), "semester": 3, "batch": "2024",
	})
	bob := create(Students, Record{
		"student_id": "S002", "user_id": bUser.ID(), "name": "Bob Singh", "email": "bob@college.test",
		"department_id": dept.ID(), "semester": 3, "batch": "2024",
	})
	if firstErr != nil {
		return nil, firstErr
	}

	ds := create(Courses, Record{
		"course_code": "CS101", "course_name": "Data Structures", "credits": 4,
		"department_id": dept.ID(), "semester": 3, "teacher_id": teacher.ID(),
	})
	osc := create(Courses, Record{
		"course_code": "CS102", "course_name": "Operating Systems", "credits": 3,
		"department_id": dept.ID(), "semester": 3,
	})
	if firstErr != nil {
		return nil, firstErr
	}

	create(Enrollments, Record{"student_id": alice.ID(), "course_id": ds.ID()})
	create(Enrollments, Record{"student_id": alice.ID(), "course_id": osc.ID()})
	create(Enrollments, Record{"student_id": bob.ID(), "course_id": ds.ID()})

	create(Schedules, Record{"course_id": ds.ID(), "day_of_week": "MONDAY", "start_time": "09:00", "end_time": "10:00", "room": "A-101", "building": "Main"})
	create(Schedules, Record{"course_id": ds.ID(), "day_of_week": "WEDNESDAY", "start_time": "11:00", "end_time": "12:00", "room": "A-101", "building": "Main"})
	create(Schedules, Record{"course_id": osc.ID(), "day_of_week": "TUESDAY", "start_time": "10:00", "end_time": "11:00", "room": "Lab-2", "building": "Annex", "type": "LAB"})
	if firstErr != nil {
		return nil, firstErr
	}

	return &Demo{AdminUserID: admin.ID(), TeacherUserID: tUser.ID(), StudentUserID: aUser.ID()}, nil
}

func (s *Store) existingDemo(ctx context.Context, admin Record) (*Demo, error) {
	d := &Demo{AdminUserID: admin.ID()}
	t, err := s.Resolve(ctx, Users, DemoTeacherEmail)
	if err != nil {
		return nil, err
	}
	st, err := s.Resolve(ctx, Users, DemoStudentEmail)
	if err != nil {
		return nil, err
	}
	d.TeacherUserID, d.StudentUserID = t.ID(), st.ID()
	return d, nil
}
