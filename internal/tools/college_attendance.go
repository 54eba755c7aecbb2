package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/registrar-ai/registrar/internal/college"
)

func (c *collegeTools) scheduleTools() []*Tool {
	key := str("schedule_id", "Schedule id").req()
	teacherKey := ref("teacher_id", "", college.Teachers, "Teacher number, email or id").req()
	courseKey := ref("course_id", "", college.Courses, "Course code, name or id").req()
	return []*Tool{
		c.listTool("list_all_schedules", "List weekly schedule slots, optionally for one course or teacher.", college.Schedules,
			ref("course_id", "course_id", college.Courses, "Course code, name or id"),
			ref("teacher_id", "teacher_id", college.Teachers, "Teacher number, email or id")),
		c.getTool("get_schedule_by_id", "Get one schedule slot by id.", college.Schedules, key),
		{
			Name:        "get_teacher_schedule",
			Description: "Get a teacher's weekly timetable.",
			Parameters:  objectSchema(teacherKey),
			Handler: c.withEntity(college.Teachers, teacherKey.arg, func(ctx context.Context, t college.Record, _ map[string]any) (any, error) {
				return c.store.TeacherTimetable(ctx, t.ID())
			}),
		},
		{
			Name:        "get_course_schedule",
			Description: "Get the weekly slots of one course.",
			Parameters:  objectSchema(courseKey),
			Handler: c.withEntity(college.Courses, courseKey.arg, func(ctx context.Context, course college.Record, _ map[string]any) (any, error) {
				return c.store.CourseSchedule(ctx, course.ID())
			}),
		},
		c.createTool("create_new_schedule", "Add a weekly schedule slot for a course.", college.Schedules, scheduleFields...),
		c.updateTool("update_existing_schedule", "Update a schedule slot.", college.Schedules, key, scheduleFields...),
		c.deleteTool("delete_existing_schedule", "Delete a schedule slot. Confirm with the user first.", college.Schedules, key),
		{
			Name:        "get_full_timetable",
			Description: "Get the complete weekly timetable of every active course, grouped by day.",
			Parameters:  objectSchema(),
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				grid, err := c.store.FullTimetable(ctx)
				if err != nil {
					return "", err
				}
				return jsonResult(grid)
			},
		},
		{
			Name:        "get_subjects_details",
			Description: "List every active course with credits, teacher and weekly slot count.",
			Parameters:  objectSchema(),
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				recs, err := c.store.SubjectsDetails(ctx)
				if err != nil {
					return "", err
				}
				return jsonResult(recs)
			},
		},
		{
			Name: "save_timetable",
			Description: "Save a timetable for a semester and section. timetable_json is a JSON 2D array " +
				"where each cell is [teacher, subject, room] or null.",
			Parameters: objectSchema(
				integer("semester", "Semester number (1-8)").req(),
				integer("section", "Section number").req(),
				str("timetable_json", "Timetable as a JSON string").req(),
			),
			SideEffect: Write,
			Handler:    c.handleSaveTimetable,
		},
	}
}

func (c *collegeTools) handleSaveTimetable(ctx context.Context, args map[string]any) (string, error) {
	raw := argString(args, "timetable_json")
	var grid [][]any
	if err := json.Unmarshal([]byte(raw), &grid); err != nil {
		return "", fmt.Errorf("timetable_json is not a JSON 2D array: %w", err)
	}
	rec, err := c.record(ctx, []field{integer("semester", ""), integer("section", "")}, args)
	if err != nil {
		return "", err
	}
	rec["data"] = raw
	saved, err := c.store.Create(ctx, college.Timetables, rec)
	if err != nil {
		return "", err
	}
	return jsonResult(map[string]any{"saved": true, "id": saved.ID(), "rows": len(grid)})
}

func (c *collegeTools) attendanceTools() []*Tool {
	sessionKey := str("session_id", "Class session id").req()
	attKey := str("attendance_id", "Attendance record id").req()
	courseCode := ref("course_code", "", college.Courses, "Course code, e.g. CS101").req()
	date := str("date", "Date (YYYY-MM-DD); defaults to today")
	status := str("status", "Attendance status").req().oneOf(college.AttendanceStatuses...)
	studentKey := ref("student_id", "", college.Students, "Student number (e.g. S001), email or id").req()
	teacherKey := ref("teacher_id", "", college.Teachers, "Teacher number (e.g. T001), email or id").req()
	remarks := str("remarks", "Optional remarks")

	return []*Tool{
		c.createTool("create_class_session", "Create a class session for a course on a date.", college.Sessions, sessionFields...),
		c.getTool("get_class_session", "Get one class session by id.", college.Sessions, sessionKey),
		{
			Name:        "get_course_sessions",
			Description: "List the class sessions of a course, optionally on one date.",
			Parameters:  objectSchema(courseCode, date),
			Handler: c.withEntity(college.Courses, courseCode.arg, func(ctx context.Context, course college.Record, args map[string]any) (any, error) {
				filter := college.Filter{"course_id": course.ID()}
				if d := argString(args, "date"); d != "" {
					filter["date"] = d
				}
				return c.store.List(ctx, college.Sessions, filter)
			}),
		},
		c.updateTool("update_class_session", "Update a class session.", college.Sessions, sessionKey, sessionFields...),
		c.deleteTool("delete_class_session", "Delete a class session. Confirm with the user first.", college.Sessions, sessionKey),
		{
			Name: "mark_student_attendance",
			Description: "Mark one student's attendance for a course on a date. The class session is " +
				"found or created automatically. Marking again overwrites the earlier status.",
			Parameters: objectSchema(courseCode, studentKey, status, date, remarks),
			SideEffect: Write,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				rec, err := c.store.MarkStudentAttendance(ctx, college.MarkRequest{
					CourseKey:  argString(args, "course_code"),
					StudentKey: argString(args, "student_id"),
					Status:     argString(args, "status"),
					Date:       argString(args, "date"),
					Remarks:    argString(args, "remarks"),
					MarkedBy:   callerID(ctx),
				})
				if err != nil {
					return "", err
				}
				return jsonResult(rec)
			},
		},
		{
			Name:        "bulk_mark_student_attendance",
			Description: "Mark attendance for several students of one course session at once.",
			Parameters: objectSchema(courseCode, date, field{
				arg:  "records",
				kind: "array",
				desc: "One entry per student",
				items: objectSchema(
					str("student_id", "Student number, email or id").req(),
					str("status", "Attendance status").req().oneOf(college.AttendanceStatuses...),
					str("remarks", "Optional remarks"),
				),
			}.req()),
			SideEffect: Write,
			Handler:    c.handleBulkMark,
		},
		c.getTool("get_student_attendance_record", "Get one student attendance record by id.", college.StudentAttendance, attKey),
		{
			Name:        "get_course_attendance_records",
			Description: "List attendance marks for a course, optionally on one date.",
			Parameters:  objectSchema(courseCode, date),
			Handler: c.withEntity(college.Courses, courseCode.arg, func(ctx context.Context, course college.Record, args map[string]any) (any, error) {
				recs, err := c.store.CourseAttendance(ctx, course.ID(), argString(args, "date"))
				if err != nil {
					return nil, err
				}
				return c.ownRowsOnly(ctx, recs)
			}),
		},
		{
			Name:        "get_student_attendance_records",
			Description: "List a student's attendance with a summary, optionally for one course.",
			Parameters: objectSchema(studentKey,
				ref("course_code", "", college.Courses, "Optional course code to filter by")),
			Handler: c.withEntity(college.Students, studentKey.arg, func(ctx context.Context, st college.Record, args map[string]any) (any, error) {
				if err := ownStudentOnly(ctx, st); err != nil {
					return nil, err
				}
				courseID, err := c.optionalCourse(ctx, args)
				if err != nil {
					return nil, err
				}
				recs, err := c.store.StudentAttendance(ctx, st.ID(), courseID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"student_id": st.String("student_id"), "records": recs, "summary": college.Summarize(recs)}, nil
			}),
		},
		c.updateTool("update_student_attendance", "Update a student attendance record.", college.StudentAttendance, attKey,
			str("status", "Attendance status").oneOf(college.AttendanceStatuses...), remarks),
		c.deleteTool("delete_student_attendance", "Delete a student attendance record.", college.StudentAttendance, attKey),
		{
			Name:        "get_all_students_attendance_stats",
			Description: "Attendance totals and standing (GOOD or AT_RISK) for every student.",
			Parameters:  objectSchema(),
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				stats, err := c.store.AllStudentStats(ctx)
				if err != nil {
					return "", err
				}
				return jsonResult(stats)
			},
		},
		{
			Name:        "mark_teacher_attendance",
			Description: "Record a teacher's attendance for a date, optionally for one course.",
			Parameters: objectSchema(teacherKey, status, date, remarks,
				ref("course_code", "", college.Courses, "Optional course code")),
			SideEffect: Write,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				rec, err := c.store.MarkTeacherAttendance(ctx, college.TeacherMark{
					TeacherKey: argString(args, "teacher_id"),
					CourseKey:  argString(args, "course_code"),
					Status:     argString(args, "status"),
					Date:       argString(args, "date"),
					Remarks:    argString(args, "remarks"),
					MarkedBy:   callerID(ctx),
				})
				if err != nil {
					return "", err
				}
				return jsonResult(rec)
			},
		},
		c.getTool("get_teacher_attendance_record", "Get one teacher attendance record by id.", college.TeacherAttendance, attKey),
		{
			Name:        "get_teacher_attendance_records",
			Description: "List a teacher's attendance, optionally for one course.",
			Parameters: objectSchema(teacherKey,
				ref("course_code", "", college.Courses, "Optional course code to filter by")),
			Handler: c.withEntity(college.Teachers, teacherKey.arg, func(ctx context.Context, t college.Record, args map[string]any) (any, error) {
				courseID, err := c.optionalCourse(ctx, args)
				if err != nil {
					return nil, err
				}
				recs, err := c.store.TeacherAttendanceRecords(ctx, t.ID(), courseID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"teacher_id": t.String("teacher_id"), "records": recs, "summary": college.Summarize(recs)}, nil
			}),
		},
		c.updateTool("update_teacher_attendance", "Update a teacher attendance record.", college.TeacherAttendance, attKey,
			str("status", "Attendance status").oneOf(college.AttendanceStatuses...), remarks),
		c.deleteTool("delete_teacher_attendance", "Delete a teacher attendance record.", college.TeacherAttendance, attKey),
		{
			Name:        "get_all_teachers_attendance_stats",
			Description: "Attendance totals for every teacher.",
			Parameters:  objectSchema(),
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				stats, err := c.store.AllTeacherStats(ctx)
				if err != nil {
					return "", err
				}
				return jsonResult(stats)
			},
		},
	}
}

func (c *collegeTools) optionalCourse(ctx context.Context, args map[string]any) (string, error) {
	key := argString(args, "course_code")
	if key == "" {
		return "", nil
	}
	course, err := c.store.Resolve(ctx, college.Courses, key)
	if err != nil {
		return "", err
	}
	return course.ID(), nil
}

func (c *collegeTools) handleBulkMark(ctx context.Context, args map[string]any) (string, error) {
	raw, err := json.Marshal(args["records"])
	if err != nil {
		return "", fmt.Errorf("records: %w", err)
	}
	var entries []college.BulkEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return "", fmt.Errorf("records must be a list of {student_id, status, remarks}: %w", err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("records is empty")
	}
	res, err := c.store.BulkMarkStudentAttendance(ctx, argString(args, "course_code"), argString(args, "date"), callerID(ctx), entries)
	if err != nil {
		return "", err
	}
	c.logger.Info("bulk attendance marked", "session", res.SessionID, "marked", len(res.Records), "skipped", len(res.Skipped))
	return jsonResult(res)
}

// callerID is the true caller for audit columns, never a model value.
func callerID(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.CallerID
}
