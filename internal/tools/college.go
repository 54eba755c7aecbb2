package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/registrar-ai/registrar/internal/college"
)

// field describes one tool argument and, for create/update/list tools,
// the column it maps to. A ref field accepts any natural key of the
// referenced entity and is stored as that entity's surrogate id.
type field struct {
	arg      string
	column   string
	kind     string
	desc     string
	ref      *college.Entity
	required bool
	enum     []string
	items    map[string]any
}

func (f field) col() string {
	if f.column != "" {
		return f.column
	}
	return f.arg
}

func (f field) property() map[string]any {
	p := map[string]any{"type": f.kind, "description": f.desc}
	if len(f.enum) > 0 {
		p["enum"] = f.enum
	}
	if f.items != nil {
		p["items"] = f.items
	}
	return p
}

func str(arg, desc string) field     { return field{arg: arg, kind: "string", desc: desc} }
func integer(arg, desc string) field { return field{arg: arg, kind: "integer", desc: desc} }
func number(arg, desc string) field  { return field{arg: arg, kind: "number", desc: desc} }
func boolean(arg, desc string) field { return field{arg: arg, kind: "boolean", desc: desc} }

func ref(arg, column string, e *college.Entity, desc string) field {
	return field{arg: arg, column: column, kind: "string", desc: desc, ref: e}
}

func (f field) req() field { f.required = true; return f }

func (f field) oneOf(values ...string) field { f.enum = values; return f }

func optional(fields []field) []field {
	out := make([]field, len(fields))
	for i, f := range fields {
		f.required = false
		out[i] = f
	}
	return out
}

func objectSchema(fields ...field) map[string]any {
	props := map[string]any{}
	var required []string
	for _, f := range fields {
		props[f.arg] = f.property()
		if f.required {
			required = append(required, f.arg)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// collegeTools builds the college catalogue over an injected store.
type collegeTools struct {
	store  *college.Store
	logger *slog.Logger
}

// RegisterCollegeTools adds the full college catalogue to the registry.
// Every failure is reported, not just the first.
func (r *Registry) RegisterCollegeTools(store *college.Store) error {
	ct := &collegeTools{store: store, logger: r.logger}
	var errs []error
	for _, t := range ct.catalogue() {
		if err := r.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *collegeTools) catalogue() []*Tool {
	var out []*Tool
	out = append(out, c.selfServiceTools()...)
	out = append(out, c.departmentTools()...)
	out = append(out, c.studentTools()...)
	out = append(out, c.teacherTools()...)
	out = append(out, c.courseTools()...)
	out = append(out, c.enrollmentTools()...)
	out = append(out, c.scheduleTools()...)
	out = append(out, c.attendanceTools()...)
	return out
}

// Field sets shared by create and update tools.
var (
	departmentFields = []field{
		str("code", "Short department code, e.g. CS").req(),
		str("name", "Department name, e.g. Computer Science").req(),
		str("description", "Optional description"),
		str("hod_name", "Name of the head of department"),
	}
	studentFields = []field{
		str("student_id", "Student number, e.g. S001").req(),
		str("name", "Full name").req(),
		str("email", "Email address"),
		ref("department", "department_id", college.Departments, "Department code or name"),
		integer("semester", "Current semester (1-8)"),
		str("batch", "Batch or admission year, e.g. 2024"),
		str("phone", "Phone number"),
		str("address", "Postal address"),
		str("date_of_birth", "Date of birth (YYYY-MM-DD)"),
	}
	teacherFields = []field{
		str("teacher_id", "Teacher number, e.g. T001").req(),
		str("name", "Full name").req(),
		str("email", "Email address"),
		ref("department", "department_id", college.Departments, "Department code or name"),
		str("designation", "Designation, e.g. Professor"),
		str("specialization", "Area of specialization"),
		str("phone", "Phone number"),
		str("office_room", "Office room"),
		str("office_hours", "Office hours, e.g. Mon 14:00-16:00"),
		str("joining_date", "Joining date (YYYY-MM-DD)"),
	}
	courseFields = []field{
		str("course_code", "Course code, e.g. CS101").req(),
		str("course_name", "Course name").req(),
		integer("credits", "Credit hours"),
		ref("department", "department_id", college.Departments, "Department code or name"),
		integer("semester", "Semester the course is offered in"),
		str("description", "Course description"),
		str("syllabus", "Syllabus outline"),
		integer("max_students", "Enrollment cap"),
		boolean("is_active", "Whether the course is currently offered"),
		ref("teacher", "teacher_id", college.Teachers, "Teacher number, email or id of the assigned teacher"),
	}
	enrollmentStatus = []string{"ACTIVE", "COMPLETED", "DROPPED"}
	weekdayEnum      = college.Weekdays
	scheduleFields   = []field{
		ref("course_id", "course_id", college.Courses, "Course code, name or id").req(),
		ref("teacher_id", "teacher_id", college.Teachers, "Teacher number, email or id"),
		str("day_of_week", "Day of the week").req().oneOf(weekdayEnum...),
		str("start_time", "Start time (HH:MM, 24h)").req(),
		str("end_time", "End time (HH:MM, 24h)").req(),
		str("room", "Room"),
		str("building", "Building"),
		str("type", "Class type").oneOf("LECTURE", "LAB", "TUTORIAL"),
		boolean("is_active", "Whether the slot is active"),
	}
	sessionFields = []field{
		ref("course_id", "course_id", college.Courses, "Course code, name or id").req(),
		ref("teacher_id", "teacher_id", college.Teachers, "Teacher number, email or id"),
		str("date", "Session date (YYYY-MM-DD)").req(),
		str("start_time", "Start time (HH:MM)").req(),
		str("end_time", "End time (HH:MM)").req(),
		str("topic", "Topic covered"),
		str("status", "Session status").oneOf("SCHEDULED", "CONDUCTED", "CANCELLED"),
	}
)

func (c *collegeTools) departmentTools() []*Tool {
	key := ref("department_id", "", college.Departments, "Department code, name or id").req()
	return []*Tool{
		c.listTool("list_all_departments", "List every department.", college.Departments),
		c.getTool("get_department_by_id", "Get one department by code, name or id.", college.Departments, key),
		c.createTool("create_new_department", "Create a department.", college.Departments, departmentFields...),
		c.updateTool("update_existing_department", "Update a department's details.", college.Departments, key, departmentFields...),
		c.deleteTool("delete_existing_department", "Delete a department. Confirm with the user first.", college.Departments,
			ref("department_code", "", college.Departments, "Department code, name or id").req()),
	}
}

func (c *collegeTools) studentTools() []*Tool {
	key := ref("student_id", "", college.Students, "Student number (e.g. S001), email or id").req()
	return []*Tool{
		c.listTool("list_all_students", "List students, optionally filtered by department or semester.", college.Students,
			ref("department", "department_id", college.Departments, "Department code or name"),
			integer("semester", "Semester number")),
		c.getTool("get_student_by_id", "Get one student by student number, email or id.", college.Students, key),
		c.createTool("create_new_student", "Create a student record.", college.Students, studentFields...),
		c.updateTool("update_existing_student", "Update a student's details.", college.Students, key, studentFields...),
		c.deleteTool("delete_existing_student", "Delete a student. Confirm with the user first.", college.Students, key),
	}
}

func (c *collegeTools) teacherTools() []*Tool {
	key := ref("teacher_id", "", college.Teachers, "Teacher number (e.g. T001), email or id").req()
	courseKey := ref("course_id", "", college.Courses, "Course code, name or id").req()
	return []*Tool{
		c.listTool("list_all_teachers", "List teachers, optionally filtered by department.", college.Teachers,
			ref("department", "department_id", college.Departments, "Department code or name")),
		c.getTool("get_teacher_by_id", "Get one teacher by teacher number, email or id.", college.Teachers, key),
		c.createTool("create_new_teacher", "Create a teacher record.", college.Teachers, teacherFields...),
		c.updateTool("update_existing_teacher", "Update a teacher's details.", college.Teachers, key, teacherFields...),
		c.deleteTool("delete_existing_teacher", "Delete a teacher. Confirm with the user first.", college.Teachers, key),
		{
			Name:        "get_teacher_courses",
			Description: "List the courses a teacher is assigned to, with enrollment counts.",
			Parameters:  objectSchema(key),
			Handler: c.withEntity(college.Teachers, key.arg, func(ctx context.Context, t college.Record, _ map[string]any) (any, error) {
				return c.store.TeacherCourses(ctx, t.ID())
			}),
		},
		{
			Name:        "get_teacher_courses_with_students",
			Description: "List a teacher's courses together with the students enrolled in each.",
			Parameters:  objectSchema(key),
			Handler: c.withEntity(college.Teachers, key.arg, func(ctx context.Context, t college.Record, _ map[string]any) (any, error) {
				courses, err := c.store.TeacherCourses(ctx, t.ID())
				if err != nil {
					return nil, err
				}
				for _, course := range courses {
					students, err := c.store.StudentsInCourse(ctx, course.ID())
					if err != nil {
						return nil, err
					}
					course["students"] = students
				}
				return map[string]any{"teacher": t.String("name"), "courses": courses}, nil
			}),
		},
		{
			Name:        "get_students_in_course",
			Description: "List the students actively enrolled in a course.",
			Parameters:  objectSchema(courseKey),
			Handler: c.withEntity(college.Courses, courseKey.arg, func(ctx context.Context, course college.Record, _ map[string]any) (any, error) {
				return c.store.StudentsInCourse(ctx, course.ID())
			}),
		},
	}
}

func (c *collegeTools) courseTools() []*Tool {
	key := ref("course_id", "", college.Courses, "Course code (e.g. CS101), course name or id").req()
	return []*Tool{
		c.listTool("list_all_courses", "List courses, optionally filtered by department or semester.", college.Courses,
			ref("department", "department_id", college.Departments, "Department code or name"),
			integer("semester", "Semester number")),
		c.getTool("get_course_by_id", "Get one course by code, name or id.", college.Courses, key),
		c.createTool("create_new_course", "Create a course.", college.Courses, courseFields...),
		c.updateTool("update_existing_course", "Update a course's details.", college.Courses, key, courseFields...),
		c.deleteTool("delete_existing_course", "Delete a course. Confirm with the user first.", college.Courses, key),
	}
}

func (c *collegeTools) enrollmentTools() []*Tool {
	key := str("enrollment_id", "Enrollment id").req()
	studentKey := ref("student_id", "student_id", college.Students, "Student number, email or id")
	return []*Tool{
		c.listTool("list_all_enrollments", "List enrollments, optionally for one student.", college.Enrollments, studentKey),
		c.getTool("get_enrollment_by_id", "Get one enrollment by id.", college.Enrollments, key),
		{
			Name:        "get_student_enrollments_with_details",
			Description: "List a student's enrollments with course, teacher and department details.",
			Parameters:  objectSchema(studentKey.req()),
			Handler: c.withEntity(college.Students, studentKey.arg, func(ctx context.Context, st college.Record, _ map[string]any) (any, error) {
				if err := ownStudentOnly(ctx, st); err != nil {
					return nil, err
				}
				return c.store.StudentEnrollments(ctx, st.ID())
			}),
		},
		c.createTool("create_new_enrollment", "Enroll a student in a course.", college.Enrollments,
			studentKey.req(),
			ref("course_id", "course_id", college.Courses, "Course code, name or id").req(),
			str("status", "Enrollment status").oneOf(enrollmentStatus...)),
		c.updateTool("update_existing_enrollment", "Update an enrollment's status or grade.", college.Enrollments, key,
			str("status", "Enrollment status").oneOf(enrollmentStatus...),
			str("grade", "Letter grade"),
			number("grade_points", "Grade points")),
		c.deleteTool("delete_existing_enrollment", "Delete an enrollment. Confirm with the user first.", college.Enrollments, key),
	}
}

// withEntity resolves args[arg] against e before calling fn, and
// marshals fn's result.
func (c *collegeTools) withEntity(e *college.Entity, arg string, fn func(context.Context, college.Record, map[string]any) (any, error)) func(context.Context, map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		key, _ := args[arg].(string)
		rec, err := c.store.Resolve(ctx, e, key)
		if err != nil {
			return "", err
		}
		v, err := fn(ctx, rec, args)
		if err != nil {
			return "", err
		}
		return jsonResult(v)
	}
}

func (c *collegeTools) listTool(name, desc string, e *college.Entity, filters ...field) *Tool {
	return &Tool{
		Name:        name,
		Description: desc,
		Parameters:  objectSchema(filters...),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			filter, err := c.record(ctx, filters, args)
			if err != nil {
				return "", err
			}
			recs, err := c.store.List(ctx, e, college.Filter(filter))
			if err != nil {
				return "", err
			}
			return jsonResult(recs)
		},
	}
}

func (c *collegeTools) getTool(name, desc string, e *college.Entity, key field) *Tool {
	return &Tool{
		Name:        name,
		Description: desc,
		Parameters:  objectSchema(key),
		Handler: c.withEntity(e, key.arg, func(_ context.Context, rec college.Record, _ map[string]any) (any, error) {
			return rec, nil
		}),
	}
}

func (c *collegeTools) createTool(name, desc string, e *college.Entity, fields ...field) *Tool {
	return &Tool{
		Name:        name,
		Description: desc,
		Parameters:  objectSchema(fields...),
		SideEffect:  Write,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rec, err := c.record(ctx, fields, args)
			if err != nil {
				return "", err
			}
			created, err := c.store.Create(ctx, e, rec)
			if err != nil {
				return "", err
			}
			c.logger.Info("college record created", "entity", e.Name, "id", created.ID(), "tool", name)
			return jsonResult(created)
		},
	}
}

func (c *collegeTools) updateTool(name, desc string, e *college.Entity, key field, fields ...field) *Tool {
	// The lookup key is also an updatable column on some entities
	// (department code); keep only the key argument in that case.
	var updatable []field
	for _, f := range optional(fields) {
		if f.arg != key.arg {
			updatable = append(updatable, f)
		}
	}
	return &Tool{
		Name:        name,
		Description: desc + " Only the fields supplied are changed.",
		Parameters:  objectSchema(append([]field{key}, updatable...)...),
		SideEffect:  Write,
		Handler: c.withEntity(e, key.arg, func(ctx context.Context, existing college.Record, args map[string]any) (any, error) {
			rec, err := c.record(ctx, updatable, args)
			if err != nil {
				return nil, err
			}
			if len(rec) == 0 {
				return nil, fmt.Errorf("no fields to update")
			}
			updated, err := c.store.Update(ctx, e, existing.ID(), rec)
			if err != nil {
				return nil, err
			}
			c.logger.Info("college record updated", "entity", e.Name, "id", existing.ID(), "tool", name)
			return updated, nil
		}),
	}
}

func (c *collegeTools) deleteTool(name, desc string, e *college.Entity, key field) *Tool {
	return &Tool{
		Name:        name,
		Description: desc,
		Parameters:  objectSchema(key),
		SideEffect:  Write,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			k, _ := args[key.arg].(string)
			var rec college.Record
			var err error
			if key.ref != nil {
				rec, err = c.store.Resolve(ctx, e, k)
			} else {
				rec, err = c.store.Get(ctx, e, k)
			}
			if err != nil {
				return "", err
			}
			if err := c.store.Delete(ctx, e, rec.ID()); err != nil {
				return "", err
			}
			c.logger.Info("college record deleted", "entity", e.Name, "id", rec.ID(), "tool", name)
			return jsonResult(map[string]any{"deleted": true, "id": rec.ID()})
		},
	}
}

// record maps supplied arguments onto columns, resolving references
// and normalising JSON numbers. Absent arguments are left out.
func (c *collegeTools) record(ctx context.Context, fields []field, args map[string]any) (college.Record, error) {
	rec := college.Record{}
	for _, f := range fields {
		v, ok := args[f.arg]
		if !ok || v == nil {
			continue
		}
		switch {
		case f.ref != nil:
			s, _ := v.(string)
			target, err := c.store.Resolve(ctx, f.ref, s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.arg, err)
			}
			v = target.ID()
		case f.kind == "integer":
			if n, isFloat := v.(float64); isFloat {
				v = int64(math.Round(n))
			}
		case f.kind == "boolean":
			if b, isBool := v.(bool); isBool {
				v = 0
				if b {
					v = 1
				}
			}
		}
		rec[f.col()] = v
	}
	return rec, nil
}

// ownStudentOnly refuses a student caller looking at another student's
// records. Teachers and admins are not restricted.
func ownStudentOnly(ctx context.Context, student college.Record) error {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Role != "STUDENT" {
		return nil
	}
	if student.String("user_id") != id.CallerID {
		return fmt.Errorf("students may only view their own records")
	}
	return nil
}

// ownRowsOnly narrows per-student rows to the caller's own when the
// caller is a student. Other roles see every row.
func (c *collegeTools) ownRowsOnly(ctx context.Context, recs []college.Record) ([]college.Record, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Role != "STUDENT" {
		return recs, nil
	}
	me, err := c.store.StudentByUser(ctx, id.CallerID)
	if college.IsNotFound(err) {
		return []college.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	own := make([]college.Record, 0, len(recs))
	for _, r := range recs {
		if r.String("student_id") == me.String("student_id") {
			own = append(own, r)
		}
	}
	return own, nil
}

func jsonResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
