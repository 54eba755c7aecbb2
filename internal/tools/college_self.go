package tools

import (
	"context"
	"fmt"

	"github.com/registrar-ai/registrar/internal/college"
)

// selfParams builds the full schema of a self-service tool: the
// identity fields plus any model-facing arguments.
func selfParams(fields ...field) map[string]any {
	all := append([]field{
		str(CallerIDField, "Authenticated user id"),
		str(CallerRoleField, "Authenticated user role"),
	}, fields...)
	return objectSchema(all...)
}

func (c *collegeTools) selfServiceTools() []*Tool {
	return []*Tool{
		{
			Name: "get_my_profile",
			Description: "Get the current user's own profile. Use for \"who am I?\" or \"show my profile\". " +
				"Identity is supplied automatically; do not ask the user for ids.",
			Parameters:  selfParams(),
			SelfService: true,
			Handler:     c.handleMyProfile,
		},
		{
			Name: "get_my_schedule",
			Description: "Get the current user's weekly timetable: classes a student attends or a teacher teaches. " +
				"Use for \"what is my schedule?\" or \"what classes do I have?\".",
			Parameters:  selfParams(),
			SelfService: true,
			Handler:     c.handleMySchedule,
		},
		{
			Name: "get_my_attendance",
			Description: "Get the current user's own attendance records with a summary. " +
				"Optionally restrict to one course.",
			Parameters: selfParams(
				ref("course_id", "", college.Courses, "Optional course code, name or id to filter by"),
			),
			SelfService: true,
			Handler:     c.handleMyAttendance,
		},
		{
			Name:        "get_my_courses",
			Description: "Get the courses the current user takes (student) or teaches (teacher).",
			Parameters:  selfParams(),
			SelfService: true,
			Handler:     c.handleMyCourses,
		},
		{
			Name:        "get_my_teacher_profile",
			Description: "Get the current teacher's staff profile with assigned courses and office details.",
			Parameters:  selfParams(),
			SelfService: true,
			Handler:     c.handleMyTeacherProfile,
		},
	}
}

func (c *collegeTools) handleMyProfile(ctx context.Context, args map[string]any) (string, error) {
	userID, role := argString(args, CallerIDField), argString(args, CallerRoleField)
	user, err := c.store.Get(ctx, college.Users, userID)
	if err != nil {
		return "", err
	}
	profile := map[string]any{
		"user_id": user.ID(),
		"name":    user.String("name"),
		"email":   user.String("email"),
		"role":    user.String("role"),
	}

	switch role {
	case "TEACHER":
		if t, err := c.store.TeacherByUser(ctx, userID); err == nil {
			for _, k := range []string{"teacher_id", "designation", "specialization", "office_room", "office_hours", "phone"} {
				profile[k] = t[k]
			}
			profile["department"] = c.departmentName(ctx, t)
		} else if !college.IsNotFound(err) {
			return "", err
		}
	case "STUDENT":
		if s, err := c.store.StudentByUser(ctx, userID); err == nil {
			for _, k := range []string{"student_id", "semester", "batch", "phone", "address", "date_of_birth"} {
				profile[k] = s[k]
			}
			profile["department"] = c.departmentName(ctx, s)
		} else if !college.IsNotFound(err) {
			return "", err
		}
	}
	return jsonResult(profile)
}

func (c *collegeTools) departmentName(ctx context.Context, rec college.Record) string {
	id := rec.String("department_id")
	if id == "" {
		return ""
	}
	d, err := c.store.Get(ctx, college.Departments, id)
	if err != nil {
		return ""
	}
	return d.String("name")
}

func (c *collegeTools) handleMySchedule(ctx context.Context, args map[string]any) (string, error) {
	userID, role := argString(args, CallerIDField), argString(args, CallerRoleField)
	switch role {
	case "TEACHER":
		t, err := c.store.TeacherByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		grid, err := c.store.TeacherTimetable(ctx, t.ID())
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "teacher_id": t.String("teacher_id"), "timetable": grid})
	case "STUDENT":
		s, err := c.store.StudentByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		grid, err := c.store.StudentTimetable(ctx, s.ID())
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "student_id": s.String("student_id"), "timetable": grid})
	default:
		return "", fmt.Errorf("no personal schedule for role %s; use get_full_timetable", role)
	}
}

func (c *collegeTools) handleMyAttendance(ctx context.Context, args map[string]any) (string, error) {
	userID, role := argString(args, CallerIDField), argString(args, CallerRoleField)

	var courseID string
	if key := argString(args, "course_id"); key != "" {
		course, err := c.store.Resolve(ctx, college.Courses, key)
		if err != nil {
			return "", err
		}
		courseID = course.ID()
	}

	switch role {
	case "TEACHER":
		t, err := c.store.TeacherByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		recs, err := c.store.TeacherAttendanceRecords(ctx, t.ID(), courseID)
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "attendance_records": recs, "summary": college.Summarize(recs)})
	case "STUDENT":
		s, err := c.store.StudentByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		recs, err := c.store.StudentAttendance(ctx, s.ID(), courseID)
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "attendance_records": recs, "summary": college.Summarize(recs)})
	default:
		return "", fmt.Errorf("no personal attendance for role %s; use get_all_students_attendance_stats", role)
	}
}

func (c *collegeTools) handleMyCourses(ctx context.Context, args map[string]any) (string, error) {
	userID, role := argString(args, CallerIDField), argString(args, CallerRoleField)
	switch role {
	case "TEACHER":
		t, err := c.store.TeacherByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		courses, err := c.store.TeacherCourses(ctx, t.ID())
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "teacher_name": t.String("name"), "courses": courses})
	case "STUDENT":
		s, err := c.store.StudentByUser(ctx, userID)
		if err != nil {
			return "", err
		}
		enr, err := c.store.StudentEnrollments(ctx, s.ID())
		if err != nil {
			return "", err
		}
		return jsonResult(map[string]any{"role": role, "student_name": s.String("name"), "enrollments": enr})
	default:
		return "", fmt.Errorf("no personal courses for role %s; use list_all_courses", role)
	}
}

func (c *collegeTools) handleMyTeacherProfile(ctx context.Context, args map[string]any) (string, error) {
	userID, role := argString(args, CallerIDField), argString(args, CallerRoleField)
	if role != "TEACHER" {
		return "", fmt.Errorf("teacher profile is only available to teachers")
	}
	t, err := c.store.TeacherByUser(ctx, userID)
	if err != nil {
		return "", err
	}
	courses, err := c.store.TeacherCourses(ctx, t.ID())
	if err != nil {
		return "", err
	}
	t["department"] = c.departmentName(ctx, t)
	t["courses"] = courses
	return jsonResult(t)
}
