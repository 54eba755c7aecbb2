package roles

import "github.com/registrar-ai/registrar/internal/prompts"

// Self-service tools shared by every role.
var personalTools = []string{
	"get_my_profile",
	"get_my_schedule",
	"get_my_attendance",
	"get_my_courses",
}

// roleTools is the static capability table. Each role is enumerated on
// its own; no role is derived from another.
var roleTools = map[Role][]string{
	Admin: concat(personalTools, []string{
		// Departments
		"list_all_departments",
		"get_department_by_id",
		"create_new_department",
		"update_existing_department",
		"delete_existing_department",

		// Students
		"list_all_students",
		"get_student_by_id",
		"create_new_student",
		"update_existing_student",
		"delete_existing_student",

		// Teachers
		"list_all_teachers",
		"get_teacher_by_id",
		"create_new_teacher",
		"update_existing_teacher",
		"delete_existing_teacher",
		"get_teacher_courses",
		"get_teacher_courses_with_students",
		"get_students_in_course",

		// Courses
		"list_all_courses",
		"get_course_by_id",
		"create_new_course",
		"update_existing_course",
		"delete_existing_course",

		// Enrollments
		"list_all_enrollments",
		"get_enrollment_by_id",
		"get_student_enrollments_with_details",
		"create_new_enrollment",
		"update_existing_enrollment",
		"delete_existing_enrollment",

		// Schedules and timetables
		"list_all_schedules",
		"get_schedule_by_id",
		"get_teacher_schedule",
		"get_course_schedule",
		"create_new_schedule",
		"update_existing_schedule",
		"delete_existing_schedule",
		"get_full_timetable",
		"get_subjects_details",
		"save_timetable",

		// Attendance
		"create_class_session",
		"get_class_session",
		"get_course_sessions",
		"update_class_session",
		"delete_class_session",
		"mark_student_attendance",
		"bulk_mark_student_attendance",
		"get_student_attendance_record",
		"get_course_attendance_records",
		"get_student_attendance_records",
		"update_student_attendance",
		"delete_student_attendance",
		"get_all_students_attendance_stats",
		"mark_teacher_attendance",
		"get_teacher_attendance_record",
		"get_teacher_attendance_records",
		"update_teacher_attendance",
		"delete_teacher_attendance",
		"get_all_teachers_attendance_stats",
	}),

	Teacher: concat(personalTools, []string{
		"get_my_teacher_profile",

		"list_all_departments",
		"get_department_by_id",

		"list_all_students",
		"get_student_by_id",

		"list_all_teachers",
		"get_teacher_by_id",
		"get_teacher_courses",
		"get_teacher_courses_with_students",
		"get_students_in_course",

		"list_all_courses",
		"get_course_by_id",

		"list_all_enrollments",
		"get_enrollment_by_id",
		"get_student_enrollments_with_details",

		"list_all_schedules",
		"get_schedule_by_id",
		"get_teacher_schedule",
		"get_course_schedule",
		"get_full_timetable",
		"get_subjects_details",

		"create_class_session",
		"get_class_session",
		"get_course_sessions",
		"update_class_session",
		"mark_student_attendance",
		"bulk_mark_student_attendance",
		"get_student_attendance_record",
		"get_course_attendance_records",
		"get_student_attendance_records",
		"update_student_attendance",
		"get_all_students_attendance_stats",
		"mark_teacher_attendance",
		"get_teacher_attendance_record",
		"get_teacher_attendance_records",
	}),

	Student: concat(personalTools, []string{
		"list_all_departments",
		"get_department_by_id",

		"list_all_teachers",
		"get_teacher_by_id",

		"list_all_courses",
		"get_course_by_id",

		"get_student_enrollments_with_details",

		"list_all_schedules",
		"get_schedule_by_id",
		"get_course_schedule",
		"get_full_timetable",
		"get_subjects_details",

		"get_student_attendance_records",
		"get_course_attendance_records",
	}),
}

var rolePrompts = map[Role]string{
	Admin:   prompts.AdminPolicy,
	Teacher: prompts.TeacherPolicy,
	Student: prompts.StudentPolicy,
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
