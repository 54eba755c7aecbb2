package college

import (
	"context"
	"testing"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"present", "PRESENT", false},
		{" Late ", "LATE", false},
		{"EXCUSED", "EXCUSED", false},
		{"here", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeStatus(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_MarkStudentAttendance(t *testing.T) {
	s, demo := seededStore(t)
	ctx := context.Background()

	rec, err := s.MarkStudentAttendance(ctx, MarkRequest{
		CourseKey: "cs101", StudentKey: "S001", Status: "present", MarkedBy: demo.TeacherUserID,
	})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if rec.String("status") != "PRESENT" {
		t.Errorf("status = %q, want PRESENT", rec.String("status"))
	}
	if rec.String("marked_by") != demo.TeacherUserID {
		t.Errorf("marked_by = %q, want teacher user", rec.String("marked_by"))
	}

	// The session was created for "today" in the default slot.
	course, _ := s.Resolve(ctx, Courses, "CS101")
	sessions, err := s.List(ctx, Sessions, Filter{"course_id": course.ID()})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	if sessions[0].String("date") != "2026-03-09" || sessions[0].String("start_time") != DefaultSessionStart {
		t.Errorf("session = %v, want 2026-03-09 at %s", sessions[0], DefaultSessionStart)
	}
	if sessions[0].String("topic") != "Data Structures - 2026-03-09" {
		t.Errorf("topic = %q", sessions[0].String("topic"))
	}

	// Marking again overwrites rather than duplicating.
	if _, err := s.MarkStudentAttendance(ctx, MarkRequest{
		CourseKey: "CS101", StudentKey: "s001", Status: "LATE", Remarks: "bus",
	}); err != nil {
		t.Fatalf("remark: %v", err)
	}
	student, _ := s.Resolve(ctx, Students, "S001")
	recs, err := s.StudentAttendance(ctx, student.ID(), "")
	if err != nil {
		t.Fatalf("student attendance: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 after overwrite", len(recs))
	}
	if recs[0].String("status") != "LATE" || recs[0].String("remarks") != "bus" {
		t.Errorf("record = %v, want LATE with remarks", recs[0])
	}
}

func TestStore_MarkStudentAttendanceErrors(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      MarkRequest
		notFound bool
	}{
		{"bad status", MarkRequest{CourseKey: "CS101", StudentKey: "S001", Status: "maybe"}, false},
		{"bad date", MarkRequest{CourseKey: "CS101", StudentKey: "S001", Status: "PRESENT", Date: "09/03/2026"}, false},
		{"unknown course", MarkRequest{CourseKey: "XX9", StudentKey: "S001", Status: "PRESENT"}, true},
		{"unknown student", MarkRequest{CourseKey: "CS101", StudentKey: "S999", Status: "PRESENT"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.MarkStudentAttendance(ctx, tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if IsNotFound(err) != tt.notFound {
				t.Errorf("IsNotFound(%v) = %v, want %v", err, IsNotFound(err), tt.notFound)
			}
		})
	}
}

func TestStore_BulkMark(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	res, err := s.BulkMarkStudentAttendance(ctx, "CS101", "2026-03-02", "", []BulkEntry{
		{StudentKey: "S001", Status: "PRESENT"},
		{StudentKey: "S002", Status: "absent"},
		{StudentKey: "S404", Status: "PRESENT"},
	})
	if err != nil {
		t.Fatalf("bulk mark: %v", err)
	}
	if len(res.Records) != 2 {
		t.Errorf("marked %d, want 2", len(res.Records))
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "S404" {
		t.Errorf("skipped = %v, want [S404]", res.Skipped)
	}

	course, _ := s.Resolve(ctx, Courses, "CS101")
	recs, err := s.CourseAttendance(ctx, course.ID(), "2026-03-02")
	if err != nil {
		t.Fatalf("course attendance: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("course attendance = %d records, want 2", len(recs))
	}

	// An invalid status anywhere rejects the batch before any write.
	_, err = s.BulkMarkStudentAttendance(ctx, "CS101", "2026-03-03", "", []BulkEntry{
		{StudentKey: "S001", Status: "PRESENT"},
		{StudentKey: "S002", Status: "gone"},
	})
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	none, _ := s.CourseAttendance(ctx, course.ID(), "2026-03-03")
	if len(none) != 0 {
		t.Errorf("got %d records for rejected batch, want 0", len(none))
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     Summary
	}{
		{"empty", nil, Summary{}},
		{"late does not count", []string{"PRESENT", "LATE", "ABSENT", "PRESENT"}, Summary{Total: 4, Attended: 2, Percentage: 50}},
		{"rounding", []string{"PRESENT", "PRESENT", "ABSENT"}, Summary{Total: 3, Attended: 2, Percentage: 66.67}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []Record
			for _, st := range tt.statuses {
				recs = append(recs, Record{"status": st})
			}
			if got := Summarize(recs); got != tt.want {
				t.Errorf("Summarize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStore_AllStudentStats(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	for _, d := range []string{"2026-03-02", "2026-03-04", "2026-03-09", "2026-03-11"} {
		if _, err := s.BulkMarkStudentAttendance(ctx, "CS101", d, "", []BulkEntry{
			{StudentKey: "S001", Status: "PRESENT"},
			{StudentKey: "S002", Status: map[bool]string{true: "PRESENT", false: "ABSENT"}[d == "2026-03-02"]},
		}); err != nil {
			t.Fatalf("bulk mark %s: %v", d, err)
		}
	}

	stats, err := s.AllStudentStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("got %d rows, want 2", len(stats))
	}
	if stats[0].Percentage != 100 || stats[0].Standing != "GOOD" {
		t.Errorf("S001 = %+v, want 100%% GOOD", stats[0])
	}
	if stats[1].Percentage != 25 || stats[1].Standing != "AT_RISK" {
		t.Errorf("S002 = %+v, want 25%% AT_RISK", stats[1])
	}
}

func TestStore_TeacherAttendance(t *testing.T) {
	s, demo := seededStore(t)
	ctx := context.Background()

	rec, err := s.MarkTeacherAttendance(ctx, TeacherMark{
		TeacherKey: "t001", CourseKey: "CS101", Status: "present", Date: "2026-03-09", MarkedBy: demo.AdminUserID,
	})
	if err != nil {
		t.Fatalf("mark teacher: %v", err)
	}
	if rec.String("status") != "PRESENT" {
		t.Errorf("status = %q, want PRESENT", rec.String("status"))
	}

	teacher, _ := s.Resolve(ctx, Teachers, "T001")
	recs, err := s.TeacherAttendanceRecords(ctx, teacher.ID(), "")
	if err != nil {
		t.Fatalf("teacher records: %v", err)
	}
	if len(recs) != 1 || recs[0].String("course_code") != "CS101" {
		t.Errorf("records = %v, want one CS101 record", recs)
	}

	stats, err := s.AllTeacherStats(ctx)
	if err != nil {
		t.Fatalf("teacher stats: %v", err)
	}
	if len(stats) != 1 || stats[0].String("present_days") != "1" {
		t.Errorf("stats = %v, want 1 present day", stats)
	}
}
