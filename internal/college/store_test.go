package college

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each in-memory connection is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	return store
}

func seededStore(t *testing.T) (*Store, *Demo) {
	t.Helper()
	s := setupTestStore(t)
	demo, err := s.SeedDemo(context.Background())
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s, demo
}

func TestStore_CreateGetUpdateDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	dept, err := s.Create(ctx, Departments, Record{"code": "EE", "name": "Electrical"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dept.ID() == "" {
		t.Fatal("created record has no id")
	}
	if dept.String("created_at") != "2026-03-09T10:00:00Z" {
		t.Errorf("created_at = %q, want 2026-03-09T10:00:00Z", dept.String("created_at"))
	}

	got, err := s.Get(ctx, Departments, dept.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.String("name") != "Electrical" {
		t.Errorf("name = %q, want Electrical", got.String("name"))
	}

	upd, err := s.Update(ctx, Departments, dept.ID(), Record{"hod_name": "Dr. Tesla"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.String("hod_name") != "Dr. Tesla" {
		t.Errorf("hod_name = %q, want Dr. Tesla", upd.String("hod_name"))
	}

	if err := s.Delete(ctx, Departments, dept.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, Departments, dept.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, Departments, dept.ID()); !IsNotFound(err) {
		t.Errorf("second delete: err = %v, want not found", err)
	}
}

func TestStore_CreateValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields Record
	}{
		{"missing required", Record{"code": "ME"}},
		{"empty required", Record{"code": "ME", "name": ""}},
		{"unknown column", Record{"code": "ME", "name": "Mech", "id": "x; DROP TABLE users"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(ctx, Departments, tt.fields); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStore_ResolveNaturalKeys(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		e    *Entity
		key  string
		want string
	}{
		{"course code lower case", Courses, "cs101", "CS101"},
		{"course name", Courses, "operating systems", "CS102"},
		{"student number", Students, "s002", "S002"},
		{"student email", Students, "ALICE@college.test", "S001"},
		{"teacher number", Teachers, "T001", "T001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := s.Resolve(ctx, tt.e, tt.key)
			if err != nil {
				t.Fatalf("resolve %q: %v", tt.key, err)
			}
			col := tt.e.NaturalKeys[0]
			if rec.String(col) != tt.want {
				t.Errorf("%s = %q, want %q", col, rec.String(col), tt.want)
			}
		})
	}

	// Falls back to the surrogate id.
	c, _ := s.Resolve(ctx, Courses, "CS101")
	byID, err := s.Resolve(ctx, Courses, c.ID())
	if err != nil || byID.ID() != c.ID() {
		t.Errorf("resolve by id = %v, %v", byID, err)
	}

	if _, err := s.Resolve(ctx, Courses, "NOPE999"); !IsNotFound(err) {
		t.Errorf("unknown course: err = %v, want not found", err)
	}
	if _, err := s.Resolve(ctx, Courses, "  "); !IsNotFound(err) {
		t.Errorf("blank key: err = %v, want not found", err)
	}
}

func TestStore_ListFilter(t *testing.T) {
	s, _ := seededStore(t)
	ctx := context.Background()

	all, err := s.List(ctx, Students, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d students, want 2", len(all))
	}
	if all[0].String("student_id") != "S001" {
		t.Errorf("first student = %s, want S001 (ordered by student_id)", all[0].String("student_id"))
	}

	sem, err := s.List(ctx, Students, Filter{"student_id": "S002"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(sem) != 1 || sem[0].String("name") != "Bob Singh" {
		t.Errorf("filtered = %v, want Bob Singh", sem)
	}

	if _, err := s.List(ctx, Students, Filter{"1=1 OR name": "x"}); err == nil {
		t.Error("expected error for unknown filter column")
	}
}

func TestStore_SeedDemoIdempotent(t *testing.T) {
	s, first := seededStore(t)
	second, err := s.SeedDemo(context.Background())
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if *first != *second {
		t.Errorf("reseed ids = %+v, want %+v", second, first)
	}
	users, _ := s.List(context.Background(), Users, nil)
	if len(users) != 4 {
		t.Errorf("got %d users after reseed, want 4", len(users))
	}
}

func TestStore_Timetables(t *testing.T) {
	s, demo := seededStore(t)
	ctx := context.Background()

	student, err := s.StudentByUser(ctx, demo.StudentUserID)
	if err != nil {
		t.Fatalf("student by user: %v", err)
	}
	grid, err := s.StudentTimetable(ctx, student.ID())
	if err != nil {
		t.Fatalf("student timetable: %v", err)
	}
	var days []string
	for _, d := range grid {
		days = append(days, d.Day)
	}
	want := []string{"MONDAY", "TUESDAY", "WEDNESDAY"}
	if len(days) != len(want) {
		t.Fatalf("days = %v, want %v", days, want)
	}
	for i := range want {
		if days[i] != want[i] {
			t.Errorf("days[%d] = %s, want %s", i, days[i], want[i])
		}
	}
	if grid[0].Classes[0].Teacher != "Ada Lovelace" {
		t.Errorf("monday teacher = %q, want Ada Lovelace", grid[0].Classes[0].Teacher)
	}

	teacher, err := s.TeacherByUser(ctx, demo.TeacherUserID)
	if err != nil {
		t.Fatalf("teacher by user: %v", err)
	}
	tgrid, err := s.TeacherTimetable(ctx, teacher.ID())
	if err != nil {
		t.Fatalf("teacher timetable: %v", err)
	}
	// Only CS101 is assigned to the teacher.
	if len(tgrid) != 2 {
		t.Errorf("teacher days = %d, want 2", len(tgrid))
	}

	if _, err := s.StudentByUser(ctx, demo.AdminUserID); !IsNotFound(err) {
		t.Errorf("admin has no student profile: err = %v, want not found", err)
	}
}

func TestGrid_OrdersDays(t *testing.T) {
	grid := Grid([]ClassSlot{
		{CourseCode: "A", DayOfWeek: "FRIDAY"},
		{CourseCode: "B", DayOfWeek: "MONDAY"},
		{CourseCode: "C", DayOfWeek: "ONLINE"},
		{CourseCode: "D", DayOfWeek: "MONDAY"},
	})
	if len(grid) != 3 {
		t.Fatalf("got %d days, want 3", len(grid))
	}
	if grid[0].Day != "MONDAY" || len(grid[0].Classes) != 2 {
		t.Errorf("grid[0] = %+v, want MONDAY with 2 classes", grid[0])
	}
	if grid[2].Day != "ONLINE" {
		t.Errorf("grid[2].Day = %s, want ONLINE last", grid[2].Day)
	}
}

func TestStore_EnrollmentsAndCourses(t *testing.T) {
	s, demo := seededStore(t)
	ctx := context.Background()

	student, _ := s.StudentByUser(ctx, demo.StudentUserID)
	enr, err := s.StudentEnrollments(ctx, student.ID())
	if err != nil {
		t.Fatalf("enrollments: %v", err)
	}
	if len(enr) != 2 {
		t.Fatalf("got %d enrollments, want 2", len(enr))
	}
	if enr[1].String("teacher") != "TBA" {
		t.Errorf("CS102 teacher = %q, want TBA", enr[1].String("teacher"))
	}

	teacher, _ := s.TeacherByUser(ctx, demo.TeacherUserID)
	courses, err := s.TeacherCourses(ctx, teacher.ID())
	if err != nil {
		t.Fatalf("teacher courses: %v", err)
	}
	if len(courses) != 1 || courses[0].String("enrolled") != "2" {
		t.Errorf("teacher courses = %v, want CS101 with 2 enrolled", courses)
	}

	roster, err := s.StudentsInCourse(ctx, courses[0].ID())
	if err != nil {
		t.Fatalf("students in course: %v", err)
	}
	if len(roster) != 2 {
		t.Errorf("roster size = %d, want 2", len(roster))
	}
}
