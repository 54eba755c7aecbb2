package roles

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/registrar-ai/registrar/internal/tools"
)

func catalogue(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	// Handlers are never invoked here, so no store is needed.
	if err := reg.RegisterCollegeTools(nil); err != nil {
		t.Fatalf("RegisterCollegeTools: %v", err)
	}
	reg.Freeze()
	return reg
}

func newTestResolver(t *testing.T) (*Resolver, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := NewResolver(catalogue(t), logger)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, &buf
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in     string
		want   Role
		wantOK bool
	}{
		{"ADMIN", Admin, true},
		{"teacher", Teacher, true},
		{" Student ", Student, true},
		{"SUPERUSER", "SUPERUSER", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseRole(%q) = %q, %v, want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTablesMatchCatalogue(t *testing.T) {
	if err := Validate(catalogue(t)); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_MissingTool(t *testing.T) {
	reg := tools.NewRegistry(nil)
	err := Validate(reg)
	if err == nil {
		t.Fatal("Validate on empty registry succeeded")
	}
	if !strings.Contains(err.Error(), "get_my_profile is not registered") {
		t.Errorf("error = %v, want mention of get_my_profile", err)
	}
	if _, err := NewResolver(reg, nil); err == nil {
		t.Error("NewResolver on empty registry succeeded")
	}
}

func TestCapabilitiesFor_Deterministic(t *testing.T) {
	r, _ := newTestResolver(t)
	for _, role := range All {
		first := r.CapabilitiesFor(string(role))
		second := r.CapabilitiesFor(string(role))
		if first != second {
			t.Errorf("%s: profiles differ between calls", role)
		}
		if !slices.Equal(first.Tools, roleTools[role]) {
			t.Errorf("%s: tools = %v, want table order %v", role, first.Tools, roleTools[role])
		}
		if !slices.Equal(first.Registry.AllToolNames(), roleTools[role]) {
			t.Errorf("%s: registry exposes %v, want %v", role, first.Registry.AllToolNames(), roleTools[role])
		}
	}
}

func TestCapabilitiesFor_NeverExceedsTable(t *testing.T) {
	r, _ := newTestResolver(t)
	full := catalogue(t)
	for _, role := range All {
		p := r.CapabilitiesFor(string(role))
		for _, name := range full.AllToolNames() {
			inTable := slices.Contains(roleTools[role], name)
			_, err := p.Registry.Resolve(name)
			if inTable != (err == nil) {
				t.Errorf("%s: tool %s resolvable = %v, in table = %v", role, name, err == nil, inTable)
			}
		}
	}
}

func TestCapabilitiesFor_RoleSets(t *testing.T) {
	r, _ := newTestResolver(t)
	student := r.CapabilitiesFor("STUDENT")
	teacher := r.CapabilitiesFor("TEACHER")
	admin := r.CapabilitiesFor("ADMIN")

	for _, p := range []*Profile{student, teacher, admin} {
		for _, name := range personalTools {
			if !slices.Contains(p.Tools, name) {
				t.Errorf("%s lacks personal tool %s", p.Role, name)
			}
		}
	}

	if slices.Contains(student.Tools, "delete_existing_department") {
		t.Error("STUDENT can delete departments")
	}
	if slices.Contains(student.Tools, "mark_student_attendance") {
		t.Error("STUDENT can mark attendance")
	}
	if !slices.Contains(teacher.Tools, "mark_student_attendance") {
		t.Error("TEACHER cannot mark attendance")
	}
	if slices.Contains(teacher.Tools, "create_new_course") {
		t.Error("TEACHER can create courses")
	}
	// Not a strict superset: the teacher profile tool is teacher-only.
	if slices.Contains(admin.Tools, "get_my_teacher_profile") {
		t.Error("ADMIN unexpectedly has get_my_teacher_profile")
	}
}

func TestCapabilitiesFor_UnknownRoleFailsClosed(t *testing.T) {
	r, logs := newTestResolver(t)

	for _, raw := range []string{"SUPERUSER", "", "root", "ADMIN;DROP"} {
		logs.Reset()
		p := r.CapabilitiesFor(raw)
		if p.Role != Student {
			t.Errorf("CapabilitiesFor(%q).Role = %s, want STUDENT", raw, p.Role)
		}
		out := logs.String()
		if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "unknown role") {
			t.Errorf("CapabilitiesFor(%q) logged %q, want a WARN about unknown role", raw, out)
		}
	}

	logs.Reset()
	r.CapabilitiesFor("teacher")
	if strings.Contains(logs.String(), "unknown role") {
		t.Error("known role logged an unknown-role warning")
	}
}

func TestPromptFor_KeepsIdentityOpaque(t *testing.T) {
	r, _ := newTestResolver(t)
	p := r.CapabilitiesFor("STUDENT")

	prompt := p.PromptFor(tools.Identity{CallerID: "0192f0c4-secret-user-id", Role: "STUDENT"})
	if strings.Contains(prompt, "0192f0c4-secret-user-id") {
		t.Error("prompt embeds the caller id")
	}
	if !strings.HasPrefix(prompt, p.Prompt) {
		t.Error("prompt does not start with the role prompt")
	}
	if !strings.Contains(prompt, "role STUDENT") {
		t.Errorf("prompt lacks role context: %q", prompt)
	}
}

func TestProfileRegistry_Catalogue(t *testing.T) {
	r, _ := newTestResolver(t)
	p := r.CapabilitiesFor("STUDENT")

	for _, entry := range p.Registry.List() {
		fn := entry["function"].(map[string]any)
		params := fn["parameters"].(map[string]any)
		props, _ := params["properties"].(map[string]any)
		if _, ok := props[tools.CallerIDField]; ok {
			t.Errorf("%s exposes caller_id to the model", fn["name"])
		}
	}

	_, err := p.Registry.Execute(context.Background(), "delete_existing_department",
		map[string]any{"department_code": "CS"}, tools.Identity{CallerID: "u", Role: "STUDENT"})
	if err == nil {
		t.Error("STUDENT registry executed delete_existing_department")
	}
}
