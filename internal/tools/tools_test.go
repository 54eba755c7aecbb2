package tools

import (
	"context"
	"errors"
	"testing"
)

func noop(context.Context, map[string]any) (string, error) { return "ok", nil }

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name string
		tool *Tool
	}{
		{"no name", &Tool{Handler: noop}},
		{"no handler", &Tool{Name: "x"}},
		{"bad schema", &Tool{Name: "x", Handler: noop, Parameters: map[string]any{"type": 42}}},
		{
			"identity on ordinary tool",
			&Tool{Name: "x", Handler: noop, Parameters: objectSchema(str(CallerIDField, ""))},
		},
		{
			"self-service missing role field",
			&Tool{Name: "x", Handler: noop, SelfService: true, Parameters: objectSchema(str(CallerIDField, ""))},
		},
		{
			"self-service requiring identity",
			&Tool{Name: "x", Handler: noop, SelfService: true, Parameters: objectSchema(
				str(CallerIDField, "").req(), str(CallerRoleField, ""))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			if err := r.Register(tt.tool); err == nil {
				t.Error("Register() succeeded, want error")
			}
		})
	}
}

func TestRegister_DuplicateAndFrozen(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Tool{Name: "x", Handler: noop}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(&Tool{Name: "x", Handler: noop}); err == nil {
		t.Error("duplicate register succeeded")
	}

	r.Freeze()
	if err := r.Register(&Tool{Name: "y", Handler: noop}); err == nil {
		t.Error("register after Freeze succeeded")
	}
}

func TestList_HidesIdentityFields(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&Tool{
		Name:        "get_my_things",
		Handler:     noop,
		SelfService: true,
		Parameters:  selfParams(str("filter", "optional filter").req()),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("List() returned %d tools, want 1", len(list))
	}
	fn := list[0]["function"].(map[string]any)
	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)

	if _, ok := props[CallerIDField]; ok {
		t.Errorf("catalogue exposes %s", CallerIDField)
	}
	if _, ok := props[CallerRoleField]; ok {
		t.Errorf("catalogue exposes %s", CallerRoleField)
	}
	if _, ok := props["filter"]; !ok {
		t.Error("catalogue lost the filter argument")
	}

	// The registered schema keeps the identity fields for validation.
	full := schemaProperties(r.Get("get_my_things").Parameters)
	if _, ok := full[CallerIDField]; !ok {
		t.Error("stripping mutated the registered schema")
	}
}

func TestExecute_ValidatesArguments(t *testing.T) {
	r := NewRegistry(nil)
	var got map[string]any
	if err := r.Register(&Tool{
		Name: "get_course_by_id",
		Parameters: objectSchema(
			str("course_id", "code").req(),
			integer("limit", "max rows"),
		),
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			got = args
			return "found", nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"course_id": "CS101"}, false},
		{"valid with integer", map[string]any{"course_id": "CS101", "limit": float64(5)}, false},
		{"missing required", map[string]any{}, true},
		{"nil args", nil, true},
		{"wrong type", map[string]any{"course_id": 101}, true},
		{"fractional integer", map[string]any{"course_id": "CS101", "limit": 2.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			_, err := r.Execute(context.Background(), "get_course_by_id", tt.args, Identity{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var argErr *ArgumentError
				if !errors.As(err, &argErr) {
					t.Errorf("error %v is not an *ArgumentError", err)
				}
				if got != nil {
					t.Error("handler ran despite invalid arguments")
				}
			}
		})
	}
}

func TestExecute_BindsIdentityToContext(t *testing.T) {
	r := NewRegistry(nil)
	var seen Identity
	if err := r.Register(&Tool{
		Name:       "mark",
		SideEffect: Write,
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			seen, _ = IdentityFromContext(ctx)
			return "", nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	want := Identity{CallerID: "user-7", Role: "TEACHER"}
	if _, err := r.Execute(context.Background(), "mark", nil, want); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != want {
		t.Errorf("identity in context = %+v, want %+v", seen, want)
	}
}

func TestSideEffect_String(t *testing.T) {
	if Read.String() != "read" || Write.String() != "write" {
		t.Errorf("String() = %q/%q, want read/write", Read.String(), Write.String())
	}
}
