package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "delete_existing_department"}
	want := `tool "delete_existing_department" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	orig := &ErrToolUnavailable{ToolName: "create_new_course"}
	wrapped := fmt.Errorf("tool execution: %w", orig)

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "create_new_course" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "create_new_course")
	}
}

func TestArgumentError_Error(t *testing.T) {
	err := &ArgumentError{Tool: "get_course_by_id", Problems: []string{"(root): course_id is required", "limit: Invalid type"}}
	want := "invalid arguments for get_course_by_id: (root): course_id is required; limit: Invalid type"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

type tempErr struct{}

func (tempErr) Error() string   { return "temporary" }
func (tempErr) Temporary() bool { return true }

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"temporary", fmt.Errorf("wrap: %w", tempErr{}), true},
		{"argument", &ArgumentError{Tool: "x"}, false},
		{"unavailable", &ErrToolUnavailable{ToolName: "x"}, false},
		{"unknown", fmt.Errorf("%w: %q", ErrUnknownTool, "x"), false},
		{"not found", errors.New("course \"XX\": not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
