package tools

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for _, name := range []string{"alpha", "beta", "gamma"} {
		result := name + "-result"
		if err := r.Register(&Tool{
			Name:        name,
			Description: "Tool " + name,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return result, nil
			},
		}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return r
}

func TestAllToolNames(t *testing.T) {
	r := newTestRegistry(t)
	names := r.AllToolNames()

	want := []string{"alpha", "beta", "gamma"}
	if !slices.Equal(names, want) {
		t.Fatalf("AllToolNames() = %v, want %v (registration order)", names, want)
	}
}

func TestFilteredCopy(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name      string
		include   []string
		wantNames []string
		wantExec  map[string]string // tool name → expected result
	}{
		{
			name:      "subset keeps requested order",
			include:   []string{"gamma", "alpha"},
			wantNames: []string{"gamma", "alpha"},
			wantExec:  map[string]string{"alpha": "alpha-result", "gamma": "gamma-result"},
		},
		{
			name:      "single",
			include:   []string{"beta"},
			wantNames: []string{"beta"},
			wantExec:  map[string]string{"beta": "beta-result"},
		},
		{
			name:      "empty list",
			include:   []string{},
			wantNames: []string{},
		},
		{
			name:      "nonexistent tools skipped",
			include:   []string{"alpha", "nonexistent", "alpha"},
			wantNames: []string{"alpha"},
			wantExec:  map[string]string{"alpha": "alpha-result"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := r.FilteredCopy(tt.include)

			names := filtered.AllToolNames()
			if !slices.Equal(names, tt.wantNames) && !(len(names) == 0 && len(tt.wantNames) == 0) {
				t.Fatalf("FilteredCopy(%v) = %v, want %v", tt.include, names, tt.wantNames)
			}

			for toolName, wantResult := range tt.wantExec {
				result, err := filtered.Execute(context.Background(), toolName, nil, Identity{})
				if err != nil {
					t.Errorf("Execute(%q) error = %v", toolName, err)
				}
				if result != wantResult {
					t.Errorf("Execute(%q) = %q, want %q", toolName, result, wantResult)
				}
			}
		})
	}
}

func TestFilteredCopy_ExcludedToolUnavailable(t *testing.T) {
	r := newTestRegistry(t)
	filtered := r.FilteredCopy([]string{"alpha"})

	_, err := filtered.Execute(context.Background(), "beta", nil, Identity{})
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("Execute(beta) error = %v, want *ErrToolUnavailable", err)
	}
	if unavail.ToolName != "beta" {
		t.Errorf("ToolName = %q, want beta", unavail.ToolName)
	}

	_, err = filtered.Execute(context.Background(), "delta", nil, Identity{})
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Execute(delta) error = %v, want ErrUnknownTool", err)
	}
}

func TestFilteredCopy_IsFrozen(t *testing.T) {
	r := newTestRegistry(t)
	filtered := r.FilteredCopy([]string{"alpha"})

	err := filtered.Register(&Tool{
		Name:    "late",
		Handler: func(context.Context, map[string]any) (string, error) { return "", nil },
	})
	if err == nil {
		t.Error("Register on a filtered copy should fail")
	}
	if r.Get("late") != nil {
		t.Error("parent registry was mutated")
	}
}
