// Package tools defines the tools available to the agent: a registry of
// named, schema-described operations, role-scoped copies of it, and the
// identity injection applied to self-service tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/xeipuuv/gojsonschema"
)

// SideEffect classifies what a tool does to the college store. Reads
// may be retried after a transient failure; writes never are.
type SideEffect int

const (
	Read SideEffect = iota
	Write
)

func (s SideEffect) String() string {
	if s == Write {
		return "write"
	}
	return "read"
}

// MarshalJSON renders the side effect as "read" or "write".
func (s SideEffect) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	SideEffect  SideEffect     `json:"side_effect"`
	// SelfService tools act on the caller's own record. Their schema
	// declares caller_id and caller_role, which are always filled from
	// the bound identity and never shown to the model.
	SelfService bool `json:"self_service"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`

	schema *gojsonschema.Schema
}

// Registry holds available tools. It is mutable only until Freeze is
// called; after that it is safe for concurrent reads.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	known  map[string]bool // full catalogue this registry was filtered from
	frozen bool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		known:  make(map[string]bool),
		logger: logger,
	}
}

// Register adds a tool to the registry. It rejects duplicate names,
// missing handlers, schemas that do not compile, and identity fields
// declared on a tool that is not self-service.
func (r *Registry) Register(t *Tool) error {
	if r.frozen {
		return fmt.Errorf("register %s: registry is frozen", t.Name)
	}
	if t.Name == "" {
		return fmt.Errorf("register: tool has no name")
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("register %s: duplicate tool name", t.Name)
	}
	if t.Handler == nil {
		return fmt.Errorf("register %s: no handler", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if err := checkIdentityFields(t); err != nil {
		return fmt.Errorf("register %s: %w", t.Name, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
	if err != nil {
		return fmt.Errorf("register %s: invalid input schema: %w", t.Name, err)
	}
	t.schema = schema

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	r.known[t.Name] = true
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Resolve returns the named tool. A name that exists in the full
// catalogue but was filtered out of this registry yields
// *ErrToolUnavailable; a name nobody registered yields ErrUnknownTool.
func (r *Registry) Resolve(name string) (*Tool, error) {
	if t, ok := r.tools[name]; ok {
		return t, nil
	}
	if r.known[name] {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// AllToolNames returns tool names in registration order.
func (r *Registry) AllToolNames() []string {
	return slices.Clone(r.order)
}

// FilteredCopy returns a frozen registry containing only the named
// tools, in the order given. Unknown names are skipped.
func (r *Registry) FilteredCopy(names []string) *Registry {
	cp := &Registry{
		tools:  make(map[string]*Tool, len(names)),
		known:  r.known,
		frozen: true,
		logger: r.logger,
	}
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		if _, dup := cp.tools[n]; dup {
			continue
		}
		cp.tools[n] = t
		cp.order = append(cp.order, n)
	}
	return cp
}

// Tools returns the registered tools in order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// List returns the tool catalogue for the LLM in registration order.
// Identity fields of self-service tools are stripped.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, n := range r.order {
		t := r.tools[n]
		params := t.Parameters
		if t.SelfService {
			params = stripIdentity(params)
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return result
}

// Execute resolves, injects, validates and runs one tool call on behalf
// of the bound identity.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, id Identity) (string, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return "", err
	}

	effective := PrepareCall(t, args, id)
	if err := t.Validate(effective); err != nil {
		return "", err
	}

	ctx = WithIdentity(ctx, id)
	r.logger.Debug("tool execute",
		"tool", name,
		"thread", ConversationIDFromContext(ctx),
		"self_service", t.SelfService,
		"side_effect", t.SideEffect.String())
	return t.Handler(ctx, effective)
}
