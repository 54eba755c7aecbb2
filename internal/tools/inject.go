package tools

import (
	"fmt"
	"maps"
	"slices"

	"github.com/xeipuuv/gojsonschema"
)

// Identity fields filled on self-service tools.
const (
	CallerIDField   = "caller_id"
	CallerRoleField = "caller_role"
)

// Identity is the authenticated caller a dispatch loop is bound to.
type Identity struct {
	CallerID string
	Role     string
}

// PrepareCall returns the arguments a tool actually runs with. For
// self-service tools the bound identity is written over whatever the
// model proposed for caller_id and caller_role. Other tools get a copy
// of the proposed arguments unchanged. The proposed map is never
// modified.
func PrepareCall(t *Tool, proposed map[string]any, id Identity) map[string]any {
	effective := make(map[string]any, len(proposed)+2)
	maps.Copy(effective, proposed)
	if t.SelfService {
		effective[CallerIDField] = id.CallerID
		effective[CallerRoleField] = id.Role
	}
	return effective
}

// Validate checks args against the tool's input schema.
func (t *Tool) Validate(args map[string]any) error {
	if t.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentError{Tool: t.Name, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return &ArgumentError{Tool: t.Name, Problems: problems}
}

func schemaProperties(params map[string]any) map[string]any {
	props, _ := params["properties"].(map[string]any)
	return props
}

func schemaRequired(params map[string]any) []string {
	switch req := params["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// checkIdentityFields enforces that self-service tools declare both
// identity fields without requiring them from the model, and that no
// other tool declares them at all.
func checkIdentityFields(t *Tool) error {
	props := schemaProperties(t.Parameters)
	_, hasID := props[CallerIDField]
	_, hasRole := props[CallerRoleField]

	if !t.SelfService {
		if hasID || hasRole {
			return fmt.Errorf("declares %s/%s but is not self-service", CallerIDField, CallerRoleField)
		}
		return nil
	}
	if !hasID || !hasRole {
		return fmt.Errorf("self-service tool must declare %s and %s", CallerIDField, CallerRoleField)
	}
	req := schemaRequired(t.Parameters)
	if slices.Contains(req, CallerIDField) || slices.Contains(req, CallerRoleField) {
		return fmt.Errorf("self-service tool must not require %s or %s from the model", CallerIDField, CallerRoleField)
	}
	return nil
}

// stripIdentity returns a copy of params without the identity fields.
func stripIdentity(params map[string]any) map[string]any {
	out := maps.Clone(params)
	if props := schemaProperties(params); props != nil {
		cp := maps.Clone(props)
		delete(cp, CallerIDField)
		delete(cp, CallerRoleField)
		out["properties"] = cp
	}
	if req := schemaRequired(params); req != nil {
		req = slices.DeleteFunc(slices.Clone(req), func(s string) bool {
			return s == CallerIDField || s == CallerRoleField
		})
		if len(req) == 0 {
			delete(out, "required")
		} else {
			out["required"] = req
		}
	}
	return out
}
