// Package roles maps a caller's role to the tools the model may see and
// the behavioural prompt it runs under.
package roles

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/registrar-ai/registrar/internal/prompts"
	"github.com/registrar-ai/registrar/internal/tools"
)

// Role is a caller's role on the platform.
type Role string

// Known roles.
const (
	Admin   Role = "ADMIN"
	Teacher Role = "TEACHER"
	Student Role = "STUDENT"
)

// Fallback is the role used for anything unrecognized. It is the most
// restrictive profile.
const Fallback = Student

// All lists the known roles.
var All = []Role{Admin, Teacher, Student}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, slices.Contains(All, r)
}

// Profile is the capability set of one role: the ordered tool names,
// the registry restricted to them, and the system prompt.
type Profile struct {
	Role     Role
	Tools    []string
	Prompt   string
	Registry *tools.Registry
}

// PromptFor returns the system prompt for a conversation with the given
// caller. The caller's id is deliberately absent; personal tools
// receive it through injection.
func (p *Profile) PromptFor(id tools.Identity) string {
	return p.Prompt + "\n\n" + prompts.SessionContext(string(p.Role),
		slices.ContainsFunc(p.Tools, isPersonal), id.CallerID != "")
}

func isPersonal(name string) bool { return strings.HasPrefix(name, "get_my_") }

// Resolver returns capability profiles. Profiles are built once at
// construction and shared read-only between requests.
type Resolver struct {
	profiles map[Role]*Profile
	logger   *slog.Logger
}

// NewResolver builds a profile per role from the static tables over
// base. Every table entry must name a registered tool; a missing one is
// a startup error.
func NewResolver(base *tools.Registry, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := Validate(base); err != nil {
		return nil, err
	}

	r := &Resolver{profiles: make(map[Role]*Profile, len(All)), logger: logger}
	for _, role := range All {
		names := slices.Clone(roleTools[role])
		r.profiles[role] = &Profile{
			Role:     role,
			Tools:    names,
			Prompt:   rolePrompts[role],
			Registry: base.FilteredCopy(names),
		}
	}
	return r, nil
}

// Validate checks the static tables against a registry.
func Validate(base *tools.Registry) error {
	var errs []error
	for _, role := range All {
		seen := make(map[string]bool)
		for _, name := range roleTools[role] {
			if seen[name] {
				errs = append(errs, fmt.Errorf("role %s lists %s twice", role, name))
			}
			seen[name] = true
			if base.Get(name) == nil {
				errs = append(errs, fmt.Errorf("role %s: tool %s is not registered", role, name))
			}
		}
		if rolePrompts[role] == "" {
			errs = append(errs, fmt.Errorf("role %s has no prompt", role))
		}
	}
	return errors.Join(errs...)
}

// CapabilitiesFor returns the profile for a raw role string. Unknown
// roles get the Fallback profile and a warning, since they mean the
// caller's role was misclassified upstream.
func (r *Resolver) CapabilitiesFor(raw string) *Profile {
	role, ok := ParseRole(raw)
	if !ok {
		r.logger.Warn("unknown role, using restricted profile",
			"role", raw,
			"fallback", string(Fallback))
		role = Fallback
	}
	return r.profiles[role]
}
