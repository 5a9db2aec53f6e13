package capability

import (
	"fmt"
	"sort"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

// ViolationError marks an agent acting outside its role's verb set. It is
// a configuration or programming error, never a policy finding, and always
// fails the stage.
type ViolationError struct {
	Role string
	Verb schema.Verb
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("capability violation: role %q may not %q", e.Role, e.Verb)
}

// Registry maps agent roles to their allowed action verbs. It is built
// once at process start and read-only afterwards, so concurrent runs can
// share it without locking.
type Registry struct {
	roles map[string]map[schema.Verb]struct{}
}

// DefaultRules mirror the shipped agent roles.
var DefaultRules = map[string][]schema.Verb{
	"design": {schema.VerbRead},
	"dev":    {schema.VerbRead, schema.VerbWrite, schema.VerbEdit, schema.VerbExecute},
	"test":   {schema.VerbRead, schema.VerbWrite, schema.VerbExecute},
	"cyber":  {schema.VerbRead, schema.VerbExecute},
	"cicd":   {schema.VerbRead, schema.VerbExecute, schema.VerbBuild, schema.VerbDeploy, schema.VerbRollback},
}

// NewRegistry builds a registry from role -> verbs rules. Unknown verbs are
// rejected so a typo in configuration cannot silently widen a role.
func NewRegistry(rules map[string][]schema.Verb) (*Registry, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	roles := make(map[string]map[schema.Verb]struct{}, len(rules))
	for role, verbs := range rules {
		if role == "" {
			return nil, fmt.Errorf("capability rule with empty role")
		}
		set := make(map[schema.Verb]struct{}, len(verbs))
		for _, verb := range verbs {
			if !schema.IsKnownVerb(verb) {
				return nil, fmt.Errorf("capability rule for role %q: unknown verb %q", role, verb)
			}
			set[verb] = struct{}{}
		}
		roles[role] = set
	}
	return &Registry{roles: roles}, nil
}

// AllowedActions returns the sorted verb set for a role; empty for unknown
// roles.
func (r *Registry) AllowedActions(role string) []schema.Verb {
	set, ok := r.roles[role]
	if !ok {
		return nil
	}
	verbs := make([]schema.Verb, 0, len(set))
	for verb := range set {
		verbs = append(verbs, verb)
	}
	sort.Slice(verbs, func(i, j int) bool { return verbs[i] < verbs[j] })
	return verbs
}

// IsPermitted reports whether the role may perform the verb.
func (r *Registry) IsPermitted(role string, verb schema.Verb) bool {
	set, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = set[verb]
	return ok
}

// Check returns a ViolationError for the first verb the role may not
// perform, nil when all are permitted.
func (r *Registry) Check(role string, verbs []schema.Verb) error {
	for _, verb := range verbs {
		if !r.IsPermitted(role, verb) {
			return &ViolationError{Role: role, Verb: verb}
		}
	}
	return nil
}

// Roles returns the sorted list of known roles.
func (r *Registry) Roles() []string {
	roles := make([]string, 0, len(r.roles))
	for role := range r.roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
