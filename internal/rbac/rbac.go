// Package rbac holds the static authorization model: a role hierarchy, a
// permission matrix, guards evaluated against expanded role sets, and a
// validator that proves the tables are safe before they are trusted.
package rbac

import (
	"sort"
	"strings"
)

// Built-in roles, lowest to highest.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

var knownRoles = []string{RoleStudent, RoleInstructor, RoleAdmin, RoleSuperadmin}

// Higher roles inherit the listed lower roles transitively.
var inherits = map[string][]string{
	RoleStudent:    {},
	RoleInstructor: {RoleStudent},
	RoleAdmin:      {RoleInstructor, RoleStudent},
	RoleSuperadmin: {RoleAdmin, RoleInstructor, RoleStudent},
}

// Roles returns the known role set in rank order.
func Roles() []string {
	out := make([]string, len(knownRoles))
	copy(out, knownRoles)
	return out
}

// Known reports whether role is part of the built-in role set.
func Known(role string) bool {
	for _, r := range knownRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Hierarchy returns a copy of the inheritance edges for discovery endpoints.
func Hierarchy() map[string][]string {
	out := make(map[string][]string, len(inherits))
	for role, inh := range inherits {
		cp := make([]string, len(inh))
		copy(cp, inh)
		out[role] = cp
	}
	return out
}

// Expand computes the reflexive-transitive closure of input over the
// inheritance graph. Unknown names are kept in the closure but contribute no
// edges. The result is sorted so callers get set semantics regardless of
// input order.
func Expand(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(input))
	stack := make([]string, 0, len(input))
	for _, r := range input {
		r = strings.TrimSpace(strings.ToLower(r))
		if r != "" {
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		if inh, ok := inherits[r]; ok {
			stack = append(stack, inh...)
		}
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
