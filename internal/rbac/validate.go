package rbac

import "fmt"

// Issue describes a single defect found in the authorization tables.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report is the outcome of validating the authorization tables.
type Report struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

// Validate checks the built-in hierarchy, matrix and groups. It is run at
// startup so an edit to any table is provably safe before being trusted.
func Validate() Report {
	return validateTables(knownRoles, inherits, matrix, groups)
}

func validateTables(roles []string, inh map[string][]string, perms map[string][]string, grps []Group) Report {
	var issues []Issue
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	for perm, allowed := range perms {
		for _, r := range allowed {
			if _, ok := roleSet[r]; !ok {
				issues = append(issues, Issue{
					Code:    "unknown_role_in_permission",
					Message: fmt.Sprintf("unknown role %q in permission %q", r, perm),
				})
			}
		}
		if len(allowed) == 0 {
			issues = append(issues, Issue{
				Code:    "orphan_permission",
				Message: fmt.Sprintf("permission %q has no allowed roles", perm),
			})
		}
	}

	for _, g := range grps {
		for _, p := range g.Permissions {
			if _, ok := perms[p]; !ok {
				issues = append(issues, Issue{
					Code:    "unknown_permission_in_group",
					Message: fmt.Sprintf("group %q references unknown permission %q", g.Key, p),
				})
			}
		}
	}

	if cycle := findCycle(roles, inh); cycle {
		issues = append(issues, Issue{
			Code:    "role_hierarchy_cycle",
			Message: "cycle detected in role hierarchy",
		})
	}

	return Report{OK: len(issues) == 0, Issues: issues}
}

// findCycle runs a DFS with visiting/visited marking; revisiting a node that
// is still on the stack means the hierarchy loops.
func findCycle(roles []string, inh map[string][]string) bool {
	visiting := make(map[string]struct{})
	visited := make(map[string]struct{})

	var dfs func(role string) bool
	dfs = func(role string) bool {
		if _, ok := visited[role]; ok {
			return true
		}
		if _, ok := visiting[role]; ok {
			return false
		}
		visiting[role] = struct{}{}
		for _, parent := range inh[role] {
			if !dfs(parent) {
				return false
			}
		}
		delete(visiting, role)
		visited[role] = struct{}{}
		return true
	}

	for _, r := range roles {
		if !dfs(r) {
			return true
		}
	}
	return false
}
