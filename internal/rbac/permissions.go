package rbac

import (
	"fmt"
	"sort"
)

// Permission keys consumed by collaborating services.
const (
	PermCourseRead          = "course.read"
	PermCourseManageOwn     = "course.manage.own"
	PermCourseManageAny     = "course.manage.any"
	PermBuilderAccess       = "builder.access"
	PermAnalyticsViewOwn    = "analytics.view.own"
	PermAnalyticsViewGlobal = "analytics.view.global"
	PermOrdersManageAny     = "orders.manage.any"
	PermModerateOwn         = "community.moderate.own"
	PermModerateAny         = "community.moderate.any"
	PermAdminPanel          = "admin.panel"
	PermRBACManage          = "rbac.manage"
)

// matrix maps each permission to the roles directly authorized for it.
var matrix = map[string][]string{
	PermCourseRead:          {RoleStudent, RoleInstructor, RoleAdmin, RoleSuperadmin},
	PermCourseManageOwn:     {RoleInstructor, RoleAdmin, RoleSuperadmin},
	PermCourseManageAny:     {RoleAdmin, RoleSuperadmin},
	PermBuilderAccess:       {RoleInstructor, RoleAdmin, RoleSuperadmin},
	PermAnalyticsViewOwn:    {RoleStudent, RoleInstructor},
	PermAnalyticsViewGlobal: {RoleAdmin, RoleSuperadmin},
	PermOrdersManageAny:     {RoleAdmin, RoleSuperadmin},
	PermModerateOwn:         {RoleInstructor},
	PermModerateAny:         {RoleAdmin, RoleSuperadmin},
	PermAdminPanel:          {RoleAdmin, RoleSuperadmin},
	PermRBACManage:          {RoleSuperadmin},
}

// Group bundles permissions under a named preset.
type Group struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

var groups = []Group{
	{Key: "student-default", Label: "Student Default", Permissions: []string{PermCourseRead, PermAnalyticsViewOwn}},
	{Key: "instructor-default", Label: "Instructor Default", Permissions: []string{PermCourseRead, PermCourseManageOwn, PermBuilderAccess, PermModerateOwn, PermAnalyticsViewOwn}},
	{Key: "admin-ops", Label: "Admin Operations", Permissions: []string{PermCourseManageAny, PermOrdersManageAny, PermModerateAny, PermAnalyticsViewGlobal, PermAdminPanel}},
	{Key: "superadmin-core", Label: "Super Admin Core", Permissions: []string{PermRBACManage}},
}

// Permissions returns the sorted permission keys.
func Permissions() []string {
	out := make([]string, 0, len(matrix))
	for k := range matrix {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Matrix returns a copy of the permission table.
func Matrix() map[string][]string {
	out := make(map[string][]string, len(matrix))
	for perm, roles := range matrix {
		cp := make([]string, len(roles))
		copy(cp, roles)
		out[perm] = cp
	}
	return out
}

// Groups returns the permission group presets.
func Groups() []Group {
	out := make([]Group, len(groups))
	copy(out, groups)
	return out
}

// AllowedRoles returns the roles directly authorized for perm.
func AllowedRoles(perm string) []string {
	roles, ok := matrix[perm]
	if !ok {
		return nil
	}
	cp := make([]string, len(roles))
	copy(cp, roles)
	return cp
}

// Check reports whether any of the (already expanded) roles is directly
// authorized for perm.
func Check(roles []string, perm string) bool {
	allowed, ok := matrix[perm]
	if !ok {
		return false
	}
	for _, r := range roles {
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}

// PermissionError is returned by guards; it names what was required so the
// rejection is diagnosable.
type PermissionError struct {
	Permissions []string
	Roles       []string
	RequireAll  bool
}

func (e *PermissionError) Error() string {
	switch {
	case len(e.Roles) > 0:
		return fmt.Sprintf("forbidden: requires role %v", e.Roles)
	case e.RequireAll:
		return fmt.Sprintf("forbidden: requires all of %v", e.Permissions)
	default:
		return fmt.Sprintf("forbidden: requires %v", e.Permissions)
	}
}

// RequireRole ensures the expanded role set contains at least one of the
// required roles.
func RequireRole(roles []string, required ...string) error {
	for _, r := range roles {
		for _, need := range required {
			if r == need {
				return nil
			}
		}
	}
	return &PermissionError{Roles: required}
}

// RequirePermission ensures the expanded role set satisfies perm.
func RequirePermission(roles []string, perm string) error {
	if Check(roles, perm) {
		return nil
	}
	return &PermissionError{Permissions: []string{perm}}
}

// RequireAny ensures at least one of perms is satisfied.
func RequireAny(roles []string, perms ...string) error {
	for _, p := range perms {
		if Check(roles, p) {
			return nil
		}
	}
	return &PermissionError{Permissions: perms}
}

// RequireAll ensures every one of perms is satisfied.
func RequireAll(roles []string, perms ...string) error {
	for _, p := range perms {
		if !Check(roles, p) {
			return &PermissionError{Permissions: perms, RequireAll: true}
		}
	}
	return nil
}
