package rbac

import (
	"errors"
	"reflect"
	"testing"
)

func TestExpandAdminClosure(t *testing.T) {
	want := []string{RoleAdmin, RoleInstructor, RoleStudent}
	for _, input := range [][]string{
		{"admin"},
		{"Admin"},
		{" admin "},
	} {
		got := Expand(input)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Expand(%v) = %v, want %v", input, got, want)
		}
	}
}

func TestExpandOrderIndependent(t *testing.T) {
	a := Expand([]string{RoleStudent, RoleAdmin})
	b := Expand([]string{RoleAdmin, RoleStudent})
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expansion depends on input order: %v vs %v", a, b)
	}
	want := []string{RoleAdmin, RoleInstructor, RoleStudent}
	if !reflect.DeepEqual(a, want) {
		t.Fatalf("Expand = %v, want %v", a, want)
	}
}

func TestExpandMixedAssignment(t *testing.T) {
	got := Expand([]string{RoleStudent, RoleInstructor})
	want := []string{RoleInstructor, RoleStudent}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExpandKeepsUnknownNames(t *testing.T) {
	got := Expand([]string{"auditor"})
	if !reflect.DeepEqual(got, []string{"auditor"}) {
		t.Fatalf("Expand = %v", got)
	}
}

func TestExpandEmpty(t *testing.T) {
	if got := Expand(nil); got != nil {
		t.Fatalf("Expand(nil) = %v, want nil", got)
	}
}

func TestCheckUsesDirectAuthorizationOnly(t *testing.T) {
	// orders.manage.any is granted to admin/superadmin; an instructor does
	// not gain it through hierarchy expansion of someone else's roles.
	if Check([]string{RoleInstructor, RoleStudent}, PermOrdersManageAny) {
		t.Fatal("instructor satisfied an admin-only permission")
	}
	if !Check(Expand([]string{RoleAdmin}), PermCourseRead) {
		t.Fatal("expanded admin set should satisfy course.read via student")
	}
}

func TestGuards(t *testing.T) {
	roles := Expand([]string{RoleInstructor})

	if err := RequireRole(roles, RoleStudent); err != nil {
		t.Fatalf("RequireRole(student): %v", err)
	}
	if err := RequireRole(roles, RoleAdmin); err == nil {
		t.Fatal("RequireRole(admin) should fail for instructor")
	}

	if err := RequirePermission(roles, PermBuilderAccess); err != nil {
		t.Fatalf("RequirePermission(builder.access): %v", err)
	}
	err := RequirePermission(roles, PermRBACManage)
	var perr *PermissionError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if len(perr.Permissions) != 1 || perr.Permissions[0] != PermRBACManage {
		t.Fatalf("PermissionError did not carry the required permission: %+v", perr)
	}

	if err := RequireAny(roles, PermRBACManage, PermCourseRead); err != nil {
		t.Fatalf("RequireAny: %v", err)
	}
	if err := RequireAny(roles, PermRBACManage, PermAdminPanel); err == nil {
		t.Fatal("RequireAny should fail when no permission matches")
	}

	if err := RequireAll(roles, PermCourseRead, PermBuilderAccess); err != nil {
		t.Fatalf("RequireAll: %v", err)
	}
	if err := RequireAll(roles, PermCourseRead, PermAdminPanel); err == nil {
		t.Fatal("RequireAll should fail when one permission is missing")
	}
}
