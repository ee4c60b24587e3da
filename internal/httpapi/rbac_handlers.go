package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"skillflow.org/internal/auth"
	"skillflow.org/internal/rbac"
)

type roleChangeRequest struct {
	UserID int64  `json:"userId"`
	Role   string `json:"role"`
}

type tempRoleRequest struct {
	UserID          int64  `json:"userId"`
	Role            string `json:"role"`
	DurationSeconds int64  `json:"durationSeconds"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// expiry resolves the grant deadline: an absolute expiresAt timestamp
// (epoch millis) wins over a relative durationSeconds, which is clamped to
// at least one second.
func (req tempRoleRequest) expiry(now time.Time) time.Time {
	if req.ExpiresAt != 0 {
		return time.UnixMilli(req.ExpiresAt).UTC()
	}
	secs := req.DurationSeconds
	if secs < 1 {
		secs = 1
	}
	return now.Add(time.Duration(secs) * time.Second)
}

type checkRequest struct {
	Permission string `json:"permission"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": rbac.Roles()})
}

func (a *API) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hierarchy": rbac.Hierarchy()})
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": rbac.Permissions(),
		"matrix":      rbac.Matrix(),
		"groups":      rbac.Groups(),
	})
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	report := rbac.Validate()
	code := http.StatusOK
	if !report.OK {
		code = http.StatusConflict
	}
	writeJSON(w, code, report)
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Permission = strings.TrimSpace(req.Permission)
	if req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         rbac.Check(principal.Roles, req.Permission),
		"roles":      principal.Roles,
		"permission": req.Permission,
	})
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.svc.AssignRole)
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	a.changeRole(w, r, a.svc.RevokeRole)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, accountID int64, role string) (*auth.Account, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRBACManage); !ok {
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	account, err := apply(r.Context(), req.UserID, req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    account.ID,
		"roles": account.Roles,
	})
}

func (a *API) handleAssignTemp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRBACManage); !ok {
		return
	}
	var req tempRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := a.svc.AssignTemporaryRole(r.Context(), req.UserID, req.Role, req.expiry(time.Now().UTC()))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    req.UserID,
		"tempRoles": grantViews(grants),
	})
}

func (a *API) handleRevokeTemp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRBACManage); !ok {
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	grants, err := a.svc.RevokeTemporaryRole(r.Context(), req.UserID, req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    req.UserID,
		"tempRoles": grantViews(grants),
	})
}

func (a *API) handleTempGrants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.ensurePermission(w, r, rbac.PermRBACManage); !ok {
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/rbac/temp/"), "/")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	grants, err := a.svc.ActiveGrants(r.Context(), userID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    userID,
		"tempRoles": grantViews(grants),
	})
}

type grantView struct {
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func grantViews(grants []auth.TemporaryGrant) []grantView {
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, grantView{Role: g.Role, ExpiresAt: g.ExpiresAt})
	}
	return views
}
