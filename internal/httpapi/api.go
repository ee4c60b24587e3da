// Package httpapi exposes the identity service over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/auth"
	"skillflow.org/internal/obs"
	"skillflow.org/internal/ratelimit"
	"skillflow.org/internal/rbac"
	"skillflow.org/internal/vault"
)

// Route classes with their fixed windows.
const (
	classRegister = "register"
	classLogin    = "login"
	classPassword = "password"
	classMFA      = "mfa"
	classPhone    = "phone"
)

// ReadyProbe checks backing-store connectivity for /readyz.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// API is the HTTP layer over the identity service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	auditLog   *audit.Log
	readyProbe ReadyProbe
	version    string

	limiters map[string]*ratelimit.Limiter
}

func New(svc *auth.Service, auditLog *audit.Log, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		auditLog:   auditLog,
		readyProbe: rp,
		version:    version,
		limiters: map[string]*ratelimit.Limiter{
			classRegister: ratelimit.New(60*time.Minute, 20),
			classLogin:    ratelimit.New(10*time.Minute, 10),
			classPassword: ratelimit.New(15*time.Minute, 10),
			classMFA:      ratelimit.New(10*time.Minute, 20),
			classPhone:    ratelimit.New(10*time.Minute, 5),
		},
	}

	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/verify-email", a.handleVerifyEmail)
	a.mux.HandleFunc("/auth/password/request", a.handlePasswordRequest)
	a.mux.HandleFunc("/auth/password/reset", a.handlePasswordReset)
	a.mux.HandleFunc("/auth/logout", a.requireAuth(a.handleLogout))

	a.mux.HandleFunc("/auth/mfa/setup", a.requireAuth(a.handleMFASetup))
	a.mux.HandleFunc("/auth/mfa/verify", a.requireAuth(a.handleMFAVerify))
	a.mux.HandleFunc("/auth/mfa/backup/generate", a.requireAuth(a.handleBackupGenerate))
	a.mux.HandleFunc("/auth/mfa/backup/consume", a.requireAuth(a.handleBackupConsume))
	a.mux.HandleFunc("/auth/phone/code", a.handlePhoneCode)
	a.mux.HandleFunc("/auth/phone/verify", a.handlePhoneVerify)

	a.mux.HandleFunc("/rbac/roles", a.handleRoles)
	a.mux.HandleFunc("/rbac/hierarchy", a.handleHierarchy)
	a.mux.HandleFunc("/rbac/permissions", a.handlePermissions)
	a.mux.HandleFunc("/rbac/validate", a.handleValidate)
	a.mux.HandleFunc("/rbac/check", a.requireAuth(a.handleCheck))
	a.mux.HandleFunc("/rbac/assign", a.requireAuth(a.handleAssign))
	a.mux.HandleFunc("/rbac/revoke", a.requireAuth(a.handleRevoke))
	a.mux.HandleFunc("/rbac/assign-temp", a.requireAuth(a.handleAssignTemp))
	a.mux.HandleFunc("/rbac/revoke-temp", a.requireAuth(a.handleRevokeTemp))
	a.mux.HandleFunc("/rbac/temp/", a.requireAuth(a.handleTempGrants))

	a.mux.HandleFunc("/me", a.requireAuth(a.handleMe))
	a.mux.HandleFunc("/audit/logs", a.handleAuditLogs)

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = LoggingJSON(h)
	h = FloodGuard(h, 60, 30)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// allow consumes one slot from the route-class window for this client.
func (a *API) allow(w http.ResponseWriter, r *http.Request, class string) bool {
	lim, ok := a.limiters[class]
	if !ok {
		return true
	}
	ip := clientIP(r)
	if ip == "" {
		ip = "unknown"
	}
	if err := lim.Allow(class + "|" + ip); err != nil {
		retry, _ := ratelimit.RetryAfter(err)
		obs.ObserveRateLimited(class)
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "too_many_requests",
			"retry_after_seconds": retry,
		})
		return false
	}
	return true
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid_token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		next(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	}
}

// ensurePermission enforces an expanded-role permission on the request
// principal. A failed check writes the 403 itself.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, perm string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	if err := rbac.RequirePermission(principal.Roles, perm); err != nil {
		var permErr *rbac.PermissionError
		if errors.As(err, &permErr) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":       "forbidden",
				"permissions": permErr.Permissions,
			})
			return auth.Principal{}, false
		}
		writeError(w, r, http.StatusForbidden, "forbidden")
		return auth.Principal{}, false
	}
	return principal, true
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var rateErr *ratelimit.Error
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMFARequired),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrInvalidOrExpired),
		errors.Is(err, auth.ErrInvalidOrUsed),
		errors.Is(err, auth.ErrInvalidExpiry),
		errors.Is(err, auth.ErrMFANotEnrolled):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, vault.ErrDecryptFailed):
		writeError(w, r, http.StatusInternalServerError, err.Error())
	case errors.As(err, &rateErr):
		writeError(w, r, http.StatusTooManyRequests, "too_many_requests")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
