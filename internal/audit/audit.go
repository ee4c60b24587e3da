// Package audit maintains the append-only security event trail. Entries are
// durably recorded through a Store before any response is returned, and each
// one is mirrored as a structured log line.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"skillflow.org/internal/obs"
)

// Security-relevant actions. The set mirrors every terminal transition of the
// authentication and role-management flows.
const (
	ActionRegister             = "register"
	ActionLoginSuccess         = "login_success"
	ActionLoginFailure         = "login_failure"
	ActionLogout               = "logout"
	ActionVerifyEmail          = "verify_email"
	ActionPasswordResetRequest = "password_reset_request"
	ActionPasswordResetSuccess = "password_reset_success"
	ActionMFASetup             = "mfa_setup"
	ActionMFAVerify            = "mfa_verify"
	ActionRoleAssign           = "role_assign"
	ActionRoleRevoke           = "role_revoke"
	ActionRoleAssignTemp       = "role_assign_temp"
	ActionRoleRevokeTemp       = "role_revoke_temp"
)

// Entry is one immutable audit record. IDs increase monotonically within a
// store; entries are never mutated or deleted.
type Entry struct {
	ID        int64     `json:"id"`
	At        time.Time `json:"at"`
	IP        string    `json:"ip,omitempty"`
	AccountID int64     `json:"account_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Action    string    `json:"action"`
}

// Store persists entries append-only. Append assigns the entry ID.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Log records audit events against a store.
type Log struct {
	store Store
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Log backed by store.
func New(store Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record appends one entry, pulling the client address from the context.
// accountID of zero and empty email mean the actor is unknown.
func (l *Log) Record(ctx context.Context, action string, accountID int64, email string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return errors.New("audit action is required")
	}
	entry := &Entry{
		At:        l.now().UTC(),
		IP:        ClientIPFromContext(ctx),
		AccountID: accountID,
		Email:     email,
		Action:    action,
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return err
	}

	line := map[string]any{
		"type":   "audit",
		"event":  action,
		"id":     entry.ID,
		"ts":     entry.At.Format(time.RFC3339Nano),
		"ip":     entry.IP,
		"email":  entry.Email,
	}
	if entry.AccountID != 0 {
		line["account_id"] = entry.AccountID
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		line["request_id"] = rid
	}
	obs.Emit(line)
	return nil
}

// Recent returns up to limit most recent entries, oldest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	return l.store.Recent(ctx, limit)
}

type ctxKey string

const (
	clientIPKey  ctxKey = "audit_client_ip"
	requestIDKey ctxKey = "audit_request_id"
)

// WithClientIP attaches the caller address to the context for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext extracts the caller address if present.
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(clientIPKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID attaches the request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
