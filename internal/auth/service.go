package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/ids"
	"skillflow.org/internal/notify"
	"skillflow.org/internal/obs"
	"skillflow.org/internal/otp"
	"skillflow.org/internal/rbac"
	"skillflow.org/internal/vault"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = 15 * time.Minute
)

// Service implements the identity core: registration, the login state
// machine, MFA lifecycle, password recovery and role management. Every
// terminal security outcome is audited before the call returns.
type Service struct {
	store    Store
	audit    *audit.Log
	hasher   *Hasher
	vault    *vault.Vault
	notifier notify.Notifier
	now      func() time.Time

	enforceMFARoles []string
	totpStep        time.Duration
	totpWindow      int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEnforcedMFARoles requires MFA at login for accounts holding any of the
// given roles.
func WithEnforcedMFARoles(roles []string) ServiceOption {
	return func(s *Service) {
		s.enforceMFARoles = dedupeRoles(roles)
	}
}

// WithNotifier overrides the outbound notifier.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithTOTPStep overrides the TOTP time step.
func WithTOTPStep(step time.Duration) ServiceOption {
	return func(s *Service) {
		if step > 0 {
			s.totpStep = step
		}
	}
}

// WithTOTPWindow overrides the TOTP drift window.
func WithTOTPWindow(window int) ServiceOption {
	return func(s *Service) {
		if window >= 0 {
			s.totpWindow = window
		}
	}
}

// NewService constructs the identity service.
func NewService(store Store, auditLog *audit.Log, hasher *Hasher, v *vault.Vault, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if auditLog == nil {
		return nil, errors.New("audit log is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if v == nil {
		return nil, errors.New("vault is required")
	}
	svc := &Service{
		store:      store,
		audit:      auditLog,
		hasher:     hasher,
		vault:      v,
		notifier:   notify.LogNotifier{},
		now:        time.Now,
		totpStep:   otp.DefaultStep,
		totpWindow: otp.DefaultWindow,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an account with the default student role. The caller is
// told verification is pending; delivery happens through the notifier.
func (s *Service) Register(ctx context.Context, email, password string) (*Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return nil, err
	}
	account := &Account{
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{rbac.RoleStudent},
	}
	if err := s.store.Accounts().Create(ctx, account); err != nil {
		return nil, err
	}
	_ = s.notifier.SendEmailVerification(ctx, email)
	if err := s.audit.Record(ctx, audit.ActionRegister, account.ID, email); err != nil {
		return nil, err
	}
	obs.ObserveRegistration()
	return account, nil
}

// Credentials is the input to one login attempt.
type Credentials struct {
	Email      string
	Password   string
	MFACode    string
	BackupCode string
	Remember   bool
}

// Session is the successful outcome of the login state machine.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
	MFA       bool
}

// Login drives the credential check, the conditional MFA challenge and token
// issuance. Credential failures are indistinguishable between unknown account
// and wrong password.
func (s *Service) Login(ctx context.Context, creds Credentials) (*Session, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return nil, s.failLogin(ctx, 0, creds.Email, "invalid_credentials", ErrInvalidCredentials)
	}
	account, err := s.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, s.failLogin(ctx, 0, email, "invalid_credentials", ErrInvalidCredentials)
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(ctx, account.PasswordHash, creds.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.failLogin(ctx, account.ID, email, "invalid_credentials", ErrInvalidCredentials)
	}

	mfaUsed := false
	if s.requiresMFA(account.Roles) {
		switch {
		case creds.MFACode != "":
			if err := s.checkTOTP(ctx, account.ID, creds.MFACode); err != nil {
				if errors.Is(err, vault.ErrDecryptFailed) {
					return nil, err
				}
				// A code against an account that never enrolled is the same
				// terminal state as supplying no code at all.
				if errors.Is(err, ErrMFANotEnrolled) {
					return nil, s.failLogin(ctx, account.ID, email, "mfa_required", ErrMFARequired)
				}
				return nil, s.failLogin(ctx, account.ID, email, "invalid_code", ErrInvalidCode)
			}
			mfaUsed = true
		case creds.BackupCode != "":
			if err := s.consumeBackupCode(ctx, account.ID, creds.BackupCode); err != nil {
				return nil, s.failLogin(ctx, account.ID, email, "invalid_code", ErrInvalidCode)
			}
			mfaUsed = true
		default:
			return nil, s.failLogin(ctx, account.ID, email, "mfa_required", ErrMFARequired)
		}
	}

	ttl := DefaultTokenTTL
	if creds.Remember {
		ttl = RememberTokenTTL
	}
	token, err := GenerateToken(strconv.FormatInt(account.ID, 10), account.Roles, account.Verified, mfaUsed, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionLoginSuccess, account.ID, email); err != nil {
		return nil, err
	}
	obs.ObserveLogin("success")
	return &Session{
		Token:     token,
		ExpiresAt: s.now().UTC().Add(ttl),
		Account:   account,
		MFA:       mfaUsed,
	}, nil
}

func (s *Service) failLogin(ctx context.Context, accountID int64, email, outcome string, cause error) error {
	if err := s.audit.Record(ctx, audit.ActionLoginFailure, accountID, email); err != nil {
		return err
	}
	obs.ObserveLogin(outcome)
	return cause
}

func (s *Service) requiresMFA(roles []string) bool {
	for _, r := range roles {
		for _, enforced := range s.enforceMFARoles {
			if r == enforced {
				return true
			}
		}
	}
	return false
}

// VerifyEmail flips the verified flag for an existing account.
func (s *Service) VerifyEmail(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return ErrNotFound
	}
	account, err := s.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.store.Accounts().SetVerified(ctx, account.ID, true); err != nil {
		return err
	}
	return s.audit.Record(ctx, audit.ActionVerifyEmail, account.ID, email)
}

// RequestPasswordReset issues a single-use reset token valid for 15 minutes.
// Only the token hash is stored.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", ErrNotFound
	}
	account, err := s.store.Accounts().FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	secretPart, err := randomToken(16)
	if err != nil {
		return "", err
	}
	token := ids.New() + "." + secretPart
	record := ResetToken{
		TokenHash: hashToken(token),
		AccountID: account.ID,
		ExpiresAt: s.now().Add(resetTokenTTL),
	}
	if err := s.store.ResetTokens().Put(ctx, record); err != nil {
		return "", err
	}
	_ = s.notifier.SendPasswordReset(ctx, email, token)
	if err := s.audit.Record(ctx, audit.ActionPasswordResetRequest, account.ID, email); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token and installs a new password hash.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidOrExpired
	}
	record, err := s.store.ResetTokens().Find(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidOrExpired
		}
		return err
	}
	if !record.ExpiresAt.After(s.now()) {
		return ErrInvalidOrExpired
	}
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Accounts().UpdatePassword(ctx, record.AccountID, hash); err != nil {
		return err
	}
	if err := s.store.ResetTokens().Delete(ctx, record.TokenHash); err != nil {
		return err
	}
	return s.audit.Record(ctx, audit.ActionPasswordResetSuccess, record.AccountID, "")
}

// Logout only audits: tokens are stateless and expire on their own.
func (s *Service) Logout(ctx context.Context, accountID int64, email string) error {
	return s.audit.Record(ctx, audit.ActionLogout, accountID, email)
}

// AssignRole adds a persistent role to an account.
func (s *Service) AssignRole(ctx context.Context, accountID int64, role string) (*Account, error) {
	role, err := normalizeRole(role)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !containsRole(account.Roles, role) {
		account.Roles = append(account.Roles, role)
		if err := s.store.Accounts().SetRoles(ctx, accountID, account.Roles); err != nil {
			return nil, err
		}
	}
	if err := s.audit.Record(ctx, audit.ActionRoleAssign, accountID, account.Email); err != nil {
		return nil, err
	}
	return account, nil
}

// RevokeRole removes a persistent role from an account.
func (s *Service) RevokeRole(ctx context.Context, accountID int64, role string) (*Account, error) {
	role, err := normalizeRole(role)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	kept := account.Roles[:0]
	for _, r := range account.Roles {
		if r != role {
			kept = append(kept, r)
		}
	}
	account.Roles = kept
	if err := s.store.Accounts().SetRoles(ctx, accountID, account.Roles); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionRoleRevoke, accountID, account.Email); err != nil {
		return nil, err
	}
	return account, nil
}

// AssignTemporaryRole grants a role until the given expiry. The grant takes
// effect on the very next authenticated request without re-login.
func (s *Service) AssignTemporaryRole(ctx context.Context, accountID int64, role string, until time.Time) ([]TemporaryGrant, error) {
	role, err := normalizeRole(role)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !until.After(now) {
		return nil, ErrInvalidExpiry
	}
	grant := TemporaryGrant{AccountID: accountID, Role: role, ExpiresAt: until}
	if err := s.store.Grants().Append(ctx, grant); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionRoleAssignTemp, accountID, account.Email); err != nil {
		return nil, err
	}
	return s.store.Grants().Active(ctx, accountID, now)
}

// RevokeTemporaryRole removes grants for the role; the same pass also drops
// grants that already expired.
func (s *Service) RevokeTemporaryRole(ctx context.Context, accountID int64, role string) ([]TemporaryGrant, error) {
	role, err := normalizeRole(role)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Accounts().Find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.store.Grants().Revoke(ctx, accountID, role, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionRoleRevokeTemp, accountID, account.Email); err != nil {
		return nil, err
	}
	return remaining, nil
}

// ActiveGrants lists unexpired temporary grants for an account.
func (s *Service) ActiveGrants(ctx context.Context, accountID int64) ([]TemporaryGrant, error) {
	return s.store.Grants().Active(ctx, accountID, s.now())
}

// Authenticate verifies a bearer token, merges live temporary grants with the
// token's base roles and expands the union through the role hierarchy.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := ParseAndValidate(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	grants, err := s.store.Grants().Active(ctx, accountID, s.now())
	if err != nil {
		return Principal{}, err
	}
	merged := make([]string, 0, len(claims.Roles)+len(grants))
	merged = append(merged, claims.Roles...)
	for _, g := range grants {
		merged = append(merged, g.Role)
	}
	return Principal{
		AccountID: accountID,
		Roles:     rbac.Expand(merged),
		Verified:  claims.Verified,
		MFA:       claims.MFA,
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func normalizeRole(role string) (string, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if !rbac.Known(role) {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return role, nil
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
