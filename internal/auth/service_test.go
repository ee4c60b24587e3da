package auth_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/auth"
	"skillflow.org/internal/otp"
	"skillflow.org/internal/rbac"
	"skillflow.org/internal/store/mem"
	"skillflow.org/internal/vault"
)

type fixture struct {
	svc   *auth.Service
	store *mem.Store
	log   *audit.Log
	now   *time.Time
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	t.Setenv("SKILLFLOW_AUTH_SECRET", "service-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	store := mem.New(mem.WithClock(clock))
	log, err := audit.New(store, audit.WithClock(clock))
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	v, err := vault.New(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	opts = append([]auth.ServiceOption{auth.WithClock(clock)}, opts...)
	svc, err := auth.NewService(store, log, auth.NewHasher(4), v, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: store, log: log, now: &now}
}

func (f *fixture) lastAudit(t *testing.T) audit.Entry {
	t.Helper()
	entries, err := f.log.Recent(context.Background(), 500)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("audit trail is empty")
	}
	return entries[len(entries)-1]
}

func TestRegisterDefaultsToStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "A@X.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if account.ID == 0 || account.Email != "a@x.com" {
		t.Fatalf("unexpected account: %+v", account)
	}
	if len(account.Roles) != 1 || account.Roles[0] != rbac.RoleStudent {
		t.Fatalf("default roles = %v", account.Roles)
	}
	if account.Verified {
		t.Fatal("new account should require verification")
	}
	if got := f.lastAudit(t); got.Action != audit.ActionRegister || got.AccountID != account.ID {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.Register(ctx, "a@x.com", "other-password"); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("duplicate register err = %v, want ErrEmailExists", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "not-an-email", "secret1"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("bad email err = %v", err)
	}
	if _, err := f.svc.Register(ctx, "a@x.com", "short"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("short password err = %v", err)
	}
}

func TestLoginOpaqueCredentialFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, unknownErr := f.svc.Login(ctx, auth.Credentials{Email: "nobody@x.com", Password: "secret1"})
	_, wrongErr := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "wrong"})
	if !errors.Is(unknownErr, auth.ErrInvalidCredentials) || !errors.Is(wrongErr, auth.ErrInvalidCredentials) {
		t.Fatalf("errors differ: %v vs %v", unknownErr, wrongErr)
	}
	if got := f.lastAudit(t); got.Action != audit.ActionLoginFailure {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestLoginIssuesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := auth.ParseAndValidate(session.Token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "1" || claims.MFA {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != rbac.RoleStudent {
		t.Fatalf("token roles = %v", claims.Roles)
	}
	if got := f.lastAudit(t); got.Action != audit.ActionLoginSuccess {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestLoginEnforcedMFA(t *testing.T) {
	f := newFixture(t, auth.WithEnforcedMFARoles([]string{rbac.RoleAdmin}))
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "admin@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.AssignRole(ctx, account.ID, rbac.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	enrollment, err := f.svc.SetupMFA(ctx, account.ID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}

	// No code: the challenge is required.
	_, err = f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1"})
	if !errors.Is(err, auth.ErrMFARequired) {
		t.Fatalf("missing code err = %v, want ErrMFARequired", err)
	}

	// Wrong code: rejected as invalid.
	_, err = f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1", MFACode: "000000"})
	if !errors.Is(err, auth.ErrInvalidCode) {
		t.Fatalf("wrong code err = %v, want ErrInvalidCode", err)
	}

	// Correct current TOTP code: token carries the mfa claim.
	code := otp.TOTP(otp.DecodeBase32(enrollment.Secret), *f.now, otp.DefaultStep)
	session, err := f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1", MFACode: code})
	if err != nil {
		t.Fatalf("Login with TOTP: %v", err)
	}
	claims, err := auth.ParseAndValidate(session.Token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if !claims.MFA {
		t.Fatal("mfa claim not set")
	}
}

func TestLoginEnforcedMFAWithoutEnrollment(t *testing.T) {
	f := newFixture(t, auth.WithEnforcedMFARoles([]string{rbac.RoleAdmin}))
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "admin@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.AssignRole(ctx, account.ID, rbac.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	// Supplying a code without ever enrolling lands in the same terminal
	// state as supplying none.
	_, err = f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1", MFACode: "123456"})
	if !errors.Is(err, auth.ErrMFARequired) {
		t.Fatalf("unenrolled code err = %v, want ErrMFARequired", err)
	}
}

func TestLoginWithBackupCode(t *testing.T) {
	f := newFixture(t, auth.WithEnforcedMFARoles([]string{rbac.RoleAdmin}))
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "admin@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.svc.AssignRole(ctx, account.ID, rbac.RoleAdmin); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if _, err := f.svc.SetupMFA(ctx, account.ID); err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	codes, err := f.svc.GenerateBackupCodes(ctx, account.ID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	session, err := f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1", BackupCode: codes[0]})
	if err != nil {
		t.Fatalf("Login with backup code: %v", err)
	}
	if !session.MFA {
		t.Fatal("session should record MFA satisfaction")
	}

	// The code is burnt: a second login with it fails.
	_, err = f.svc.Login(ctx, auth.Credentials{Email: "admin@x.com", Password: "secret1", BackupCode: codes[0]})
	if !errors.Is(err, auth.ErrInvalidCode) {
		t.Fatalf("reused backup code err = %v, want ErrInvalidCode", err)
	}
}

func TestRememberedSessionTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "secret1", Remember: true})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !session.ExpiresAt.Equal(f.now.Add(auth.RememberTokenTTL)) {
		t.Fatalf("remembered session expiry = %v, want clock + %v", session.ExpiresAt, auth.RememberTokenTTL)
	}

	short, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !short.ExpiresAt.Equal(f.now.Add(auth.DefaultTokenTTL)) {
		t.Fatalf("default session expiry = %v, want clock + %v", short.ExpiresAt, auth.DefaultTokenTTL)
	}
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.svc.VerifyEmail(ctx, "a@x.com"); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	got, err := f.store.Accounts().Find(ctx, account.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !got.Verified {
		t.Fatal("account not verified")
	}
	if err := f.svc.VerifyEmail(ctx, "nobody@x.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unknown email err = %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := f.svc.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, token, "newsecret"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "newsecret"}); err != nil {
		t.Fatalf("Login after reset: %v", err)
	}

	// Single use: the same token cannot reset again.
	if err := f.svc.ResetPassword(ctx, token, "another-one"); !errors.Is(err, auth.ErrInvalidOrExpired) {
		t.Fatalf("reused token err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "a@x.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := f.svc.RequestPasswordReset(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	*f.now = f.now.Add(16 * time.Minute)
	if err := f.svc.ResetPassword(ctx, token, "newsecret"); !errors.Is(err, auth.ErrInvalidOrExpired) {
		t.Fatalf("expired token err = %v, want ErrInvalidOrExpired", err)
	}
}

func TestRoleAssignmentAndExpansion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	updated, err := f.svc.AssignRole(ctx, account.ID, rbac.RoleAdmin)
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if len(updated.Roles) != 2 || updated.Roles[0] != rbac.RoleStudent || updated.Roles[1] != rbac.RoleAdmin {
		t.Fatalf("stored roles = %v", updated.Roles)
	}

	expanded := rbac.Expand(updated.Roles)
	want := map[string]bool{rbac.RoleStudent: true, rbac.RoleAdmin: true, rbac.RoleInstructor: true}
	if len(expanded) != len(want) {
		t.Fatalf("expanded = %v", expanded)
	}
	for _, r := range expanded {
		if !want[r] {
			t.Fatalf("unexpected role %q in %v", r, expanded)
		}
	}

	if _, err := f.svc.AssignRole(ctx, account.ID, "ghost"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown role err = %v", err)
	}
	if _, err := f.svc.AssignRole(ctx, 999, rbac.RoleAdmin); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("unknown account err = %v", err)
	}
}

func TestTemporaryGrantLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.svc.AssignTemporaryRole(ctx, account.ID, rbac.RoleInstructor, f.now.Add(-time.Second)); !errors.Is(err, auth.ErrInvalidExpiry) {
		t.Fatalf("past expiry err = %v, want ErrInvalidExpiry", err)
	}

	grants, err := f.svc.AssignTemporaryRole(ctx, account.ID, rbac.RoleInstructor, f.now.Add(time.Second))
	if err != nil {
		t.Fatalf("AssignTemporaryRole: %v", err)
	}
	if len(grants) != 1 || grants[0].Role != rbac.RoleInstructor {
		t.Fatalf("active grants = %+v", grants)
	}

	// The grant evaporates at read time once expired.
	*f.now = f.now.Add(1100 * time.Millisecond)
	grants, err = f.svc.ActiveGrants(ctx, account.ID)
	if err != nil {
		t.Fatalf("ActiveGrants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expired grant still listed: %+v", grants)
	}
}

func TestAuthenticateMergesLiveGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, "a@x.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := f.svc.Login(ctx, auth.Credentials{Email: "a@x.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	principal, err := f.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.HasRole(rbac.RoleInstructor) {
		t.Fatal("instructor role present before grant")
	}

	// Granting after token issuance takes effect without re-login.
	if _, err := f.svc.AssignTemporaryRole(ctx, account.ID, rbac.RoleInstructor, f.now.Add(time.Minute)); err != nil {
		t.Fatalf("AssignTemporaryRole: %v", err)
	}
	principal, err = f.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !principal.HasRole(rbac.RoleInstructor) {
		t.Fatal("live grant not merged into principal")
	}
	if err := rbac.RequirePermission(principal.Roles, rbac.PermBuilderAccess); err != nil {
		t.Fatalf("builder.access should be satisfied: %v", err)
	}

	// Revocation is equally immediate.
	if _, err := f.svc.RevokeTemporaryRole(ctx, account.ID, rbac.RoleInstructor); err != nil {
		t.Fatalf("RevokeTemporaryRole: %v", err)
	}
	principal, err = f.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.HasRole(rbac.RoleInstructor) {
		t.Fatal("revoked grant still effective")
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Authenticate(context.Background(), "not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
