package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
// Implementations must make every read-modify-write atomic per key so that
// concurrent requests cannot double-spend a backup code or lose a role edit.
type Store interface {
	Accounts() AccountStore
	Grants() GrantStore
	ResetTokens() ResetTokenStore
	MFA() MFAStore
	Phone() PhoneStore
}

// AccountStore manages identity records.
type AccountStore interface {
	// Create assigns the account ID; returns ErrEmailExists on a duplicate.
	Create(ctx context.Context, account *Account) error
	Find(ctx context.Context, id int64) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetVerified(ctx context.Context, id int64, verified bool) error
	SetRoles(ctx context.Context, id int64, roles []string) error
}

// GrantStore manages temporary role grants.
type GrantStore interface {
	Append(ctx context.Context, grant TemporaryGrant) error
	// Revoke removes grants for the role and, in the same pass, drops any
	// grants that expired before now. It returns the surviving grants.
	Revoke(ctx context.Context, accountID int64, role string, now time.Time) ([]TemporaryGrant, error)
	// Active returns grants with ExpiresAt strictly after now.
	Active(ctx context.Context, accountID int64, now time.Time) ([]TemporaryGrant, error)
}

// ResetTokenStore manages single-use password reset tokens keyed by hash.
type ResetTokenStore interface {
	Put(ctx context.Context, token ResetToken) error
	Find(ctx context.Context, tokenHash string) (*ResetToken, error)
	Delete(ctx context.Context, tokenHash string) error
}

// MFAStore manages encrypted TOTP secrets and backup codes.
type MFAStore interface {
	SaveSecret(ctx context.Context, accountID int64, encrypted string) error
	// Secret returns the encrypted blob; ErrNotFound when not enrolled.
	Secret(ctx context.Context, accountID int64) (string, error)
	SaveBackupCodes(ctx context.Context, accountID int64, codes []BackupCode) error
	BackupCodes(ctx context.Context, accountID int64) ([]BackupCode, error)
	// MarkBackupCodeUsed flips the used flag; ErrInvalidOrUsed when the code
	// at index was already consumed (compare-and-set semantics).
	MarkBackupCodeUsed(ctx context.Context, accountID int64, index int) error
}

// PhoneStore manages SMS challenges keyed by phone number.
type PhoneStore interface {
	Put(ctx context.Context, challenge PhoneChallenge) error
	Find(ctx context.Context, phone string) (*PhoneChallenge, error)
	// IncrementAttempts bumps the attempt counter and returns the new value.
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
}
