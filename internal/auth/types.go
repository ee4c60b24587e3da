package auth

import "time"

// Account is the identity record. Accounts are never hard-deleted.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Verified     bool      `json:"verified"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TemporaryGrant is a time-bounded role elevation layered on top of the
// persistent roles at request time. Expired grants are filtered at read time
// rather than actively swept.
type TemporaryGrant struct {
	AccountID int64     `json:"account_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResetToken is a single-use password reset credential. Only the hash of the
// issued token is stored; the record is deleted on successful reset.
type ResetToken struct {
	TokenHash string
	AccountID int64
	ExpiresAt time.Time
}

// PhoneChallenge is a short-lived SMS verification code. Attempts increments
// on every verification try; exceeding the cap invalidates the challenge.
type PhoneChallenge struct {
	ID        string
	Phone     string
	Code      string
	ExpiresAt time.Time
	Attempts  int
}

// BackupCode is a one-way-hashed single-use recovery credential. Once used it
// is permanently excluded from future matches.
type BackupCode struct {
	Hash string
	Used bool
}

// Principal is the authorization view of one authenticated request: the
// token's base roles merged with live temporary grants and expanded through
// the role hierarchy.
type Principal struct {
	AccountID int64
	Roles     []string
	Verified  bool
	MFA       bool
}

// HasRole reports whether the expanded role set contains role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
