// Package mem provides the in-memory Store used by tests and single-process
// deployments. Every map is guarded by a mutex so read-modify-write paths
// (role edits, backup-code consumption) stay atomic per account.
package mem

import (
	"context"
	"sync"
	"time"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/auth"
)

// Store implements auth.Store and audit.Store over process-local maps.
type Store struct {
	mu sync.RWMutex

	nextAccountID int64
	accounts      map[int64]*auth.Account
	byEmail       map[string]int64

	grants      map[int64][]auth.TemporaryGrant
	resetTokens map[string]auth.ResetToken
	secrets     map[int64]string
	backupCodes map[int64][]auth.BackupCode
	phone       map[string]*auth.PhoneChallenge

	nextAuditID int64
	auditTrail  []audit.Entry

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[int64]*auth.Account),
		byEmail:     make(map[string]int64),
		grants:      make(map[int64][]auth.TemporaryGrant),
		resetTokens: make(map[string]auth.ResetToken),
		secrets:     make(map[int64]string),
		backupCodes: make(map[int64][]auth.BackupCode),
		phone:       make(map[string]*auth.PhoneChallenge),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ auth.Store  = (*Store)(nil)
	_ audit.Store = (*Store)(nil)
)

func (s *Store) Accounts() auth.AccountStore       { return (*accountStore)(s) }
func (s *Store) Grants() auth.GrantStore           { return (*grantStore)(s) }
func (s *Store) ResetTokens() auth.ResetTokenStore { return (*resetTokenStore)(s) }
func (s *Store) MFA() auth.MFAStore                { return (*mfaStore)(s) }
func (s *Store) Phone() auth.PhoneStore            { return (*phoneStore)(s) }

// --- accounts ---

type accountStore Store

func (s *accountStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[account.Email]; exists {
		return auth.ErrEmailExists
	}
	s.nextAccountID++
	account.ID = s.nextAccountID
	account.CreatedAt = s.now().UTC()
	account.UpdatedAt = account.CreatedAt
	s.accounts[account.ID] = cloneAccount(account)
	s.byEmail[account.Email] = account.ID
	return nil
}

func (s *accountStore) Find(_ context.Context, id int64) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *accountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(s.accounts[id]), nil
}

func (s *accountStore) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = s.now().UTC()
	return nil
}

func (s *accountStore) SetVerified(_ context.Context, id int64, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.Verified = verified
	account.UpdatedAt = s.now().UTC()
	return nil
}

func (s *accountStore) SetRoles(_ context.Context, id int64, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.Roles = append([]string(nil), roles...)
	account.UpdatedAt = s.now().UTC()
	return nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	return &cp
}

// --- temporary grants ---

type grantStore Store

func (s *grantStore) Append(_ context.Context, grant auth.TemporaryGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grant.AccountID] = append(s.grants[grant.AccountID], grant)
	return nil
}

func (s *grantStore) Revoke(_ context.Context, accountID int64, role string, now time.Time) ([]auth.TemporaryGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []auth.TemporaryGrant
	for _, g := range s.grants[accountID] {
		if g.Role == role || !g.ExpiresAt.After(now) {
			continue
		}
		kept = append(kept, g)
	}
	s.grants[accountID] = kept
	return append([]auth.TemporaryGrant(nil), kept...), nil
}

func (s *grantStore) Active(_ context.Context, accountID int64, now time.Time) ([]auth.TemporaryGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []auth.TemporaryGrant
	for _, g := range s.grants[accountID] {
		if g.ExpiresAt.After(now) {
			active = append(active, g)
		}
	}
	return active, nil
}

// --- reset tokens ---

type resetTokenStore Store

func (s *resetTokenStore) Put(_ context.Context, token auth.ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetTokens[token.TokenHash] = token
	return nil
}

func (s *resetTokenStore) Find(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := token
	return &cp, nil
}

func (s *resetTokenStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resetTokens, tokenHash)
	return nil
}

// --- MFA secrets and backup codes ---

type mfaStore Store

func (s *mfaStore) SaveSecret(_ context.Context, accountID int64, encrypted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[accountID] = encrypted
	return nil
}

func (s *mfaStore) Secret(_ context.Context, accountID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	encrypted, ok := s.secrets[accountID]
	if !ok {
		return "", auth.ErrNotFound
	}
	return encrypted, nil
}

func (s *mfaStore) SaveBackupCodes(_ context.Context, accountID int64, codes []auth.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backupCodes[accountID] = append([]auth.BackupCode(nil), codes...)
	return nil
}

func (s *mfaStore) BackupCodes(_ context.Context, accountID int64) ([]auth.BackupCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes, ok := s.backupCodes[accountID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return append([]auth.BackupCode(nil), codes...), nil
}

func (s *mfaStore) MarkBackupCodeUsed(_ context.Context, accountID int64, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[accountID]
	if index < 0 || index >= len(codes) {
		return auth.ErrInvalidOrUsed
	}
	if codes[index].Used {
		return auth.ErrInvalidOrUsed
	}
	codes[index].Used = true
	return nil
}

// --- phone challenges ---

type phoneStore Store

func (s *phoneStore) Put(_ context.Context, challenge auth.PhoneChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := challenge
	s.phone[challenge.Phone] = &cp
	return nil
}

func (s *phoneStore) Find(_ context.Context, phone string) (*auth.PhoneChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenge, ok := s.phone[phone]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *challenge
	return &cp, nil
}

func (s *phoneStore) IncrementAttempts(_ context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.phone[phone]
	if !ok {
		return 0, auth.ErrNotFound
	}
	challenge.Attempts++
	return challenge.Attempts, nil
}

func (s *phoneStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.phone, phone)
	return nil
}

// --- audit trail ---

// Append implements audit.Store with a process-local monotonic sequence.
func (s *Store) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	entry.ID = s.nextAuditID
	s.auditTrail = append(s.auditTrail, *entry)
	return nil
}

// Recent returns up to limit most recent entries, oldest first.
func (s *Store) Recent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if len(s.auditTrail) > limit {
		start = len(s.auditTrail) - limit
	}
	out := make([]audit.Entry, len(s.auditTrail)-start)
	copy(out, s.auditTrail[start:])
	return out, nil
}
