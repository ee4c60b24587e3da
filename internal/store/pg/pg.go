// Package pg implements the durable Store on PostgreSQL through the pgx
// stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/auth"
)

// Store implements auth.Store and audit.Store over a shared *sql.DB.
type Store struct {
	db *sql.DB
}

var (
	_ auth.Store  = (*Store)(nil)
	_ audit.Store = (*Store)(nil)
)

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`create table if not exists accounts (
			id bigserial primary key,
			email text not null unique,
			password_hash text not null,
			verified boolean not null default false,
			roles jsonb not null default '[]',
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now()
		)`,
		`create table if not exists temp_grants (
			id bigserial primary key,
			account_id bigint not null references accounts(id) on delete cascade,
			role text not null,
			expires_at timestamptz not null
		)`,
		`create index if not exists temp_grants_account_idx on temp_grants(account_id)`,
		`create table if not exists reset_tokens (
			token_hash text primary key,
			account_id bigint not null references accounts(id) on delete cascade,
			expires_at timestamptz not null
		)`,
		`create table if not exists mfa_secrets (
			account_id bigint primary key references accounts(id) on delete cascade,
			secret text not null
		)`,
		`create table if not exists backup_codes (
			account_id bigint not null references accounts(id) on delete cascade,
			idx int not null,
			hash text not null,
			used boolean not null default false,
			primary key (account_id, idx)
		)`,
		`create table if not exists phone_challenges (
			phone text primary key,
			id text not null,
			code text not null,
			expires_at timestamptz not null,
			attempts int not null default 0
		)`,
		`create table if not exists audit_log (
			id bigserial primary key,
			at timestamptz not null default now(),
			ip text not null default '',
			account_id bigint not null default 0,
			email text not null default '',
			action text not null
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Accounts() auth.AccountStore       { return &accountStore{db: s.db} }
func (s *Store) Grants() auth.GrantStore           { return &grantStore{db: s.db} }
func (s *Store) ResetTokens() auth.ResetTokenStore { return &resetTokenStore{db: s.db} }
func (s *Store) MFA() auth.MFAStore                { return &mfaStore{db: s.db} }
func (s *Store) Phone() auth.PhoneStore            { return &phoneStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Account store ------------------------------------------------------------

type accountStore struct{ db *sql.DB }

func (s *accountStore) Create(ctx context.Context, account *auth.Account) error {
	roles, _ := json.Marshal(account.Roles)
	err := s.db.QueryRowContext(ctx, `
		insert into accounts(email, password_hash, verified, roles)
		values ($1,$2,$3,$4)
		returning id, created_at, updated_at
	`, account.Email, account.PasswordHash, account.Verified, roles).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return auth.ErrEmailExists
	}
	return err
}

func (s *accountStore) Find(ctx context.Context, id int64) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, verified, roles, created_at, updated_at
		from accounts where id=$1
	`, id))
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		select id, email, password_hash, verified, roles, created_at, updated_at
		from accounts where email=$1
	`, email))
}

func scanAccount(row *sql.Row) (*auth.Account, error) {
	var (
		account auth.Account
		roles   []byte
	)
	err := row.Scan(&account.ID, &account.Email, &account.PasswordHash,
		&account.Verified, &roles, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(roles, &account.Roles)
	return &account, nil
}

func (s *accountStore) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	return s.updateOne(ctx, `
		update accounts set password_hash=$2, updated_at=now() where id=$1
	`, id, passwordHash)
}

func (s *accountStore) SetVerified(ctx context.Context, id int64, verified bool) error {
	return s.updateOne(ctx, `
		update accounts set verified=$2, updated_at=now() where id=$1
	`, id, verified)
}

func (s *accountStore) SetRoles(ctx context.Context, id int64, roles []string) error {
	encoded, _ := json.Marshal(roles)
	return s.updateOne(ctx, `
		update accounts set roles=$2, updated_at=now() where id=$1
	`, id, encoded)
}

func (s *accountStore) updateOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// Temporary grant store ----------------------------------------------------

type grantStore struct{ db *sql.DB }

func (s *grantStore) Append(ctx context.Context, grant auth.TemporaryGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into temp_grants(account_id, role, expires_at) values ($1,$2,$3)
	`, grant.AccountID, grant.Role, grant.ExpiresAt)
	return err
}

func (s *grantStore) Revoke(ctx context.Context, accountID int64, role string, now time.Time) ([]auth.TemporaryGrant, error) {
	if _, err := s.db.ExecContext(ctx, `
		delete from temp_grants where account_id=$1 and (role=$2 or expires_at <= $3)
	`, accountID, role, now); err != nil {
		return nil, err
	}
	return s.Active(ctx, accountID, now)
}

func (s *grantStore) Active(ctx context.Context, accountID int64, now time.Time) ([]auth.TemporaryGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select account_id, role, expires_at from temp_grants
		where account_id=$1 and expires_at > $2
		order by expires_at asc
	`, accountID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.TemporaryGrant
	for rows.Next() {
		var g auth.TemporaryGrant
		if err := rows.Scan(&g.AccountID, &g.Role, &g.ExpiresAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Reset token store --------------------------------------------------------

type resetTokenStore struct{ db *sql.DB }

func (s *resetTokenStore) Put(ctx context.Context, token auth.ResetToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into reset_tokens(token_hash, account_id, expires_at)
		values ($1,$2,$3)
		on conflict (token_hash) do update set expires_at = excluded.expires_at
	`, token.TokenHash, token.AccountID, token.ExpiresAt)
	return err
}

func (s *resetTokenStore) Find(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	var token auth.ResetToken
	err := s.db.QueryRowContext(ctx, `
		select token_hash, account_id, expires_at from reset_tokens where token_hash=$1
	`, tokenHash).Scan(&token.TokenHash, &token.AccountID, &token.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *resetTokenStore) Delete(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `delete from reset_tokens where token_hash=$1`, tokenHash)
	return err
}

// MFA store ----------------------------------------------------------------

type mfaStore struct{ db *sql.DB }

func (s *mfaStore) SaveSecret(ctx context.Context, accountID int64, encrypted string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_secrets(account_id, secret) values ($1,$2)
		on conflict (account_id) do update set secret = excluded.secret
	`, accountID, encrypted)
	return err
}

func (s *mfaStore) Secret(ctx context.Context, accountID int64) (string, error) {
	var encrypted string
	err := s.db.QueryRowContext(ctx, `
		select secret from mfa_secrets where account_id=$1
	`, accountID).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	return encrypted, err
}

func (s *mfaStore) SaveBackupCodes(ctx context.Context, accountID int64, codes []auth.BackupCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from backup_codes where account_id=$1`, accountID); err != nil {
		return err
	}
	for i, code := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into backup_codes(account_id, idx, hash, used) values ($1,$2,$3,$4)
		`, accountID, i, code.Hash, code.Used); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *mfaStore) BackupCodes(ctx context.Context, accountID int64) ([]auth.BackupCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select hash, used from backup_codes where account_id=$1 order by idx asc
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []auth.BackupCode
	for rows.Next() {
		var code auth.BackupCode
		if err := rows.Scan(&code.Hash, &code.Used); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, auth.ErrNotFound
	}
	return codes, nil
}

// MarkBackupCodeUsed is a compare-and-set: the where clause only matches an
// unused row, so exactly one concurrent consumer wins.
func (s *mfaStore) MarkBackupCodeUsed(ctx context.Context, accountID int64, index int) error {
	res, err := s.db.ExecContext(ctx, `
		update backup_codes set used=true where account_id=$1 and idx=$2 and used=false
	`, accountID, index)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrInvalidOrUsed
	}
	return nil
}

// Phone challenge store ----------------------------------------------------

type phoneStore struct{ db *sql.DB }

func (s *phoneStore) Put(ctx context.Context, challenge auth.PhoneChallenge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into phone_challenges(phone, id, code, expires_at, attempts)
		values ($1,$2,$3,$4,0)
		on conflict (phone) do update
		set id = excluded.id, code = excluded.code, expires_at = excluded.expires_at, attempts = 0
	`, challenge.Phone, challenge.ID, challenge.Code, challenge.ExpiresAt)
	return err
}

func (s *phoneStore) Find(ctx context.Context, phone string) (*auth.PhoneChallenge, error) {
	var challenge auth.PhoneChallenge
	err := s.db.QueryRowContext(ctx, `
		select id, phone, code, expires_at, attempts from phone_challenges where phone=$1
	`, phone).Scan(&challenge.ID, &challenge.Phone, &challenge.Code, &challenge.ExpiresAt, &challenge.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &challenge, nil
}

func (s *phoneStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update phone_challenges set attempts = attempts + 1 where phone=$1 returning attempts
	`, phone).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, auth.ErrNotFound
	}
	return attempts, err
}

func (s *phoneStore) Delete(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `delete from phone_challenges where phone=$1`, phone)
	return err
}

// Audit trail --------------------------------------------------------------

// Append implements audit.Store with a database-assigned sequence.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	return s.db.QueryRowContext(ctx, `
		insert into audit_log(at, ip, account_id, email, action)
		values ($1,$2,$3,$4,$5) returning id
	`, entry.At, entry.IP, entry.AccountID, entry.Email, entry.Action).Scan(&entry.ID)
}

// Recent returns up to limit most recent entries, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, at, ip, account_id, email, action from (
			select id, at, ip, account_id, email, action
			from audit_log order by id desc limit $1
		) tail order by id asc
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.At, &e.IP, &e.AccountID, &e.Email, &e.Action); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
