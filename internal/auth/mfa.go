package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"skillflow.org/internal/audit"
	"skillflow.org/internal/obs"
	"skillflow.org/internal/otp"
)

const (
	backupCodeCount = 8
	backupCodeBytes = 5

	phoneChallengeTTL = 5 * time.Minute
	phoneAttemptCap   = 5
)

// Enrollment is the one-time MFA provisioning material. The secret is shown
// once and stored only encrypted.
type Enrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth"`
}

// SetupMFA provisions a fresh TOTP secret for the account.
func (s *Service) SetupMFA(ctx context.Context, accountID int64) (*Enrollment, error) {
	if _, err := s.store.Accounts().Find(ctx, accountID); err != nil {
		return nil, err
	}
	secret, err := otp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	encrypted, err := s.vault.Encrypt([]byte(secret))
	if err != nil {
		return nil, err
	}
	if err := s.store.MFA().SaveSecret(ctx, accountID, encrypted); err != nil {
		return nil, err
	}
	if err := s.audit.Record(ctx, audit.ActionMFASetup, accountID, ""); err != nil {
		return nil, err
	}
	return &Enrollment{
		Secret: secret,
		URI:    otp.ProvisioningURI(issuer, strconv.FormatInt(accountID, 10), secret),
	}, nil
}

// VerifyMFA checks a TOTP code against the account's enrolled secret.
func (s *Service) VerifyMFA(ctx context.Context, accountID int64, code string) error {
	if err := s.checkTOTP(ctx, accountID, code); err != nil {
		if errors.Is(err, ErrInvalidCode) {
			obs.ObserveMFA("invalid_code")
		}
		return err
	}
	obs.ObserveMFA("success")
	return s.audit.Record(ctx, audit.ActionMFAVerify, accountID, "")
}

// checkTOTP transiently decrypts the enrolled secret and verifies code
// within the configured drift window. The plaintext never leaves this frame.
func (s *Service) checkTOTP(ctx context.Context, accountID int64, code string) error {
	encrypted, err := s.store.MFA().Secret(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrMFANotEnrolled
		}
		return err
	}
	secret, err := s.vault.Decrypt(encrypted)
	if err != nil {
		return err
	}
	if !otp.VerifyTOTP(string(secret), code, s.now(), s.totpStep, s.totpWindow) {
		return ErrInvalidCode
	}
	return nil
}

// GenerateBackupCodes replaces the account's recovery codes with a fresh
// batch of 8. Plaintext codes are returned exactly once.
func (s *Service) GenerateBackupCodes(ctx context.Context, accountID int64) ([]string, error) {
	if _, err := s.store.Accounts().Find(ctx, accountID); err != nil {
		return nil, err
	}
	plaintexts := make([]string, 0, backupCodeCount)
	records := make([]BackupCode, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		buf := make([]byte, backupCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		code := hex.EncodeToString(buf)
		hash, err := s.hasher.Hash(ctx, code)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, BackupCode{Hash: hash})
	}
	if err := s.store.MFA().SaveBackupCodes(ctx, accountID, records); err != nil {
		return nil, err
	}
	return plaintexts, nil
}

// ConsumeBackupCode burns one unused recovery code.
func (s *Service) ConsumeBackupCode(ctx context.Context, accountID int64, code string) error {
	if err := s.consumeBackupCode(ctx, accountID, code); err != nil {
		return err
	}
	obs.ObserveMFA("backup_code")
	return s.audit.Record(ctx, audit.ActionMFAVerify, accountID, "")
}

func (s *Service) consumeBackupCode(ctx context.Context, accountID int64, code string) error {
	if code == "" {
		return ErrInvalidOrUsed
	}
	codes, err := s.store.MFA().BackupCodes(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidOrUsed
		}
		return err
	}
	for i, rec := range codes {
		if rec.Used {
			continue
		}
		match, err := s.hasher.Verify(ctx, rec.Hash, code)
		if err != nil {
			return err
		}
		if !match {
			continue
		}
		// The mark is a compare-and-set: a concurrent consumer of the same
		// code loses here and falls through to invalid_or_used.
		if err := s.store.MFA().MarkBackupCodeUsed(ctx, accountID, i); err != nil {
			if errors.Is(err, ErrInvalidOrUsed) {
				continue
			}
			return err
		}
		return nil
	}
	return ErrInvalidOrUsed
}

// StartPhoneChallenge issues a 6-digit SMS code valid for 5 minutes.
func (s *Service) StartPhoneChallenge(ctx context.Context, phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	code, err := randomDigits(6)
	if err != nil {
		return err
	}
	challenge := PhoneChallenge{
		ID:        uuid.NewString(),
		Phone:     phone,
		Code:      code,
		ExpiresAt: s.now().Add(phoneChallengeTTL),
	}
	if err := s.store.Phone().Put(ctx, challenge); err != nil {
		return err
	}
	return s.notifier.SendPhoneCode(ctx, phone, code)
}

// VerifyPhoneChallenge checks a code; every try counts against the attempt
// cap, and exceeding it invalidates the challenge outright.
func (s *Service) VerifyPhoneChallenge(ctx context.Context, phone, code string) error {
	challenge, err := s.store.Phone().Find(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidOrExpired
		}
		return err
	}
	if !challenge.ExpiresAt.After(s.now()) {
		return ErrInvalidOrExpired
	}
	attempts, err := s.store.Phone().IncrementAttempts(ctx, phone)
	if err != nil {
		return err
	}
	if attempts > phoneAttemptCap {
		return ErrTooManyAttempts
	}
	if challenge.Code != code {
		return ErrInvalidCode
	}
	return s.store.Phone().Delete(ctx, phone)
}

func randomDigits(n int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < n; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
