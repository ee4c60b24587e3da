package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/url"
	"time"
)

const (
	// DefaultStep is the RFC 6238 time step.
	DefaultStep = 30 * time.Second
	// DefaultWindow tolerates one step of clock drift in either direction.
	DefaultWindow = 1

	digits     = 6
	secretSize = 20
)

// TOTP computes the code for the step containing t.
func TOTP(secret []byte, t time.Time, step time.Duration) string {
	if step <= 0 {
		step = DefaultStep
	}
	counter := uint64(t.Unix() / int64(step/time.Second))
	return HOTP(secret, counter, digits)
}

// VerifyTOTP reports whether code matches the Base32-encoded secret at time t,
// accepting codes from up to window steps before or after the current one.
func VerifyTOTP(base32Secret, code string, t time.Time, step time.Duration, window int) bool {
	if len(code) != digits {
		return false
	}
	if step <= 0 {
		step = DefaultStep
	}
	if window < 0 {
		window = 0
	}
	secret := DecodeBase32(base32Secret)
	if len(secret) == 0 {
		return false
	}
	counter := t.Unix() / int64(step/time.Second)
	ok := false
	for w := -window; w <= window; w++ {
		c := counter + int64(w)
		if c < 0 {
			continue
		}
		expected := HOTP(secret, uint64(c), digits)
		// Constant-time compare across the whole window so timing does not
		// reveal which step matched.
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			ok = true
		}
	}
	return ok
}

// GenerateSecret returns a fresh 160-bit secret, Base32-encoded for
// authenticator-app provisioning.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return EncodeBase32(buf), nil
}

// ProvisioningURI renders the otpauth URI understood by authenticator apps.
func ProvisioningURI(issuer, account, base32Secret string) string {
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(account), base32Secret, url.QueryEscape(issuer))
}
