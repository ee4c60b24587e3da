// Package vault encrypts MFA secrets at rest with AES-256-GCM. The stored
// form is base64(nonce[12] || tag[16] || ciphertext), matching the wire
// format consumed by collaborating services.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// KeyEnvVariable holds the base64-encoded 32-byte dedicated key.
	KeyEnvVariable = "SKILLFLOW_MFA_ENC_KEY"

	fallbackSecretEnvVariable = "SKILLFLOW_AUTH_SECRET"

	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// ErrDecryptFailed indicates the ciphertext failed authentication. It is a
// hard failure and must never be downgraded to a softer error.
var ErrDecryptFailed = errors.New("decrypt_failed")

// ErrMissingKey indicates no usable encryption key is configured.
var ErrMissingKey = errors.New("vault: encryption key is not configured")

// Vault performs authenticated encryption with a fixed 256-bit key.
type Vault struct {
	aead cipher.AEAD
}

// New constructs a vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// FromEnv sources the key from SKILLFLOW_MFA_ENC_KEY. When that is absent a
// key derived from the long-lived auth secret is used instead; the derived
// path is a development convenience and refuses to activate in production.
func FromEnv(environment string) (*Vault, error) {
	if raw := strings.TrimSpace(os.Getenv(KeyEnvVariable)); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("vault: decode %s: %w", KeyEnvVariable, err)
		}
		return New(key)
	}
	if strings.EqualFold(strings.TrimSpace(environment), "production") {
		return nil, fmt.Errorf("%w: set %s in production", ErrMissingKey, KeyEnvVariable)
	}
	seed := strings.TrimSpace(os.Getenv(fallbackSecretEnvVariable))
	if seed == "" {
		return nil, ErrMissingKey
	}
	derived := sha256.Sum256([]byte(seed))
	return New(derived[:])
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	// Seal emits ciphertext||tag; the stored layout is nonce||tag||ciphertext.
	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - tagSize
	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed[tagStart:]...)
	out = append(out, sealed[:tagStart]...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a stored blob, verifying the authentication tag first.
func (v *Vault) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	if len(raw) < nonceSize+tagSize {
		return nil, ErrDecryptFailed
	}
	nonce := raw[:nonceSize]
	tag := raw[nonceSize : nonceSize+tagSize]
	ciphertext := raw[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
