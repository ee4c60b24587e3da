package auth

import "errors"

// Sentinel errors; their messages double as the wire error codes.
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrEmailExists        = errors.New("email_exists")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrMFARequired        = errors.New("mfa_required")
	ErrMFANotEnrolled     = errors.New("mfa_not_setup")
	ErrInvalidCode        = errors.New("invalid_code")
	ErrInvalidOrExpired   = errors.New("invalid_or_expired")
	ErrInvalidOrUsed      = errors.New("invalid_or_used")
	ErrInvalidExpiry      = errors.New("invalid_expiry")
	ErrTooManyAttempts    = errors.New("too_many_attempts")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidToken       = errors.New("invalid_token")
)
