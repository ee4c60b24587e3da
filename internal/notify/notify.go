// Package notify abstracts outbound email/SMS delivery. Real delivery is an
// external collaborator concern; the default implementation only records the
// intent so flows remain observable in development.
package notify

import (
	"context"

	"skillflow.org/internal/obs"
)

// Notifier delivers account-related messages.
type Notifier interface {
	SendEmailVerification(ctx context.Context, email string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendPhoneCode(ctx context.Context, phone, code string) error
}

// LogNotifier writes notification intents to the structured log.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) SendEmailVerification(_ context.Context, email string) error {
	obs.Emit(map[string]any{"type": "notify", "channel": "email", "template": "verify_email", "to": email})
	return nil
}

func (LogNotifier) SendPasswordReset(_ context.Context, email, _ string) error {
	// The token itself is deliberately not logged.
	obs.Emit(map[string]any{"type": "notify", "channel": "email", "template": "password_reset", "to": email})
	return nil
}

func (LogNotifier) SendPhoneCode(_ context.Context, phone, _ string) error {
	obs.Emit(map[string]any{"type": "notify", "channel": "sms", "template": "phone_code", "to": phone})
	return nil
}
