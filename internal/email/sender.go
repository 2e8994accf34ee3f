// Package email provides outbound email delivery behind a single Sender
// interface, with SMTP and Brevo implementations selected by configuration.
package email

import (
	"context"
	"fmt"
	"strings"

	"leadflow_backend/platform/config"
)

// Sender delivers one fully rendered email and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, toEmail, subject, htmlContent string) (string, error)
}

// NoopSender is used when email is disabled; it accepts everything.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, toEmail, subject, htmlContent string) (string, error) {
	return "noop", nil
}

// NewSender creates a Sender based on the configured provider.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	switch strings.ToLower(cfg.GetEmailProvider()) {
	case "brevo":
		return NewBrevoSender(cfg), nil
	case "smtp":
		return NewSMTPSender(
			cfg.GetSMTPHost(),
			cfg.GetSMTPPort(),
			cfg.GetSMTPUsername(),
			cfg.GetSMTPPassword(),
			cfg.GetEmailFromAddress(),
			cfg.GetEmailFromName(),
		), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.GetEmailProvider())
	}
}
