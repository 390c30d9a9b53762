// Package mail delivers rendered emails as proofs through a transactional
// email provider.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/sambeau/stitch/config"
)

// Common errors
var (
	ErrProviderNotConfigured = errors.New("email provider not configured")
	ErrInvalidProvider       = errors.New("invalid email provider")
	ErrSendFailed            = errors.New("failed to send email")
)

// Provider sends transactional emails
type Provider interface {
	Send(ctx context.Context, msg *Message) (messageID string, err error)
	Name() string
}

// Message is a provider-agnostic email message
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string // Plain text version
	HTML    string // HTML version (optional)
}

func (m *Message) validate() error {
	if m == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if len(m.To) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if m.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("text or HTML body is required")
	}
	return nil
}

// NewProvider returns the provider selected by the proof configuration.
func NewProvider(cfg config.ProofConfig) (Provider, error) {
	switch cfg.Provider {
	case "":
		return nil, ErrProviderNotConfigured
	case "mailgun":
		return NewMailgunProvider(cfg.Mailgun.APIKey.Value(), cfg.Mailgun.Domain, cfg.From, cfg.Mailgun.Region)
	case "resend":
		return NewResendProvider(cfg.Resend.APIKey.Value(), cfg.From)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, cfg.Provider)
	}
}
