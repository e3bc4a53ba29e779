// Package mailer delivers emails through a pluggable provider.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/onurcolak/scheduled-email-service/environments"
)

var ErrInvalidEmail = errors.New("invalid email")

// Email is a plain-text message with at most one attachment.
type Email struct {
	From       string
	To         string
	Subject    string
	Text       string
	Attachment *Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

func (e Email) validate() error {
	if e.To == "" {
		return fmt.Errorf("%w: recipient is empty", ErrInvalidEmail)
	}
	if e.From == "" {
		return fmt.Errorf("%w: sender is empty", ErrInvalidEmail)
	}
	return nil
}

// Sender is the interface for email providers. It returns the provider's id for the
// accepted message, if it has one.
type Sender interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// New builds the sender selected by cfg.Provider.
func New(cfg environments.MailConfig) (Sender, error) {
	switch cfg.Provider {
	case "smtp":
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPTimeout), nil
	case "resend":
		return NewResendSender(cfg.ResendAPIKey), nil
	case "log":
		return NewLogSender(), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
