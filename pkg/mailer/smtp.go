package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

// SMTPSender delivers through an authenticated SMTP server. Port 465 uses implicit
// TLS, any other port requires STARTTLS.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

func NewSMTPSender(host string, port int, username, password string, timeout time.Duration) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, email Email) (string, error) {
	msg, messageID, err := buildMessage(email)
	if err != nil {
		return "", err
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.username),
		mail.WithPassword(s.password),
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	if s.port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp: failed to create client: %w", err)
	}

	logger.Debugf("Dialing %s:%d to deliver to %s", s.host, s.port, email.To)

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp: failed to send email: %w", err)
	}

	return messageID, nil
}

// buildMessage renders email as a MIME message and assigns it a Message-ID.
func buildMessage(email Email) (*mail.Msg, string, error) {
	if err := email.validate(); err != nil {
		return nil, "", err
	}

	msg := mail.NewMsg()
	if err := msg.From(email.From); err != nil {
		return nil, "", fmt.Errorf("%w: sender %q: %v", ErrInvalidEmail, email.From, err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, "", fmt.Errorf("%w: recipient %q: %v", ErrInvalidEmail, email.To, err)
	}

	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Text)

	domain := "localhost"
	if at := strings.LastIndex(email.From, "@"); at >= 0 {
		domain = strings.TrimRight(email.From[at+1:], ">")
	}
	messageID := uuid.NewString() + "@" + domain
	msg.SetGenHeader(mail.HeaderMessageID, "<"+messageID+">")

	if a := email.Attachment; a != nil {
		var fileOpts []mail.FileOption
		if a.ContentType != "" {
			fileOpts = append(fileOpts, mail.WithFileContentType(mail.ContentType(a.ContentType)))
		}
		if err := msg.AttachReader(a.Filename, bytes.NewReader(a.Content), fileOpts...); err != nil {
			return nil, "", fmt.Errorf("smtp: failed to attach %s: %w", a.Filename, err)
		}
	}

	return msg, messageID, nil
}
