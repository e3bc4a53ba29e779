package mailer

import (
	"context"

	"github.com/google/uuid"

	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

// LogSender logs emails instead of sending them. Useful for development.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, email Email) (string, error) {
	if err := email.validate(); err != nil {
		return "", err
	}

	attachment := "none"
	if email.Attachment != nil {
		attachment = email.Attachment.Filename
	}

	logger.Infof(`
================================================================================
EMAIL (dev mode - not actually sent)
================================================================================
From:       %s
To:         %s
Subject:    %s
Attachment: %s
--------------------------------------------------------------------------------
%s
================================================================================`,
		email.From, email.To, email.Subject, attachment, email.Text)

	return "log-" + uuid.NewString(), nil
}
