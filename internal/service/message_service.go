package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/onurcolak/scheduled-email-service/internal/domain"
	"github.com/onurcolak/scheduled-email-service/internal/repository"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
	"github.com/onurcolak/scheduled-email-service/pkg/mailer"
	"github.com/onurcolak/scheduled-email-service/pkg/storage"
)

const (
	MaxSubjectLength = 60
	MaxBodyLength    = 5000

	defaultFrom = "scheduled-email-service@localhost"
)

var (
	ErrNotFound   = errors.New("message not found")
	ErrNotPending = errors.New("message has already been sent")
)

// ValidationError is a business-rule failure on user input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Small internal interfaces so we can test without touching real DB/Redis/SMTP.
type messageRepository interface {
	GetDue(ctx context.Context, now time.Time, after *domain.DueCursor, limit int) ([]domain.Message, error)
	MarkAsSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error
	RecordFailure(ctx context.Context, id int64, reason string) error

	Create(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	UpdatePending(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	DeletePending(ctx context.Context, id int64) error
	GetSent(ctx context.Context, page, pageSize int) ([]domain.Message, int64, error)
	GetAll(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.Message, int64, error)
	GetStats(ctx context.Context, now time.Time) (*domain.MessageStats, error)
}

type deliveryCache interface {
	CacheSentMessage(ctx context.Context, dbID int64, entry domain.SentMessageCache) error
	GetAllCachedMessages(ctx context.Context) (map[int64]*domain.SentMessageCache, error)
}

type Config struct {
	From               string
	BatchSize          int
	MaxAttachmentBytes int64
}

// Upload is an attachment received from a client.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

type CreateMessageInput struct {
	RecipientEmail string
	Subject        string
	Body           string
	ScheduledAt    time.Time
	Attachment     *Upload
}

// UpdateMessageInput carries the fields to change. Nil fields are left as they are.
type UpdateMessageInput struct {
	RecipientEmail   *string
	Subject          *string
	Body             *string
	ScheduledAt      *time.Time
	Attachment       *Upload
	RemoveAttachment bool
}

type MessageService struct {
	repo   messageRepository
	sender mailer.Sender
	store  storage.Storage
	cache  deliveryCache
	config Config
	now    func() time.Time
}

func NewMessageService(
	repo messageRepository,
	sender mailer.Sender,
	store storage.Storage,
	config Config,
) *MessageService {
	if config.From == "" {
		config.From = defaultFrom
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}

	return &MessageService{
		repo:   repo,
		sender: sender,
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// UseCache mirrors successful deliveries into cache.
func (s *MessageService) UseCache(cache deliveryCache) {
	s.cache = cache
}

// ProcessDueMessages delivers every pending message whose time has come, oldest
// first, fetching them in pages of BatchSize. A failed delivery leaves the message
// pending for the next cycle.
func (s *MessageService) ProcessDueMessages(ctx context.Context) ([]domain.SendResult, error) {
	now := s.now()

	var (
		results []domain.SendResult
		cursor  *domain.DueCursor
	)

	for {
		messages, err := s.repo.GetDue(ctx, now, cursor, s.config.BatchSize)
		if err != nil {
			return results, fmt.Errorf("failed to get due messages: %w", err)
		}

		if len(messages) == 0 {
			break
		}

		logger.Infof("Processing %d due emails", len(messages))

		for i := range messages {
			if err := ctx.Err(); err != nil {
				return results, err
			}

			results = append(results, s.deliverMessage(ctx, &messages[i]))
		}

		if len(messages) < s.config.BatchSize {
			break
		}
		cursor = messages[len(messages)-1].Cursor()
	}

	if len(results) == 0 {
		logger.Debugf("No pending emails due")
	}

	return results, nil
}

func (s *MessageService) deliverMessage(ctx context.Context, msg *domain.Message) domain.SendResult {
	result := domain.SendResult{MessageDBID: msg.ID}

	logger.Infof("Sending message %d to %s (scheduled %s)", msg.ID, msg.RecipientEmail, msg.ScheduledAt.Format(time.RFC3339))

	email := mailer.Email{
		From:    s.config.From,
		To:      msg.RecipientEmail,
		Subject: msg.Subject,
		Text:    msg.Body,
	}

	attachment, err := s.loadAttachment(ctx, msg)
	if err != nil {
		return s.fail(ctx, msg, result, err)
	}
	email.Attachment = attachment

	providerID, err := s.sender.Send(ctx, email)
	if err != nil {
		return s.fail(ctx, msg, result, err)
	}

	result.SentAt = s.now()

	if err := s.repo.MarkAsSent(ctx, msg.ID, providerID, result.SentAt); err != nil {
		// The email went out but the row could not be updated; it may be sent again.
		logger.Errorf("Failed to mark message %d as sent: %v", msg.ID, err)
		result.Error = err
		return result
	}

	if s.cache != nil {
		entry := domain.SentMessageCache{
			ProviderMessageID: providerID,
			RecipientEmail:    msg.RecipientEmail,
			SentAt:            result.SentAt,
		}
		if err := s.cache.CacheSentMessage(ctx, msg.ID, entry); err != nil {
			logger.Warnf("Failed to cache message %d: %v", msg.ID, err)
		}
	}

	logger.Infof("Message %d sent to %s (provider id: %q)", msg.ID, msg.RecipientEmail, providerID)

	result.Success = true
	result.ProviderMessageID = providerID

	return result
}

func (s *MessageService) fail(ctx context.Context, msg *domain.Message, result domain.SendResult, err error) domain.SendResult {
	logger.Errorf("Failed to send message %d: %v", msg.ID, err)

	result.Error = err

	if recErr := s.repo.RecordFailure(ctx, msg.ID, err.Error()); recErr != nil {
		logger.Errorf("Failed to record failure for message %d: %v", msg.ID, recErr)
	}

	return result
}

// loadAttachment reads the stored attachment of msg. A missing file is not an
// error: the email goes out without it.
func (s *MessageService) loadAttachment(ctx context.Context, msg *domain.Message) (*mailer.Attachment, error) {
	if !msg.HasAttachment() {
		return nil, nil
	}

	path := *msg.AttachmentPath

	rc, err := s.store.Open(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warnf("Attachment %s of message %d is missing, sending without it", path, msg.ID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	name := storage.DisplayName(path)
	logger.Debugf("Attaching %s (%d bytes) to message %d", name, len(content), msg.ID)

	return &mailer.Attachment{
		Filename:    name,
		ContentType: storage.ContentType(name),
		Content:     content,
	}, nil
}

func (s *MessageService) CreateMessage(ctx context.Context, input CreateMessageInput) (*domain.Message, error) {
	if err := s.validateContent(input.Subject, input.Body); err != nil {
		return nil, err
	}
	if err := s.validateSchedule(input.ScheduledAt); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		RecipientEmail: input.RecipientEmail,
		Subject:        input.Subject,
		Body:           input.Body,
		ScheduledAt:    input.ScheduledAt,
		Status:         domain.StatusPending,
	}

	if input.Attachment != nil {
		path, err := s.saveAttachment(ctx, input.Attachment)
		if err != nil {
			return nil, err
		}
		msg.AttachmentPath = &path
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		if msg.AttachmentPath != nil {
			s.deleteAttachment(ctx, *msg.AttachmentPath)
		}
		return nil, err
	}

	logger.Infof("Scheduled message %d to %s at %s", created.ID, created.RecipientEmail, created.ScheduledAt.Format(time.RFC3339))

	return created, nil
}

// UpdateMessage edits a pending message. A replaced or removed attachment is
// deleted from storage once the row is updated.
func (s *MessageService) UpdateMessage(ctx context.Context, id int64, input UpdateMessageInput) (*domain.Message, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !msg.IsPending() {
		return nil, ErrNotPending
	}

	if input.RecipientEmail != nil {
		msg.RecipientEmail = *input.RecipientEmail
	}
	if input.Subject != nil {
		msg.Subject = *input.Subject
	}
	if input.Body != nil {
		msg.Body = *input.Body
	}
	if input.ScheduledAt != nil {
		if err := s.validateSchedule(*input.ScheduledAt); err != nil {
			return nil, err
		}
		msg.ScheduledAt = *input.ScheduledAt
	}
	if err := s.validateContent(msg.Subject, msg.Body); err != nil {
		return nil, err
	}

	oldPath := msg.AttachmentPath
	var newPath *string

	switch {
	case input.Attachment != nil:
		path, err := s.saveAttachment(ctx, input.Attachment)
		if err != nil {
			return nil, err
		}
		newPath = &path
		msg.AttachmentPath = newPath
	case input.RemoveAttachment:
		msg.AttachmentPath = nil
	}

	updated, err := s.repo.UpdatePending(ctx, msg)
	if err != nil {
		if newPath != nil {
			s.deleteAttachment(ctx, *newPath)
		}
		if errors.Is(err, repository.ErrNotPending) {
			return nil, ErrNotPending
		}
		return nil, err
	}

	if oldPath != nil && (newPath != nil || input.RemoveAttachment) {
		s.deleteAttachment(ctx, *oldPath)
	}

	logger.Infof("Updated message %d", id)

	return updated, nil
}

// CancelMessage deletes a pending message and its attachment.
func (s *MessageService) CancelMessage(ctx context.Context, id int64) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if !msg.IsPending() {
		return ErrNotPending
	}

	if err := s.repo.DeletePending(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return ErrNotPending
		}
		return err
	}

	if msg.HasAttachment() {
		s.deleteAttachment(ctx, *msg.AttachmentPath)
	}

	logger.Infof("Cancelled message %d", id)

	return nil
}

func (s *MessageService) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	return msg, nil
}

// OpenAttachment returns the attachment of a message and its original file name.
func (s *MessageService) OpenAttachment(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !msg.HasAttachment() {
		return nil, "", storage.ErrNotFound
	}

	rc, err := s.store.Open(ctx, *msg.AttachmentPath)
	if err != nil {
		return nil, "", err
	}

	return rc, storage.DisplayName(*msg.AttachmentPath), nil
}

func (s *MessageService) GetSentMessages(ctx context.Context, page, pageSize int) ([]domain.Message, int64, error) {
	return s.repo.GetSent(ctx, page, pageSize)
}

func (s *MessageService) GetAllMessages(
	ctx context.Context,
	status *domain.MessageStatus,
	page,
	pageSize int,
) ([]domain.Message, int64, error) {
	return s.repo.GetAll(ctx, status, page, pageSize)
}

func (s *MessageService) GetStats(ctx context.Context) (*domain.MessageStats, error) {
	return s.repo.GetStats(ctx, s.now())
}

func (s *MessageService) GetCachedMessages(ctx context.Context) (map[int64]*domain.SentMessageCache, error) {
	if s.cache == nil {
		return nil, fmt.Errorf("redis client not configured")
	}
	return s.cache.GetAllCachedMessages(ctx)
}

func (s *MessageService) validateContent(subject, body string) error {
	if strings.TrimSpace(subject) == "" {
		return &ValidationError{Field: "subject", Message: "is required"}
	}
	if len([]rune(subject)) > MaxSubjectLength {
		return &ValidationError{Field: "subject", Message: fmt.Sprintf("must be at most %d characters", MaxSubjectLength)}
	}
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "body", Message: "is required"}
	}
	if len([]rune(body)) > MaxBodyLength {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("must be at most %d characters", MaxBodyLength)}
	}
	return nil
}

func (s *MessageService) validateSchedule(at time.Time) error {
	if !at.After(s.now()) {
		return &ValidationError{Field: "scheduledAt", Message: "must be in the future"}
	}
	return nil
}

func (s *MessageService) saveAttachment(ctx context.Context, upload *Upload) (string, error) {
	if err := storage.CheckExtension(upload.Filename); err != nil {
		return "", &ValidationError{Field: "attachment", Message: err.Error()}
	}
	if limit := s.config.MaxAttachmentBytes; limit > 0 && upload.Size > limit {
		return "", &ValidationError{Field: "attachment", Message: fmt.Sprintf("must be at most %d bytes", limit)}
	}

	path, err := s.store.Save(ctx, upload.Filename, upload.Content, upload.Size)
	if err != nil {
		return "", fmt.Errorf("failed to store attachment: %w", err)
	}

	logger.Debugf("Stored attachment %s", path)

	return path, nil
}

func (s *MessageService) deleteAttachment(ctx context.Context, path string) {
	if err := s.store.Delete(ctx, path); err != nil {
		logger.Warnf("Failed to delete attachment %s: %v", path, err)
	}
}
