package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/scheduled-email-service/internal/domain"
)

// ErrNotPending is returned when a write that requires a pending row finds the row
// already sent or missing.
var ErrNotPending = errors.New("message is not pending")

const messageColumns = `id, recipient_email, subject, body, scheduled_at, status, attachment_path,
	provider_message_id, sent_at, attempts, last_error, created_at, updated_at`

// MessageRepository handles database operations for scheduled emails.
// Queries use ? placeholders, which both MySQL and SQLite accept.
type MessageRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

func (r *MessageRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// GetDue returns pending messages whose scheduled time is at or before now, in
// (scheduled_at, id) order. A non-nil after resumes past that position so a cycle can
// page through every due row even when earlier rows keep failing.
func (r *MessageRepository) GetDue(ctx context.Context, now time.Time, after *domain.DueCursor, limit int) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE status = 'pending' AND scheduled_at <= ?`
	args := []any{normalize(now)}

	if after != nil {
		at := normalize(after.ScheduledAt)
		query += ` AND (scheduled_at > ? OR (scheduled_at = ? AND id > ?))`
		args = append(args, at, at, after.ID)
	}

	query += `
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`
	args = append(args, limit)

	var messages []domain.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get due messages: %w", err)
	}

	return messages, nil
}

// MarkAsSent moves a pending message to sent. Sent rows are never touched again.
func (r *MessageRepository) MarkAsSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE messages
		SET status = 'sent', provider_message_id = ?, sent_at = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	var providerID *string
	if providerMessageID != "" {
		providerID = &providerMessageID
	}

	result, err := r.db.ExecContext(ctx, query, providerID, normalize(sentAt), r.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to mark message as sent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no pending message found with id %d: %w", id, ErrNotPending)
	}

	return nil
}

// RecordFailure notes a failed delivery attempt. The message stays pending.
func (r *MessageRepository) RecordFailure(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE messages
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	if _, err := r.db.ExecContext(ctx, query, reason, r.timestamp(), id); err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}

	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	query := `
		INSERT INTO messages (recipient_email, subject, body, scheduled_at, status, attachment_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
	`

	now := r.timestamp()
	result, err := r.db.ExecContext(ctx, query,
		msg.RecipientEmail, msg.Subject, msg.Body, normalize(msg.ScheduledAt), msg.AttachmentPath, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return r.GetByID(ctx, id)
}

// UpdatePending rewrites the editable fields of a pending message.
func (r *MessageRepository) UpdatePending(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	query := `
		UPDATE messages
		SET recipient_email = ?, subject = ?, body = ?, scheduled_at = ?, attachment_path = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query,
		msg.RecipientEmail, msg.Subject, msg.Body, normalize(msg.ScheduledAt), msg.AttachmentPath, r.timestamp(), msg.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return nil, ErrNotPending
	}

	return r.GetByID(ctx, msg.ID)
}

func (r *MessageRepository) DeletePending(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM messages WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return ErrNotPending
	}

	return nil
}

func (r *MessageRepository) GetSent(ctx context.Context, page, pageSize int) ([]domain.Message, int64, error) {
	status := domain.StatusSent
	return r.GetAll(ctx, &status, page, pageSize)
}

func (r *MessageRepository) GetAll(
	ctx context.Context,
	status *domain.MessageStatus,
	page, pageSize int,
) ([]domain.Message, int64, error) {
	offset := (page - 1) * pageSize

	where := ""
	var args []any
	if status != nil {
		where = "WHERE status = ?"
		args = append(args, *status)
	}

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM messages " + where
	if err := r.db.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		` + where + `
		ORDER BY scheduled_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	messages := []domain.Message{}
	if err := r.db.SelectContext(ctx, &messages, query, append(args, pageSize, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}

	return messages, totalCount, nil
}

// GetStats returns pending and sent counts, plus how many pending messages are due at now.
func (r *MessageRepository) GetStats(ctx context.Context, now time.Time) (*domain.MessageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0)    AS sent,
			COALESCE(SUM(CASE WHEN status = 'pending' AND scheduled_at <= ? THEN 1 ELSE 0 END), 0) AS due
		FROM messages
	`

	var stats domain.MessageStats
	if err := r.db.GetContext(ctx, &stats, query, normalize(now)); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &stats, nil
}
