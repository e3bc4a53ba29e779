package domain

import "time"

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
)

func (s MessageStatus) Valid() bool {
	return s == StatusPending || s == StatusSent
}

// Message is a scheduled email. Status only ever moves from pending to sent.
type Message struct {
	ID                int64         `db:"id" json:"id"`
	RecipientEmail    string        `db:"recipient_email" json:"recipientEmail"`
	Subject           string        `db:"subject" json:"subject"`
	Body              string        `db:"body" json:"body"`
	ScheduledAt       time.Time     `db:"scheduled_at" json:"scheduledAt"`
	Status            MessageStatus `db:"status" json:"status"`
	AttachmentPath    *string       `db:"attachment_path" json:"attachmentPath,omitempty"`
	ProviderMessageID *string       `db:"provider_message_id" json:"providerMessageId,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sentAt,omitempty"`
	Attempts          int           `db:"attempts" json:"attempts"`
	LastError         *string       `db:"last_error" json:"lastError,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

func (m *Message) IsPending() bool {
	return m.Status == StatusPending
}

// IsDue reports whether a pending message should be delivered at now.
func (m *Message) IsDue(now time.Time) bool {
	return m.IsPending() && !m.ScheduledAt.After(now)
}

// Cursor returns the paging position just past m in due order.
func (m *Message) Cursor() *DueCursor {
	return &DueCursor{ScheduledAt: m.ScheduledAt, ID: m.ID}
}

// DueCursor is a keyset position over due messages ordered by (scheduled_at, id).
type DueCursor struct {
	ScheduledAt time.Time
	ID          int64
}

// Precedes reports whether m comes after the cursor in due order.
func (c *DueCursor) Precedes(m *Message) bool {
	if c == nil {
		return true
	}
	if !m.ScheduledAt.Equal(c.ScheduledAt) {
		return m.ScheduledAt.After(c.ScheduledAt)
	}
	return m.ID > c.ID
}

func (m *Message) HasAttachment() bool {
	return m.AttachmentPath != nil && *m.AttachmentPath != ""
}

type MessageStats struct {
	Pending int64 `db:"pending" json:"pending"`
	Sent    int64 `db:"sent" json:"sent"`
	Due     int64 `db:"due" json:"due"`
}

type SentMessageCache struct {
	ProviderMessageID string    `json:"providerMessageId"`
	RecipientEmail    string    `json:"recipientEmail"`
	SentAt            time.Time `json:"sentAt"`
}

type SendResult struct {
	MessageDBID       int64
	ProviderMessageID string
	Success           bool
	Error             error
	SentAt            time.Time
}
