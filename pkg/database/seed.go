package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

// SeedTestData inserts a few scheduled emails spread over the next hour when the
// table is empty.
func SeedTestData(db *sqlx.DB) error {
	var count int

	if err := db.Get(&count, "SELECT COUNT(*) FROM messages"); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}

	if count > 0 {
		logger.Infof("Database already has %d messages, skipping seed", count)
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)

	testMessages := []struct {
		recipient string
		subject   string
		body      string
		in        time.Duration
	}{
		{"future.me@example.com", "A note from the past", "Hello future me! Did you keep your promises?", 2 * time.Minute},
		{"friend@example.com", "Happy birthday", "Wishing you a wonderful year ahead.", 5 * time.Minute},
		{"team@example.com", "Release retrospective", "Time to look back at how the release went.", 15 * time.Minute},
		{"mom@example.com", "Thinking of you", "Just a scheduled reminder that I love you.", 30 * time.Minute},
		{"future.me@example.com", "One hour later", "Check whether the poller delivered everything.", time.Hour},
	}

	for _, msg := range testMessages {
		_, err := db.Exec(
			`INSERT INTO messages (recipient_email, subject, body, scheduled_at, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 'pending', ?, ?)`,
			msg.recipient, msg.subject, msg.body, now.Add(msg.in), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed test data: %w", err)
		}
	}

	logger.Infof("Seeded %d scheduled emails", len(testMessages))
	return nil
}
