package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/scheduled-email-service/internal/domain"
	"github.com/onurcolak/scheduled-email-service/pkg/database"
)

func newTestRepo(t *testing.T) (*MessageRepository, *sqlx.DB) {
	t.Helper()

	db, err := database.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return NewMessageRepository(db), db
}

func createMessage(t *testing.T, repo *MessageRepository, recipient string, at time.Time) *domain.Message {
	t.Helper()

	msg, err := repo.Create(context.Background(), &domain.Message{
		RecipientEmail: recipient,
		Subject:        "Subject for " + recipient,
		Body:           "Body for " + recipient,
		ScheduledAt:    at,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return msg
}

func TestCreateAndGetByID(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	path := "uploads/abc_report.pdf"

	created, err := repo.Create(ctx, &domain.Message{
		RecipientEmail: "future@example.com",
		Subject:        "Hello",
		Body:           "From the past",
		ScheduledAt:    at,
		AttachmentPath: &path,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if created.ID == 0 {
		t.Fatalf("expected generated id")
	}
	if created.Status != domain.StatusPending {
		t.Errorf("expected status pending, got %q", created.Status)
	}
	if !created.ScheduledAt.Equal(at) {
		t.Errorf("expected ScheduledAt=%v, got %v", at, created.ScheduledAt)
	}
	if created.AttachmentPath == nil || *created.AttachmentPath != path {
		t.Errorf("expected attachment path %q, got %v", path, created.AttachmentPath)
	}

	missing, err := repo.GetByID(ctx, created.ID+100)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing id, got %#v", missing)
	}
}

func TestGetDue_OnlyPendingAndDueInScheduleOrder(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	later := createMessage(t, repo, "later@example.com", now.Add(-time.Minute))
	earlier := createMessage(t, repo, "earlier@example.com", now.Add(-time.Hour))
	createMessage(t, repo, "future@example.com", now.Add(time.Hour))
	sent := createMessage(t, repo, "sent@example.com", now.Add(-2*time.Hour))

	if err := repo.MarkAsSent(ctx, sent.ID, "provider-1", now); err != nil {
		t.Fatalf("MarkAsSent returned error: %v", err)
	}

	due, err := repo.GetDue(ctx, now, nil, 10)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}

	if len(due) != 2 {
		t.Fatalf("expected 2 due messages, got %d", len(due))
	}
	if due[0].ID != earlier.ID || due[1].ID != later.ID {
		t.Fatalf("expected order [%d %d], got [%d %d]", earlier.ID, later.ID, due[0].ID, due[1].ID)
	}

	limited, err := repo.GetDue(ctx, now, nil, 1)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != earlier.ID {
		t.Fatalf("expected only the earliest message with limit 1, got %#v", limited)
	}
}

func TestGetDue_PagesPastCursor(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	at := now.Add(-time.Hour)

	first := createMessage(t, repo, "first@example.com", at)
	second := createMessage(t, repo, "second@example.com", at)
	third := createMessage(t, repo, "third@example.com", now.Add(-time.Minute))

	// Failures leave rows pending; paging must still move past them.
	if err := repo.RecordFailure(ctx, first.ID, "550 mailbox unavailable"); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}

	page, err := repo.GetDue(ctx, now, nil, 1)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}
	if len(page) != 1 || page[0].ID != first.ID {
		t.Fatalf("expected first page [%d], got %#v", first.ID, page)
	}

	page, err = repo.GetDue(ctx, now, page[0].Cursor(), 1)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}
	if len(page) != 1 || page[0].ID != second.ID {
		t.Fatalf("expected same-time tie broken by id [%d], got %#v", second.ID, page)
	}

	page, err = repo.GetDue(ctx, now, page[0].Cursor(), 10)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}
	if len(page) != 1 || page[0].ID != third.ID {
		t.Fatalf("expected last page [%d], got %#v", third.ID, page)
	}

	page, err = repo.GetDue(ctx, now, page[0].Cursor(), 10)
	if err != nil {
		t.Fatalf("GetDue returned error: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected no rows past the last cursor, got %#v", page)
	}
}

func TestMarkAsSent_IsOneWay(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	msg := createMessage(t, repo, "once@example.com", now.Add(-time.Minute))

	if err := repo.MarkAsSent(ctx, msg.ID, "provider-42", now); err != nil {
		t.Fatalf("MarkAsSent returned error: %v", err)
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Status != domain.StatusSent {
		t.Fatalf("expected status sent, got %q", got.Status)
	}
	if got.ProviderMessageID == nil || *got.ProviderMessageID != "provider-42" {
		t.Errorf("expected provider id provider-42, got %v", got.ProviderMessageID)
	}
	if got.SentAt == nil || !got.SentAt.Equal(now) {
		t.Errorf("expected SentAt=%v, got %v", now, got.SentAt)
	}

	err = repo.MarkAsSent(ctx, msg.ID, "provider-43", now.Add(time.Minute))
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second MarkAsSent, got %v", err)
	}

	if err := repo.RecordFailure(ctx, msg.ID, "late failure"); err != nil {
		t.Fatalf("RecordFailure returned error: %v", err)
	}

	got, _ = repo.GetByID(ctx, msg.ID)
	if got.Attempts != 0 || got.LastError != nil {
		t.Fatalf("expected sent message to be untouched by RecordFailure, got attempts=%d lastError=%v", got.Attempts, got.LastError)
	}
}

func TestRecordFailure_KeepsPending(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	msg := createMessage(t, repo, "retry@example.com", time.Now().Add(-time.Minute))

	for i := 0; i < 2; i++ {
		if err := repo.RecordFailure(ctx, msg.ID, "smtp: connection refused"); err != nil {
			t.Fatalf("RecordFailure returned error: %v", err)
		}
	}

	got, err := repo.GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("expected status pending, got %q", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", got.Attempts)
	}
	if got.LastError == nil || *got.LastError != "smtp: connection refused" {
		t.Errorf("unexpected last error %v", got.LastError)
	}
}

func TestUpdateAndDeletePending(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	msg := createMessage(t, repo, "edit@example.com", now.Add(time.Hour))

	msg.Subject = "Edited subject"
	msg.ScheduledAt = now.Add(2 * time.Hour)
	updated, err := repo.UpdatePending(ctx, msg)
	if err != nil {
		t.Fatalf("UpdatePending returned error: %v", err)
	}
	if updated.Subject != "Edited subject" {
		t.Errorf("expected edited subject, got %q", updated.Subject)
	}
	if !updated.ScheduledAt.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("expected rescheduled time, got %v", updated.ScheduledAt)
	}

	if err := repo.MarkAsSent(ctx, msg.ID, "", now); err != nil {
		t.Fatalf("MarkAsSent returned error: %v", err)
	}

	msg.Subject = "Too late"
	if _, err := repo.UpdatePending(ctx, msg); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending when editing a sent message, got %v", err)
	}
	if err := repo.DeletePending(ctx, msg.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending when deleting a sent message, got %v", err)
	}

	other := createMessage(t, repo, "cancel@example.com", now.Add(time.Hour))
	if err := repo.DeletePending(ctx, other.ID); err != nil {
		t.Fatalf("DeletePending returned error: %v", err)
	}
	gone, _ := repo.GetByID(ctx, other.ID)
	if gone != nil {
		t.Fatalf("expected cancelled message to be deleted")
	}
}

func TestGetAllAndStats(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	first := createMessage(t, repo, "a@example.com", now.Add(-time.Hour))
	createMessage(t, repo, "b@example.com", now.Add(-time.Minute))
	createMessage(t, repo, "c@example.com", now.Add(time.Hour))

	if err := repo.MarkAsSent(ctx, first.ID, "p-1", now); err != nil {
		t.Fatalf("MarkAsSent returned error: %v", err)
	}

	all, total, err := repo.GetAll(ctx, nil, 1, 2)
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(all) != 2 {
		t.Fatalf("expected page of 2, got %d", len(all))
	}
	if all[0].RecipientEmail != "c@example.com" {
		t.Errorf("expected newest schedule first, got %q", all[0].RecipientEmail)
	}

	pending := domain.StatusPending
	_, pendingTotal, err := repo.GetAll(ctx, &pending, 1, 10)
	if err != nil {
		t.Fatalf("GetAll(pending) returned error: %v", err)
	}
	if pendingTotal != 2 {
		t.Errorf("expected 2 pending, got %d", pendingTotal)
	}

	sent, sentTotal, err := repo.GetSent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("GetSent returned error: %v", err)
	}
	if sentTotal != 1 || len(sent) != 1 || sent[0].ID != first.ID {
		t.Errorf("unexpected sent listing: total=%d items=%#v", sentTotal, sent)
	}

	stats, err := repo.GetStats(ctx, now)
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if stats.Pending != 2 || stats.Sent != 1 || stats.Due != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
