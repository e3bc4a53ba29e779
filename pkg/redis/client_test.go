package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/onurcolak/scheduled-email-service/environments"
	"github.com/onurcolak/scheduled-email-service/internal/domain"
)

func newTestClient(t *testing.T, ttl time.Duration) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis does not implement client-side caching.
	c, err := newClient(mr.Addr(), environments.RedisConfig{TTL: ttl, DisableCache: true})
	if err != nil {
		t.Fatalf("newClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestCacheSentMessage_StoresWithTTL(t *testing.T) {
	c, mr := newTestClient(t, 10*time.Minute)
	ctx := context.Background()

	sentAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	entry := domain.SentMessageCache{
		ProviderMessageID: "smtp-abc",
		RecipientEmail:    "future@example.com",
		SentAt:            sentAt,
	}

	if err := c.CacheSentMessage(ctx, 42, entry); err != nil {
		t.Fatalf("CacheSentMessage returned error: %v", err)
	}

	if !mr.Exists("sent_email:42") {
		t.Fatalf("expected key sent_email:42 to exist")
	}
	if ttl := mr.TTL("sent_email:42"); ttl != 10*time.Minute {
		t.Fatalf("expected TTL 10m, got %v", ttl)
	}

	raw, err := mr.Get("sent_email:42")
	if err != nil {
		t.Fatalf("failed to read key: %v", err)
	}
	var got domain.SentMessageCache
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if got.ProviderMessageID != "smtp-abc" || !got.SentAt.Equal(sentAt) {
		t.Fatalf("unexpected cached value %+v", got)
	}
}

func TestGetCachedMessage_MissingReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, time.Minute)

	got, err := c.GetCachedMessage(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetCachedMessage returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing key, got %+v", got)
	}
}

func TestGetAllCachedMessages(t *testing.T) {
	c, mr := newTestClient(t, time.Minute)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := c.CacheSentMessage(ctx, id, domain.SentMessageCache{ProviderMessageID: "p"}); err != nil {
			t.Fatalf("CacheSentMessage returned error: %v", err)
		}
	}

	// Keys outside the prefix or with a bad id are ignored.
	_ = mr.Set("other:1", "x")
	_ = mr.Set("sent_email:not-a-number", "{}")

	all, err := c.GetAllCachedMessages(ctx)
	if err != nil {
		t.Fatalf("GetAllCachedMessages returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 cached entries, got %d", len(all))
	}
	for _, id := range []int64{1, 2, 3} {
		if _, ok := all[id]; !ok {
			t.Errorf("expected entry for id %d", id)
		}
	}
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, time.Minute)

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}
