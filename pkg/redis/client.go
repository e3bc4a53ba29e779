package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/scheduled-email-service/environments"
	"github.com/onurcolak/scheduled-email-service/internal/domain"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

const (
	sentMessageKeyPrefix = "sent_email:"
	defaultSentTTL       = 24 * time.Hour
)

// Client mirrors recently delivered emails into Valkey/Redis.
type Client struct {
	client valkey.Client
	ttl    time.Duration
}

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	return newClient(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port), cfg)
}

func newClient(addr string, cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: cfg.DisableCache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSentTTL
	}

	logger.Infof("Connected to Redis at %s (via Valkey client)", addr)

	return &Client{client: client, ttl: ttl}, nil
}

func sentKey(dbID int64) string {
	return sentMessageKeyPrefix + strconv.FormatInt(dbID, 10)
}

func (c *Client) CacheSentMessage(ctx context.Context, dbID int64, entry domain.SentMessageCache) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	cmd := c.client.B().Set().Key(sentKey(dbID)).Value(string(data)).Ex(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to cache sent message: %w", err)
	}

	logger.Debugf("Cached delivery of message %d (provider id %q)", dbID, entry.ProviderMessageID)

	return nil
}

func (c *Client) GetCachedMessage(ctx context.Context, dbID int64) (*domain.SentMessageCache, error) {
	data, err := c.client.Do(ctx, c.client.B().Get().Key(sentKey(dbID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached message: %w", err)
	}

	var entry domain.SentMessageCache
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}

	return &entry, nil
}

func (c *Client) GetAllCachedMessages(ctx context.Context) (map[int64]*domain.SentMessageCache, error) {
	pattern := sentMessageKeyPrefix + "*"

	var keys []string
	var cursor uint64
	for {
		entry, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache keys: %w", err)
		}

		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor

		if cursor == 0 {
			break
		}
	}

	result := make(map[int64]*domain.SentMessageCache, len(keys))

	for _, key := range keys {
		dbID, err := strconv.ParseInt(strings.TrimPrefix(key, sentMessageKeyPrefix), 10, 64)
		if err != nil {
			logger.Warnf("Skipping unexpected cache key %q: %v", key, err)
			continue
		}

		entry, err := c.GetCachedMessage(ctx, dbID)
		if err != nil {
			logger.Warnf("Skipping cache key %q: %v", key, err)
			continue
		}
		if entry == nil {
			// expired between SCAN and GET
			continue
		}

		result[dbID] = entry
	}

	return result, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
