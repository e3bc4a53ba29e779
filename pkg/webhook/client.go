package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/scheduled-email-service/environments"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
)

// Alert is the JSON body posted to the alert webhook.
type Alert struct {
	Alert               string `json:"alert"`
	RunNumber           int64  `json:"runNumber"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	MessagesInBatch     int    `json:"messagesInBatch"`
	Timestamp           string `json:"timestamp"`
	Message             string `json:"message"`
}

// Client posts operational alerts to a webhook such as a Slack or Discord
// incoming hook.
type Client struct {
	httpClient *resty.Client
	webhookURL string
}

func NewAlertClient(cfg environments.AlertConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		webhookURL: cfg.WebhookURL,
	}
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

func (c *Client) SendAlert(ctx context.Context, alert Alert) error {
	if !c.Enabled() {
		return fmt.Errorf("alert webhook URL is not configured")
	}

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(alert).
		Post(c.webhookURL)

	duration := time.Since(startTime)

	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	logger.Infof("Alert webhook request to %s completed in %v (status: %d)", c.webhookURL, duration, resp.StatusCode())

	if resp.IsError() {
		return fmt.Errorf("alert webhook returned status %d, body: %s", resp.StatusCode(), resp.String())
	}

	return nil
}

func (c *Client) GetURL() string {
	return c.webhookURL
}
