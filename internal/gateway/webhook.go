package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/deadlines/internal/db"
)

// WebhookSender posts messages as JSON to the destination URL
type WebhookSender struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type WebhookConfig struct {
	Timeout time.Duration // per request
	// RatePerSecond paces outgoing calls across all destinations; zero disables pacing.
	RatePerSecond float64
	Burst         int
}

// WebhookPayload is the JSON body posted to a webhook destination
type WebhookPayload struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	TenantID string `json:"tenant_id"`
	Mention  string `json:"mention,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Text     string `json:"text"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &WebhookSender{
		client:  newHTTPClient(cfg.Timeout),
		limiter: limiter,
		logger:  logger,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Send posts the message to msg.Destination.Address
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.Address == "" {
		return fmt.Errorf("webhook destination missing url")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate wait: %w", err)
	}

	body, err := json.Marshal(WebhookPayload{
		ID:       msg.ID,
		Kind:     msg.Kind,
		TenantID: msg.TenantID,
		Mention:  msg.Destination.Mention,
		Subject:  msg.Subject,
		Body:     msg.Body,
		Text:     msg.Text(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.Destination.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Deadlines/1.0")
	req.Header.Set("X-Deadlines-Message-ID", msg.ID)
	req.Header.Set("X-Deadlines-Tenant-ID", msg.TenantID)
	req.Header.Set("X-Deadlines-Kind", msg.Kind)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	s.logger.Info("webhook delivered",
		zap.String("id", msg.ID),
		zap.String("url", msg.Destination.Address),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *WebhookSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelWebhook
}
