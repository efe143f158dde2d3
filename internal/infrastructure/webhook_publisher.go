package infrastructure

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"golang.org/x/time/rate"
)

const webhookSink = "webhook"

// implements domain.EventPublisher over HTTP
type WebhookPublisher struct {
	client      *http.Client
	url         string
	secret      string
	logger      *logger.Logger
	metrics     *metrics.Metrics
	rateLimiter *rate.Limiter
}

// creates a new webhook publisher; ratePerSecond <= 0 disables limiting
func NewWebhookPublisher(url, secret string, ratePerSecond int, timeout time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *WebhookPublisher {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = ratePerSecond
	}

	return &WebhookPublisher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		url:         url,
		secret:      secret,
		logger:      logger,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

// Publish posts the event as JSON, signed with HMAC-SHA256 when a secret is set.
func (p *WebhookPublisher) Publish(ctx context.Context, event *domain.TrackingEvent) error {
	start := time.Now()

	if err := p.rateLimiter.Wait(ctx); err != nil {
		p.metrics.RecordEventPublish(webhookSink, "rate_limit", time.Since(start))
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	message := NewEventMessage(event)
	payload, err := json.Marshal(message)
	if err != nil {
		p.metrics.RecordEventPublish(webhookSink, "json_marshal", time.Since(start))
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		p.metrics.RecordEventPublish(webhookSink, "request_creation", time.Since(start))
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", message.DeliveryID)
	req.Header.Set("X-Event-Type", string(event.Kind))
	if p.secret != "" {
		req.Header.Set("X-Signature", Sign(p.secret, payload))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.RecordEventPublish(webhookSink, "network_error", time.Since(start))
		return fmt.Errorf("failed to deliver event: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.metrics.RecordEventPublish(webhookSink, fmt.Sprintf("error_%d", resp.StatusCode), duration)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	p.metrics.RecordEventPublish(webhookSink, "success", duration)

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"delivery_id": message.DeliveryID,
		"event_id":    event.ID,
		"duration":    duration,
	}).Debug("Delivered tracking event to webhook")

	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
