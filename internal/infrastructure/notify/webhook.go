// Package notify delivers dispatched alerts to external channels.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/procsight/baseline-monitor/internal/domain/alert"
	"github.com/procsight/baseline-monitor/internal/service/alerting"
)

// EndpointConfig is the validated shape of a webhook channel's config map.
type EndpointConfig struct {
	URL    string `validate:"required,url"`
	Secret string `validate:"omitempty,min=16"`
}

// RetryPolicy controls delivery retries for transient failures.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryPolicy retries three times with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// WebhookNotifier posts alert dispatches to channel-configured HTTP
// endpoints, signing the body when the channel carries a secret.
type WebhookNotifier struct {
	client   *http.Client
	validate *validator.Validate
	policy   RetryPolicy
	logger   *zap.Logger
}

// NewWebhookNotifier creates a notifier with the given request timeout.
func NewWebhookNotifier(timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookNotifier{
		client:   &http.Client{Timeout: timeout},
		validate: validator.New(),
		policy:   DefaultRetryPolicy(),
		logger:   logger.Named("notify.webhook"),
	}
}

// EndpointFromChannel extracts and validates the webhook endpoint from a
// channel's config map.
func (n *WebhookNotifier) EndpointFromChannel(ch *alert.Channel) (EndpointConfig, error) {
	cfg := EndpointConfig{
		URL:    ch.Config["url"],
		Secret: ch.Config["signing_secret"],
	}
	if err := n.validate.Struct(cfg); err != nil {
		return EndpointConfig{}, fmt.Errorf("invalid webhook config for channel %s: %w", ch.ID, err)
	}
	return cfg, nil
}

// Deliver posts one dispatch to an endpoint, retrying transient failures.
func (n *WebhookNotifier) Deliver(ctx context.Context, endpoint EndpointConfig, d alerting.Dispatch) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling dispatch payload: %w", err)
	}

	var lastErr error
	delay := n.policy.InitialDelay
	for attempt := 1; attempt <= n.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * n.policy.BackoffFactor)
			if delay > n.policy.MaxDelay {
				delay = n.policy.MaxDelay
			}
		}

		lastErr = n.post(ctx, endpoint, d, body)
		if lastErr == nil {
			n.logger.Debug("alert delivered",
				zap.String("url", endpoint.URL),
				zap.String("alert_id", d.AlertID),
				zap.Int("attempt", attempt))
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		n.logger.Warn("alert delivery failed, will retry",
			zap.String("url", endpoint.URL),
			zap.String("alert_id", d.AlertID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
	}

	n.logger.Error("alert delivery failed",
		zap.String("url", endpoint.URL),
		zap.String("alert_id", d.AlertID),
		zap.Error(lastErr))
	return fmt.Errorf("delivering alert %s to %s: %w", d.AlertID, endpoint.URL, lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, endpoint EndpointConfig, d alerting.Dispatch, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-ID", d.AlertID)
	req.Header.Set("X-Alert-Severity", string(d.Severity))
	if endpoint.Secret != "" {
		req.Header.Set("X-Signature-SHA256", Sign(body, endpoint.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return retryableError{err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retryableError{fmt.Errorf("endpoint returned status %d", resp.StatusCode)}
	default:
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
}

// Sign produces the hex HMAC-SHA256 signature header value for a payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(retryableError)
	return ok
}
