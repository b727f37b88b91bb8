// Package notify posts job run notifications to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dandantas/custodian/internal/batch"
	"github.com/dandantas/custodian/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Delivery statuses
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// ErrCircuitOpen is returned when delivery is skipped because the webhook
// has been failing
var ErrCircuitOpen = errors.New("notification circuit breaker is open")

// Dispatcher delivers run notifications with retries
type Dispatcher struct {
	webhook    model.Webhook
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher for webhook
func NewDispatcher(webhook model.Webhook) (*Dispatcher, error) {
	if err := webhook.Validate(); err != nil {
		return nil, err
	}
	webhook.RetryConfig.SetDefaults()

	return &Dispatcher{
		webhook: webhook,
		httpClient: &http.Client{
			Timeout: webhook.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify-webhook",
			MaxRequests: 1,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				zap.S().Infow("Circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
	}, nil
}

// State returns the circuit breaker state
func (d *Dispatcher) State() string {
	return d.breaker.State().String()
}

// Send posts the run notification, retrying on network errors, 5xx and 429
func (d *Dispatcher) Send(ctx context.Context, run *model.JobRun) (*model.Notification, error) {
	notification := &model.Notification{
		WebhookURL: d.webhook.URL,
		Attempts:   make([]model.NotificationAttempt, 0),
	}

	body, err := json.Marshal(FormatRunPayload(run))
	if err != nil {
		return d.finish(notification, StatusFailed), fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.deliverWithRetry(ctx, notification, body, run.CorrelationID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		zap.S().Warnw("Circuit breaker is open, skipping notification",
			"correlation_id", run.CorrelationID,
			"webhook_url", d.webhook.URL,
			"circuit_state", d.State(),
		)
		return d.finish(notification, StatusFailed), ErrCircuitOpen
	}
	if err != nil {
		return d.finish(notification, StatusFailed), err
	}

	return d.finish(notification, StatusDelivered), nil
}

func (d *Dispatcher) finish(n *model.Notification, status string) *model.Notification {
	n.FinalStatus = status
	n.CompletedAt = time.Now().UTC()
	return n
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, n *model.Notification, body []byte, correlationID string) error {
	backoff := batch.NewBackoff(d.webhook.RetryConfig)

	for attempt := 1; attempt <= backoff.MaxAttempts(); attempt++ {
		result, err := d.deliver(ctx, body)
		result.AttemptNumber = attempt
		n.Attempts = append(n.Attempts, result)

		if err == nil {
			zap.S().Infow("Notification delivered",
				"correlation_id", correlationID,
				"webhook_url", d.webhook.URL,
				"attempt", attempt,
				"status_code", result.StatusCode,
			)
			return nil
		}

		if !shouldRetry(attempt, backoff.MaxAttempts(), result.StatusCode, err) {
			zap.S().Errorw("Notification delivery failed",
				"correlation_id", correlationID,
				"webhook_url", d.webhook.URL,
				"attempt", attempt,
				"status_code", result.StatusCode,
				"error", result.Error,
			)
			return fmt.Errorf("notification delivery failed after %d attempts: %w", attempt, err)
		}

		delay := backoff.Delay(attempt)
		zap.S().Warnw("Notification delivery failed, retrying",
			"correlation_id", correlationID,
			"attempt", attempt,
			"next_retry_ms", delay.Milliseconds(),
			"error", result.Error,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("notification delivery failed after %d attempts", backoff.MaxAttempts())
}

func (d *Dispatcher) deliver(ctx context.Context, body []byte) (model.NotificationAttempt, error) {
	start := time.Now()
	attempt := model.NotificationAttempt{Timestamp: start.UTC()}

	req, err := http.NewRequestWithContext(ctx, d.webhook.Method, d.webhook.URL, bytes.NewReader(body))
	if err != nil {
		attempt.Error = fmt.Sprintf("Failed to create request: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range d.webhook.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		attempt.Error = fmt.Sprintf("Request failed: %v", err)
		attempt.DurationMs = time.Since(start).Milliseconds()
		return attempt, err
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	attempt.StatusCode = resp.StatusCode
	attempt.DurationMs = time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attempt.Error = fmt.Sprintf("Webhook returned status %d", resp.StatusCode)
		return attempt, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return attempt, nil
}
