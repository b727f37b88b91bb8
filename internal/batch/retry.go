package batch

import (
	"context"
	"math"
	"time"

	"github.com/dandantas/custodian/internal/model"
)

// Backoff computes exponential retry delays for failed batches
type Backoff struct {
	config model.RetryConfig
}

// NewBackoff creates a backoff from config, filling unset fields with defaults
func NewBackoff(config model.RetryConfig) *Backoff {
	config.SetDefaults()
	return &Backoff{config: config}
}

// Delay returns the wait before the given retry attempt.
// Formula: delay = min(initial_delay * (multiplier ^ (attempt-1)), max_delay)
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delayMs := float64(b.config.InitialDelayMs) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if delayMs > float64(b.config.MaxDelayMs) {
		delayMs = float64(b.config.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// MaxAttempts returns the total number of attempts per batch
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
