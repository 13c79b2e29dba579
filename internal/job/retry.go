package job

import (
	"context"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/pkg/backoff"
	"time"
)

// RetryConfig bounds retries of transient compute backend failures.
type RetryConfig struct {
	Attempts int           // total attempts including the first (default: 5)
	Initial  time.Duration // first backoff (default: 500ms)
	Max      time.Duration // backoff cap (default: 30s)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.Initial <= 0 {
		c.Initial = 500 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	return c
}

// Retry runs fn until it succeeds, returns a non-transient error, the
// attempts are exhausted, or ctx is done. Only apperrors.ErrTransient is
// retried. The last error is returned unchanged so callers can classify it.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	bo := &backoff.Config{Initial: cfg.Initial, Max: cfg.Max, Jitter: 0.2}

	var lastErr error
	for attempt := range cfg.Attempts {
		if attempt > 0 {
			if !backoff.Sleep(ctx.Done(), attempt, bo) {
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !apperrors.IsTransient(lastErr) {
			return lastErr
		}
		slog.Debug("Transient backend error, retrying", "op", op, "attempt", attempt+1, "error", lastErr)
	}
	slog.Warn("Retry budget exhausted", "op", op, "attempts", cfg.Attempts, "error", lastErr)
	return lastErr
}
