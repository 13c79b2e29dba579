package job

import (
	"context"
	"errors"
	"recorder/internal/apperrors"
	"testing"
	"time"
)

var fastRetry = RetryConfig{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestRetry_TransientThenSuccess(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), fastRetry, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.Transient("test", errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetry_NonTransientNotRetried(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), fastRetry, "test", func(ctx context.Context) error {
		calls++
		return apperrors.JobNotFound("ytdlp-v123")
	})
	if !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetry_ExhaustedReturnsTransient(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Retry(context.Background(), fastRetry, "test", func(ctx context.Context) error {
		calls++
		return apperrors.Transient("test", errors.New("timeout"))
	})
	if !errors.Is(err, apperrors.ErrTransient) {
		t.Fatalf("Expected ErrTransient, got %v", err)
	}
	if calls != fastRetry.Attempts {
		t.Errorf("Expected %d calls, got %d", fastRetry.Attempts, calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{Attempts: 5, Initial: time.Hour, Max: time.Hour}
	calls := 0
	err := Retry(ctx, cfg, "test", func(ctx context.Context) error {
		calls++
		cancel()
		return apperrors.Transient("test", errors.New("timeout"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}
