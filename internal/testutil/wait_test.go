package testutil

import (
	"context"
	"recorder/internal/repository"
	"recorder/internal/video"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		succeedAt int64 // 0 never succeeds
		want      bool
	}{
		{"immediate", 1, true},
		{"eventual", 3, true},
		{"timeout", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int64
			got := WaitFor(t, func() bool {
				n := calls.Add(1)
				return tt.succeedAt > 0 && n >= tt.succeedAt
			}, WithTimeout(100*time.Millisecond), WithInterval(5*time.Millisecond))

			if got != tt.want {
				t.Errorf("WaitFor = %v, want %v", got, tt.want)
			}
			if tt.want && calls.Load() != tt.succeedAt {
				t.Errorf("condition called %d times, want %d", calls.Load(), tt.succeedAt)
			}
		})
	}
}

func TestMustWaitForStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	videos := repository.NewMemory()
	if err := videos.Put(ctx, &video.Video{ID: "v1", Status: video.StatusWaitingToRecord}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = videos.UpdateStatus(ctx, video.StatusUpdate{
			ID:   "v1",
			From: video.StatusWaitingToRecord,
			To:   video.StatusRecording,
			At:   time.Now(),
		})
	}()

	MustWaitForStatus(t, videos, "v1", video.StatusRecording, WithTimeout(time.Second))
}
