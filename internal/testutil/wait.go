// Package testutil provides fakes and polling helpers for tests that drive
// asynchronous loops.
package testutil

import (
	"context"
	"recorder/internal/video"
	"testing"
	"time"
)

// WaitOptions configures WaitFor behavior.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// WaitOption is a functional option for WaitFor.
type WaitOption func(*WaitOptions)

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Timeout = d }
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *WaitOptions) { o.Interval = d }
}

func options(opts []WaitOption) WaitOptions {
	o := WaitOptions{Timeout: 10 * time.Second, Interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WaitFor polls condition until it returns true or the timeout passes.
// The test's own deadline, when earlier, also ends the wait.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()
	o := options(opts)

	deadline := time.Now().Add(o.Timeout)
	if t, ok := tb.(interface{ Deadline() (time.Time, bool) }); ok {
		if d, ok := t.Deadline(); ok && d.Before(deadline) {
			deadline = d.Add(-time.Second)
		}
	}

	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	for {
		if condition() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		<-ticker.C
	}
}

// MustWaitFor is WaitFor that fails the test on timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForStatus waits until the stored video reaches want. On timeout
// the last status seen is reported.
func MustWaitForStatus(tb testing.TB, videos video.Repository, id string, want video.Status, opts ...WaitOption) {
	tb.Helper()
	var last video.Status
	var lastErr error
	ok := WaitFor(tb, func() bool {
		v, err := videos.Get(context.Background(), id)
		if err != nil {
			lastErr = err
			return false
		}
		last, lastErr = v.Status, nil
		return last == want
	}, opts...)
	if ok {
		return
	}
	if lastErr != nil {
		tb.Fatalf("video %s never reached %s: %v", id, want, lastErr)
	}
	tb.Fatalf("video %s never reached %s, last status %s", id, want, last)
}
