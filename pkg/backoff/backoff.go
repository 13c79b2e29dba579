// Package backoff computes retry delays.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s

	// Jitter spreads each delay uniformly over [d*(1-Jitter), d]. Zero
	// keeps delays deterministic. Values above 1 are clamped.
	Jitter float64
}

// Exponential returns the delay before the given attempt. Attempt 1
// returns Initial, attempt 2 twice that, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	var jitter float64
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = min(max(cfg.Jitter, 0), 1)
	}

	d := float64(initial)
	if attempt > 1 {
		d *= math.Pow(2, float64(attempt-1))
	}
	d = min(d, float64(maxBackoff))
	if jitter > 0 {
		d -= d * jitter * rand.Float64()
	}
	return time.Duration(d)
}

// Sleep waits for the delay of attempt or until done is closed. It reports
// whether the full delay elapsed.
func Sleep(done <-chan struct{}, attempt int, cfg *Config) bool {
	t := time.NewTimer(Exponential(attempt, cfg))
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
