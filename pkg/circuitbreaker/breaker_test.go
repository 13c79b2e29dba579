package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func open(b *Breaker, n int) {
	for range n {
		b.RecordFailure()
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	for _, cfg := range []Config{{}, {Threshold: -1, Cooldown: -1}} {
		b := New(cfg)
		open(b, 4)
		if b.State() != Closed {
			t.Fatalf("state after 4 failures = %s, want closed (default threshold 5)", b.State())
		}
		b.RecordFailure()
		if b.State() != Open {
			t.Fatalf("state after 5 failures = %s, want open", b.State())
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 3, Cooldown: time.Minute})

	open(b, 2)
	if !b.Allow() {
		t.Fatal("Allow() = false before threshold")
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("Allow() = true while open")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	b := New(Config{Threshold: 2})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != Closed {
		t.Errorf("state = %s, want closed; failures are consecutive", b.State())
	}
}

func TestBreaker_SingleProbeAfterCooldown(t *testing.T) {
	t.Parallel()
	clk := newClock()
	b := New(Config{Threshold: 1, Cooldown: 10 * time.Second, Clock: clk.Now})

	b.RecordFailure()
	clk.Advance(5 * time.Second)
	if b.Allow() {
		t.Fatal("Allow() = true before cooldown")
	}
	if got := b.RetryIn(); got != 5*time.Second {
		t.Errorf("RetryIn() = %v, want 5s", got)
	}

	clk.Advance(5 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("second Allow() in half-open = true, want only one probe")
	}
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		succeed bool
		want    State
	}{
		{name: "success closes", succeed: true, want: Closed},
		{name: "failure reopens", succeed: false, want: Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clk := newClock()
			b := New(Config{Threshold: 3, Cooldown: time.Second, Clock: clk.Now})
			open(b, 3)
			clk.Advance(time.Second)
			if !b.Allow() {
				t.Fatal("probe not allowed")
			}
			if tt.succeed {
				b.RecordSuccess()
			} else {
				b.RecordFailure()
			}
			if b.State() != tt.want {
				t.Errorf("state = %s, want %s", b.State(), tt.want)
			}
		})
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	clk := newClock()
	var got []string
	b := New(Config{
		Threshold:     2,
		Cooldown:      time.Second,
		Clock:         clk.Now,
		OnStateChange: func(from, to State) { got = append(got, from.String()+">"+to.String()) },
	})

	open(b, 2)
	open(b, 1)
	clk.Advance(time.Second)
	b.Allow()
	b.RecordSuccess()
	b.Reset()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRegistry_Get(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Config{Threshold: 2, Cooldown: time.Second})

	a := r.Get("hooks.example.com")
	if a != r.Get("hooks.example.com") {
		t.Error("Get() returned a different breaker for the same key")
	}
	b := r.Get("alerts.example.com")
	if a == b {
		t.Error("Get() shared a breaker across keys")
	}
	open(a, 2)

	want := Stats{Total: 2, Open: 1, Closed: 1}
	if diff := cmp.Diff(want, r.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"alerts.example.com", "hooks.example.com"}, r.Keys()); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_OnStateChange(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var keys []string
	r := NewRegistry(Config{Threshold: 1}).OnStateChange(func(key string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, key+":"+to.String())
	})

	r.Get("hooks.example.com").RecordFailure()

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"hooks.example.com:open"}, keys); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}
}
