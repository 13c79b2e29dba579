package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per key, created on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
	onChange func(key string, from, to State)
}

// NewRegistry creates a registry whose breakers share cfg. cfg.OnStateChange
// is ignored; use OnStateChange to observe transitions per key.
func NewRegistry(cfg Config) *Registry {
	cfg.OnStateChange = nil
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// OnStateChange registers fn for transitions of breakers created afterwards.
func (r *Registry) OnStateChange(fn func(key string, from, to State)) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
	return r
}

// Get returns the breaker for key.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[key]; ok {
		return b
	}

	cfg := r.config
	if fn := r.onChange; fn != nil {
		cfg.OnStateChange = func(from, to State) { fn(key, from, to) }
	}
	b = New(cfg)
	r.breakers[key] = b
	return b
}

// Stats holds registry statistics.
type Stats struct {
	Total    int
	Open     int
	HalfOpen int
	Closed   int
}

// Stats counts breakers by state.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
	}
	return stats
}

// Keys returns the registered keys in order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
