package dispatcher

import (
	"recorder/internal/config"
	"time"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	UserAgent   string

	MaxRetries     int           // retries after the first attempt (default: 3)
	InitialBackoff time.Duration // default: 200ms
	MaxBackoff     time.Duration // also caps Retry-After (default: 10s)

	BreakerThreshold int           // consecutive failed deliveries per host (default: 5)
	BreakerCooldown  time.Duration // default: 30s
	MaxRequeues      int           // times an event may wait for an open breaker (default: 10)
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() MemoryConfig {
	cfg := MemoryConfig{
		BufferSize:       config.GetIntEnv("DISPATCHER_BUFFER_SIZE", 1000),
		Workers:          config.GetIntEnv("DISPATCHER_WORKERS", 4),
		HTTPTimeout:      config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
		UserAgent:        config.GetEnv("NOTIFY_USER_AGENT", "recorder-service"),
		MaxRetries:       config.GetIntEnv("NOTIFY_MAX_RETRIES", 3),
		InitialBackoff:   config.GetDurationEnv("NOTIFY_INITIAL_BACKOFF", 200*time.Millisecond),
		MaxBackoff:       config.GetDurationEnv("NOTIFY_MAX_BACKOFF", 10*time.Second),
		BreakerThreshold: config.GetIntEnv("NOTIFY_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  config.GetDurationEnv("NOTIFY_BREAKER_COOLDOWN", 30*time.Second),
		MaxRequeues:      config.GetIntEnv("NOTIFY_MAX_REQUEUES", 10),
	}
	return cfg.withDefaults()
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues < 0 {
		c.MaxRequeues = 0
	}
	return c
}
