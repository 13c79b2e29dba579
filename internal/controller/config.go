package controller

import (
	"recorder/internal/config"
	"recorder/internal/job"
	"time"
)

// Config controls the recording loops.
type Config struct {
	DiscoveryInterval time.Duration
	PollInterval      time.Duration
	MaxConcurrentJobs int
	SubmitRate        float64 // submissions per second
	SubmitBurst       int
	RemoveRetry       job.RetryConfig
	UseCookiesFile    bool

	// Orphan sweep: finished jobs older than SweepGrace whose video left
	// the in-job window are removed. Zero SweepInterval disables it.
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

// ConfigFromRecorder derives controller settings from the recorder configuration.
func ConfigFromRecorder(rc *config.RecorderConfig) Config {
	return Config{
		DiscoveryInterval: rc.DiscoveryInterval,
		PollInterval:      rc.PollInterval,
		MaxConcurrentJobs: rc.MaxConcurrentJobs,
		SubmitRate:        rc.SubmitRate,
		SubmitBurst:       rc.SubmitBurst,
		RemoveRetry:       job.RetryConfig{Attempts: rc.RemoveAttempts},
		UseCookiesFile:    config.GetBoolEnv("USE_COOKIES_FILE", true),
		SweepInterval:     config.GetDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
		SweepGrace:        config.GetDurationEnv("SWEEP_GRACE", 10*time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 8
	}
	if c.SubmitRate <= 0 {
		c.SubmitRate = 1
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 1
	}
	return c
}
