// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"recorder/internal/apperrors"
	"time"
)

// DefaultAmbiguousPhaseBudget is the number of consecutive Unknown phase
// observations tolerated before a job is escalated as Error.
const DefaultAmbiguousPhaseBudget = 5

// ServiceConfig holds configuration for the HTTP surface of the service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	RateLimit         int           // requests per minute per client IP on /v1 (0 disables)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		RateLimit:         GetIntEnv("RATE_LIMIT_PER_MINUTE", 120),
	}
}

// RecorderConfig holds configuration for the recording pipeline.
type RecorderConfig struct {
	// Backends lists one service name per role, e.g.
	// "Docker,DockerVolume,LocalStorage,SQLite".
	Backends []string

	DiscoveryInterval    time.Duration
	PollInterval         time.Duration
	MaxConcurrentJobs    int
	SubmitRate           float64 // submissions per second
	SubmitBurst          int
	SubmitAttempts       int
	RemoveAttempts       int
	AmbiguousPhaseBudget int
	DefaultDownloader    string

	// Paths inside the shared volume as seen from the job container.
	MountPath  string
	OutputDir  string
	CookiesDir string

	NotifyWebhookURL string
	NotifySource     string
	NotifyEvents     []string // empty sends all
}

// LoadRecorderConfig loads recorder configuration from environment variables.
func LoadRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		Backends:             backendsFromEnv(),
		DiscoveryInterval:    GetDurationEnv("DISCOVERY_INTERVAL", 30*time.Second),
		PollInterval:         GetDurationEnv("POLL_INTERVAL", 30*time.Second),
		MaxConcurrentJobs:    GetIntEnv("MAX_CONCURRENT_JOBS", 8),
		SubmitRate:           GetFloatEnv("SUBMIT_RATE", 1),
		SubmitBurst:          GetIntEnv("SUBMIT_BURST", 2),
		SubmitAttempts:       GetIntEnv("SUBMIT_ATTEMPTS", 5),
		RemoveAttempts:       GetIntEnv("REMOVE_ATTEMPTS", 5),
		AmbiguousPhaseBudget: GetIntEnv("AMBIGUOUS_PHASE_BUDGET", DefaultAmbiguousPhaseBudget),
		DefaultDownloader:    GetEnv("DEFAULT_DOWNLOADER", "ytdlp"),
		MountPath:            GetEnv("SHARED_MOUNT_PATH", "/data"),
		OutputDir:            GetEnv("OUTPUT_DIR", "recordings"),
		CookiesDir:           GetEnv("COOKIES_DIR", "cookies"),
		NotifyWebhookURL:     GetEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifySource:         GetEnv("NOTIFY_SOURCE", "recorder-service"),
		NotifyEvents:         GetListEnv("NOTIFY_EVENTS"),
	}
}

// Validate fails fast on settings the pipeline cannot run with.
func (c *RecorderConfig) Validate() error {
	if len(c.Backends) == 0 {
		return apperrors.Validation("BACKENDS", "at least one backend per role must be configured")
	}
	if c.AmbiguousPhaseBudget <= 0 {
		return apperrors.Validation("AMBIGUOUS_PHASE_BUDGET", "must be greater than zero")
	}
	if c.DiscoveryInterval <= 0 {
		return apperrors.Validation("DISCOVERY_INTERVAL", "must be positive")
	}
	if c.PollInterval <= 0 {
		return apperrors.Validation("POLL_INTERVAL", "must be positive")
	}
	if c.MaxConcurrentJobs <= 0 {
		return apperrors.Validation("MAX_CONCURRENT_JOBS", "must be greater than zero")
	}
	if c.SubmitRate <= 0 {
		return apperrors.Validation("SUBMIT_RATE", "must be positive")
	}
	if c.SubmitBurst <= 0 {
		return apperrors.Validation("SUBMIT_BURST", "must be greater than zero")
	}
	if c.SubmitAttempts <= 0 || c.RemoveAttempts <= 0 {
		return apperrors.Validation("SUBMIT_ATTEMPTS", "retry attempts must be greater than zero")
	}
	if c.MountPath == "" || c.MountPath[0] != '/' {
		return apperrors.Validation("SHARED_MOUNT_PATH", fmt.Sprintf("must be an absolute path, got %q", c.MountPath))
	}
	return nil
}

// backendsFromEnv reads BACKENDS, falling back to one BACKENDS_<ROLE>
// variable per role as produced by the YAML config file.
func backendsFromEnv() []string {
	if list := GetListEnv("BACKENDS"); len(list) > 0 {
		return list
	}
	var out []string
	for _, key := range []string{"BACKENDS_COMPUTE", "BACKENDS_SHARED_VOLUME", "BACKENDS_SHAREDVOLUME", "BACKENDS_STORAGE", "BACKENDS_DATABASE"} {
		if v := GetEnv(key, ""); v != "" {
			out = append(out, v)
		}
	}
	return out
}
