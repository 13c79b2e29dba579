package docker

import (
	"recorder/internal/config"
	"time"
)

// Image pull policies
const (
	PullAlways  = "always"
	PullMissing = "missing"
	PullNever   = "never"
)

// Config holds configuration for the Docker compute backend.
type Config struct {
	Network     string        // network to attach job containers to (empty: daemon default)
	ExtraHosts  []string      // Extra hosts for containers (e.g., ["minio.local:host-gateway"])
	PullPolicy  string        // always, missing or never
	StopTimeout time.Duration // grace period before SIGKILL on delete
	LogTail     int           // lines of output attached to failed observations
}

// LoadConfigFromEnv loads Docker backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Network:     config.GetEnv("DOCKER_NETWORK", ""),
		ExtraHosts:  config.GetListEnv("EXTRA_HOSTS"),
		PullPolicy:  config.GetEnv("DOCKER_PULL_POLICY", PullMissing),
		StopTimeout: config.GetDurationEnv("DOCKER_STOP_TIMEOUT", 30*time.Second),
		LogTail:     config.GetIntEnv("JOB_LOG_TAIL", 20),
	}
}
