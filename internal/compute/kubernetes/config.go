package kubernetes

import (
	"recorder/internal/config"
	"time"
)

// Config holds configuration for the Kubernetes compute backend.
type Config struct {
	Kubeconfig       string        // empty: in-cluster configuration
	Namespace        string        // namespace jobs are created in
	ServiceAccount   string        // service account for job pods (empty: namespace default)
	ImagePullPolicy  string        // Always, IfNotPresent or Never
	ImagePullSecrets []string      // secret names for private registries
	TTLAfterFinished time.Duration // zero leaves finished jobs for the recorder to remove
}

// LoadConfigFromEnv loads Kubernetes backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Kubeconfig:       config.GetEnv("KUBECONFIG", ""),
		Namespace:        config.GetEnv("KUBERNETES_NAMESPACE", "default"),
		ServiceAccount:   config.GetEnv("KUBERNETES_SERVICE_ACCOUNT", ""),
		ImagePullPolicy:  config.GetEnv("KUBERNETES_IMAGE_PULL_POLICY", "IfNotPresent"),
		ImagePullSecrets: config.GetListEnv("KUBERNETES_IMAGE_PULL_SECRETS"),
		TTLAfterFinished: config.GetDurationEnv("KUBERNETES_JOB_TTL", 0),
	}
}
