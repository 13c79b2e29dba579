package aci

import (
	"recorder/internal/apperrors"
	"recorder/internal/config"
	"time"
)

// Config holds configuration for the Azure Container Instances backend.
type Config struct {
	SubscriptionID string
	ResourceGroup  string
	Location       string

	// Optional private registry credentials
	RegistryServer   string
	RegistryUsername string
	RegistryPassword string

	LogTail       int           // lines of output attached to failed observations
	DeletePoll    time.Duration // polling frequency while a delete completes
	DeleteMaxWait time.Duration
}

// LoadConfigFromEnv loads ACI backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		SubscriptionID:   config.GetEnv("AZURE_SUBSCRIPTION_ID", ""),
		ResourceGroup:    config.GetEnv("AZURE_RESOURCE_GROUP", ""),
		Location:         config.GetEnv("AZURE_LOCATION", "japaneast"),
		RegistryServer:   config.GetEnv("ACI_REGISTRY_SERVER", ""),
		RegistryUsername: config.GetEnv("ACI_REGISTRY_USERNAME", ""),
		RegistryPassword: config.GetSecret("ACI_REGISTRY_PASSWORD"),
		LogTail:          config.GetIntEnv("JOB_LOG_TAIL", 20),
		DeletePoll:       config.GetDurationEnv("ACI_DELETE_POLL_INTERVAL", 2*time.Second),
		DeleteMaxWait:    config.GetDurationEnv("ACI_DELETE_MAX_WAIT", 2*time.Minute),
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	switch {
	case c.SubscriptionID == "":
		return apperrors.Validation("AZURE_SUBSCRIPTION_ID", "subscription id is required")
	case c.ResourceGroup == "":
		return apperrors.Validation("AZURE_RESOURCE_GROUP", "resource group is required")
	case c.Location == "":
		return apperrors.Validation("AZURE_LOCATION", "location is required")
	case c.RegistryServer != "" && (c.RegistryUsername == "" || c.RegistryPassword == ""):
		return apperrors.Validation("ACI_REGISTRY_USERNAME", "registry credentials are required when a registry server is set")
	}
	return nil
}
