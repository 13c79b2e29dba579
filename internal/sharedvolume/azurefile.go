package sharedvolume

import (
	"context"
	"recorder/internal/apperrors"
	"recorder/internal/config"
	"recorder/internal/job"
)

// AzureFileConfig references an existing Azure file share.
type AzureFileConfig struct {
	ShareName   string
	AccountName string
	AccountKey  string
}

// LoadAzureFileConfigFromEnv loads Azure file share configuration from environment variables.
func LoadAzureFileConfigFromEnv() AzureFileConfig {
	return AzureFileConfig{
		ShareName:   config.GetEnv("AZURE_FILE_SHARE_NAME", "recorder-data"),
		AccountName: config.GetEnv("AZURE_STORAGE_ACCOUNT_NAME", ""),
		AccountKey:  config.GetSecret("AZURE_STORAGE_ACCOUNT_KEY"),
	}
}

// AzureFileShare is a file share mounted into container groups by
// credentials. The share is provisioned outside the service; Ensure only
// checks that the reference is complete.
type AzureFileShare struct {
	cfg AzureFileConfig
}

// NewAzureFileShare creates an Azure file share binding.
func NewAzureFileShare(cfg AzureFileConfig) (*AzureFileShare, error) {
	if err := validateAzureFile(cfg); err != nil {
		return nil, err
	}
	return &AzureFileShare{cfg: cfg}, nil
}

func validateAzureFile(cfg AzureFileConfig) error {
	switch {
	case cfg.ShareName == "":
		return apperrors.Validation("AZURE_FILE_SHARE_NAME", "share name is required")
	case cfg.AccountName == "":
		return apperrors.Validation("AZURE_STORAGE_ACCOUNT_NAME", "storage account name is required")
	case cfg.AccountKey == "":
		return apperrors.Validation("AZURE_STORAGE_ACCOUNT_KEY", "storage account key is required")
	}
	return nil
}

// Name implements Volume.
func (a *AzureFileShare) Name() string { return "AzureFileShare" }

// Ensure implements Volume.
func (a *AzureFileShare) Ensure(ctx context.Context) error {
	return validateAzureFile(a.cfg)
}

// Mount implements Volume.
func (a *AzureFileShare) Mount(target string) job.Mount {
	return job.Mount{
		Kind:               job.MountAzureFile,
		Source:             a.cfg.ShareName,
		Target:             target,
		StorageAccountName: a.cfg.AccountName,
		StorageAccountKey:  a.cfg.AccountKey,
	}
}

// Close implements Volume.
func (a *AzureFileShare) Close() error { return nil }
