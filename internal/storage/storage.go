// Package storage describes where finished recordings are uploaded. The
// recorder does not upload anything itself; it passes the destination to
// the job as environment variables.
package storage

import (
	"path"
	"recorder/internal/apperrors"
	"recorder/internal/config"
	"strings"
)

// Environment variables set on every job.
const (
	EnvKind   = "UPLOAD_KIND"
	EnvTarget = "UPLOAD_TARGET"
	EnvRegion = "UPLOAD_REGION"
	EnvURL    = "UPLOAD_ENDPOINT"
)

// Destination is a storage binding.
type Destination interface {
	Name() string
	// Env returns the job environment that points the uploader at the
	// location for videoID.
	Env(videoID string) map[string]string
	Close() error
}

// LocalConfig configures LocalStorage.
type LocalConfig struct {
	Path string // directory as seen by the uploader
}

// LoadLocalConfigFromEnv loads local storage configuration from environment variables.
func LoadLocalConfigFromEnv() LocalConfig {
	return LocalConfig{Path: config.GetEnv("LOCAL_STORAGE_PATH", "/archive")}
}

// Local is a directory destination.
type Local struct {
	cfg LocalConfig
}

// NewLocal creates a local directory destination.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Path == "" || !strings.HasPrefix(cfg.Path, "/") {
		return nil, apperrors.Validation("LOCAL_STORAGE_PATH", "must be an absolute path")
	}
	return &Local{cfg: cfg}, nil
}

// Name implements Destination.
func (l *Local) Name() string { return "LocalStorage" }

// Env implements Destination.
func (l *Local) Env(videoID string) map[string]string {
	return map[string]string{
		EnvKind:   "local",
		EnvTarget: path.Join(l.cfg.Path, videoID),
	}
}

// Close implements Destination.
func (l *Local) Close() error { return nil }

// S3Config configures S3.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // for S3-compatible services
}

// LoadS3ConfigFromEnv loads S3 configuration from environment variables.
func LoadS3ConfigFromEnv() S3Config {
	return S3Config{
		Bucket:   config.GetEnv("S3_BUCKET", ""),
		Prefix:   config.GetEnv("S3_PREFIX", "recordings"),
		Region:   config.GetEnv("S3_REGION", "us-east-1"),
		Endpoint: config.GetEnv("S3_ENDPOINT", ""),
	}
}

// S3 is a bucket destination.
type S3 struct {
	cfg S3Config
}

// NewS3 creates an S3 destination.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.Validation("S3_BUCKET", "bucket is required")
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3{cfg: cfg}, nil
}

// Name implements Destination.
func (s *S3) Name() string { return "S3" }

// Env implements Destination.
func (s *S3) Env(videoID string) map[string]string {
	key := videoID
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + videoID
	}
	env := map[string]string{
		EnvKind:   "s3",
		EnvTarget: "s3://" + s.cfg.Bucket + "/" + key,
		EnvRegion: s.cfg.Region,
	}
	if s.cfg.Endpoint != "" {
		env[EnvURL] = s.cfg.Endpoint
	}
	return env
}

// Close implements Destination.
func (s *S3) Close() error { return nil }
