package sharedvolume

import (
	"context"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/config"
	"recorder/internal/job"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
)

// volumeAPI is the subset of the Docker client used for named volumes.
type volumeAPI interface {
	VolumeInspect(ctx context.Context, volumeID string) (volume.Volume, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	Close() error
}

// DockerVolumeConfig configures a Docker named volume.
type DockerVolumeConfig struct {
	VolumeName string
	Create     bool // create the volume when missing
}

// LoadDockerVolumeConfigFromEnv loads Docker volume configuration from environment variables.
func LoadDockerVolumeConfigFromEnv() DockerVolumeConfig {
	return DockerVolumeConfig{
		VolumeName: config.GetEnv("DOCKER_VOLUME_NAME", "recorder-data"),
		Create:     config.GetBoolEnv("DOCKER_VOLUME_CREATE", true),
	}
}

// DockerVolume is a named volume on the local Docker daemon.
type DockerVolume struct {
	api  volumeAPI
	name string
	cfg  DockerVolumeConfig
}

// NewDockerVolume connects to the Docker daemon from the environment.
func NewDockerVolume(cfg DockerVolumeConfig) (*DockerVolume, error) {
	if cfg.VolumeName == "" {
		return nil, apperrors.Validation("DOCKER_VOLUME_NAME", "volume name is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerVolume{api: cli, name: "DockerVolume", cfg: cfg}, nil
}

// Name implements Volume.
func (d *DockerVolume) Name() string { return d.name }

// Ensure implements Volume.
func (d *DockerVolume) Ensure(ctx context.Context) error {
	_, err := d.api.VolumeInspect(ctx, d.cfg.VolumeName)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return apperrors.Transient("docker.inspectVolume", err)
	}
	if !d.cfg.Create {
		return apperrors.NotFound("volume", d.cfg.VolumeName)
	}

	_, err = d.api.VolumeCreate(ctx, volume.CreateOptions{
		Name:   d.cfg.VolumeName,
		Labels: map[string]string{job.LabelManagedBy: job.ManagedByValue},
	})
	if err != nil {
		return apperrors.Transient("docker.createVolume", err)
	}
	slog.Info("Created shared volume", "volume", d.cfg.VolumeName)
	return nil
}

// Mount implements Volume.
func (d *DockerVolume) Mount(target string) job.Mount {
	return job.Mount{Kind: job.MountDockerVolume, Source: d.cfg.VolumeName, Target: target}
}

// Close implements Volume.
func (d *DockerVolume) Close() error { return d.api.Close() }
