// Package docker implements job.Compute using the Docker API.
// Each job is a single container named after the job, running directly on
// the host Docker daemon.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"sort"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Compute runs jobs as Docker containers.
type Compute struct {
	client *client.Client
	cfg    Config
	now    func() time.Time
}

// New creates a Docker compute backend using the environment's Docker
// connection settings (DOCKER_HOST and friends).
func New(cfg Config) (*Compute, error) {
	switch cfg.PullPolicy {
	case "":
		cfg.PullPolicy = PullMissing
	case PullAlways, PullMissing, PullNever:
	default:
		return nil, apperrors.Validation("DOCKER_PULL_POLICY", fmt.Sprintf("unknown pull policy %q", cfg.PullPolicy))
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Compute{client: dockerClient, cfg: cfg, now: time.Now}, nil
}

// Name implements job.Compute.
func (c *Compute) Name() string { return "Docker" }

// Submit implements job.Compute.
func (c *Compute) Submit(ctx context.Context, spec *job.Spec) (string, error) {
	logger := slog.With("job", spec.Name, "image", spec.Image)

	// The daemon also rejects duplicate names, but only after an image pull.
	if _, err := c.client.ContainerInspect(ctx, spec.Name); err == nil {
		return "", apperrors.Conflict("job", spec.Name, fmt.Sprintf("job %s already exists", spec.Name))
	} else if !cerrdefs.IsNotFound(err) {
		return "", classify("docker.inspectContainer", err)
	}

	if err := c.pullImageIfNeeded(ctx, spec.Image); err != nil {
		return "", classify("docker.pullImage", err)
	}

	containerConfig, hostConfig, err := c.containerConfig(spec)
	if err != nil {
		return "", err
	}

	resp, err := c.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if cerrdefs.IsConflict(err) || cerrdefs.IsAlreadyExists(err) {
			return "", apperrors.Conflict("job", spec.Name, fmt.Sprintf("job %s already exists", spec.Name))
		}
		return "", classify("docker.createContainer", err)
	}

	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		logger.Error("Failed to start container, removing it", "error", err)
		c.removeContainer(context.WithoutCancel(ctx), resp.ID)
		return "", classify("docker.startContainer", err)
	}

	logger.Info("Job container started", "containerId", resp.ID)
	return resp.ID, nil
}

// containerConfig translates a job spec into container and host configuration.
func (c *Compute) containerConfig(spec *job.Spec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Environment))
	for k, v := range spec.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	labels[labelTimeout] = strconv.Itoa(spec.TimeoutSeconds)

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for i, m := range spec.Mounts {
		if m.Kind != job.MountDockerVolume {
			return nil, nil, apperrors.Validation("mounts", fmt.Sprintf("mounts[%d]: docker cannot attach %s mounts", i, m.Kind))
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		Entrypoint: spec.Command,
		Cmd:        spec.Args,
		Env:        env,
		WorkingDir: spec.WorkingDir,
		Labels:     labels,
	}

	hostConfig := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(c.cfg.Network),
		ExtraHosts:  c.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPU * 1e9),
			Memory:   int64(spec.Memory) * 1024 * 1024,
		},
	}
	return containerConfig, hostConfig, nil
}

// Observe implements job.Compute.
func (c *Compute) Observe(ctx context.Context, name string) (*job.Observation, error) {
	inspect, err := c.client.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return &job.Observation{Name: name, Phase: job.PhaseNotFound, ObservedAt: c.now()}, nil
		}
		return nil, classify("docker.inspectContainer", err)
	}

	var labels map[string]string
	if inspect.Config != nil {
		labels = inspect.Config.Labels
	}
	obs := observeState(inspect.State, labels, c.now())
	obs.Name = name
	if obs.Phase.IsTerminal() {
		obs.FinishedAt = finishedAt(inspect.State)
	}

	if obs.Phase == job.PhaseFailed && c.cfg.LogTail > 0 {
		if tail := c.logTail(ctx, inspect.ID); tail != "" {
			obs.Message = tail
		}
	}
	return obs, nil
}

// logTail returns the last lines of a container's output. Errors are
// logged and yield an empty string; the tail is informational only.
func (c *Compute) logTail(ctx context.Context, containerID string) string {
	logs, err := c.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(c.cfg.LogTail),
	})
	if err != nil {
		slog.Debug("Failed to read container logs", "containerId", containerID, "error", err)
		return ""
	}
	defer logs.Close()
	return strings.Join(readLogTail(logs, c.cfg.LogTail), "\n")
}

// Delete implements job.Compute. A running container is stopped first.
func (c *Compute) Delete(ctx context.Context, name string) error {
	timeout := int(c.cfg.StopTimeout.Seconds())
	if err := c.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil && !cerrdefs.IsNotFound(err) {
		slog.Debug("Failed to stop container, forcing removal", "job", name, "error", err)
	}
	err := c.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return classify("docker.removeContainer", err)
	}
	return nil
}

// List implements job.Lister.
func (c *Compute) List(ctx context.Context) ([]job.Listing, error) {
	containers, err := c.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", job.LabelManagedBy+"="+job.ManagedByValue),
		),
	})
	if err != nil {
		return nil, classify("docker.listContainers", err)
	}

	listings := make([]job.Listing, 0, len(containers))
	for _, summary := range containers {
		name := summary.ID
		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}
		l := job.Listing{
			Name:       name,
			VideoID:    summary.Labels[job.LabelVideoID],
			Downloader: summary.Labels[job.LabelDownloader],
			Phase:      phaseFromListState(summary.State),
		}

		if summary.State == "exited" {
			// Exit code and finish time are only available on inspect.
			inspect, err := c.client.ContainerInspect(ctx, summary.ID)
			if err != nil {
				if cerrdefs.IsNotFound(err) {
					continue
				}
				return nil, classify("docker.inspectContainer", err)
			}
			l.Phase = observeState(inspect.State, summary.Labels, c.now()).Phase
			l.FinishedAt = finishedAt(inspect.State)
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (c *Compute) Ready(ctx context.Context) error {
	if _, err := c.client.Ping(ctx); err != nil {
		return classify("docker.ping", err)
	}
	return nil
}

// Close implements job.Compute.
func (c *Compute) Close() error {
	return c.client.Close()
}

func (c *Compute) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if c.cfg.PullPolicy != PullAlways {
		_, err := c.client.ImageInspect(ctx, imageName)
		if err == nil {
			return nil
		}
		if c.cfg.PullPolicy == PullNever {
			return apperrors.NotFound("image", imageName)
		}
	}

	slog.Info("Pulling image", "image", imageName)
	reader, err := c.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *Compute) removeContainer(ctx context.Context, containerID string) {
	timeout := int(c.cfg.StopTimeout.Seconds())
	_ = c.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	_ = c.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// classify wraps a Docker client error. Connectivity failures and timeouts
// become transient; everything else is internal.
func classify(op string, err error) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case isTransient(err):
		return apperrors.Transient(op, err)
	default:
		return apperrors.Internal(op, err)
	}
}

func isTransient(err error) bool {
	return client.IsErrConnectionFailed(err) ||
		cerrdefs.IsUnavailable(err) ||
		cerrdefs.IsDeadlineExceeded(err) ||
		errors.Is(err, context.DeadlineExceeded)
}

var (
	_ job.Compute = (*Compute)(nil)
	_ job.Lister  = (*Compute)(nil)
)
