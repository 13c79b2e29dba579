// Package downloader builds and submits recording jobs for the supported
// download tools and classifies their failures.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"recorder/internal/observability"
	"recorder/internal/sharedvolume"
	"recorder/internal/storage"
	"recorder/internal/video"
	"strings"
)

// Adapter turns a video into a job for one download tool.
type Adapter interface {
	// Name is the DownloaderName stored on videos and used in job names.
	Name() string

	// Sources lists the platforms this adapter handles by default.
	Sources() []string

	// InitJob submits the job for a pre-job video. url overrides v.URL when
	// set. The cookie file is mounted only when useCookiesFile is true and
	// the video references one. Returns apperrors.ErrStateConflict when the
	// video is not pre-job or a job with the derived name already exists.
	InitJob(ctx context.Context, url string, v *video.Video, useCookiesFile bool) (*job.Handle, error)

	// Classify maps a failed observation to a failure terminal status.
	Classify(obs job.Observation) video.Status
}

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Compute job.Compute
	Volume  sharedvolume.Volume
	Storage storage.Destination
	Videos  video.Repository
	Metrics *observability.Metrics // optional
	Retry   job.RetryConfig
}

func (d Deps) validate() error {
	switch {
	case d.Compute == nil:
		return fmt.Errorf("compute backend is required")
	case d.Volume == nil:
		return fmt.Errorf("shared volume is required")
	case d.Storage == nil:
		return fmt.Errorf("storage destination is required")
	case d.Videos == nil:
		return fmt.Errorf("video repository is required")
	}
	return nil
}

// invocation is what an adapter needs to build its command line.
type invocation struct {
	URL         string
	VideoID     string
	OutputDir   string // absolute, inside the job container
	CookiesPath string // absolute, empty when no cookie file is mounted
}

// tool describes one download tool.
type tool struct {
	name    string
	sources []string
	command []string // entrypoint override; nil keeps the image default
	args    func(inv invocation) []string
	classification
}

// adapter implements Adapter for a tool.
type adapter struct {
	tool
	deps Deps
	cfg  Config
}

func newAdapter(t tool, deps Deps, cfg Config) (*adapter, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MountPath == "" || cfg.MountPath[0] != '/' {
		return nil, apperrors.Validation("SHARED_MOUNT_PATH", "mount path must be absolute")
	}
	return &adapter{tool: t, deps: deps, cfg: cfg}, nil
}

func (a *adapter) Name() string { return a.name }

func (a *adapter) Sources() []string { return append([]string(nil), a.sources...) }

func (a *adapter) Classify(obs job.Observation) video.Status {
	return a.classify(obs)
}

func (a *adapter) InitJob(ctx context.Context, url string, v *video.Video, useCookiesFile bool) (*job.Handle, error) {
	if !v.Status.IsPreJob() {
		return nil, apperrors.StateConflict(v.ID, fmt.Sprintf("cannot submit a job while %s", v.Status))
	}
	if url == "" {
		url = v.URL
	}
	if url == "" {
		return nil, apperrors.Validation("url", "video has no source url")
	}

	name := job.Name(v.ID, a.name)
	logger := slog.With("videoId", v.ID, "job", name, "downloader", a.name)

	exists, err := a.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.StateConflict(v.ID, fmt.Sprintf("job %s already exists", name))
	}

	err = job.Retry(ctx, a.deps.Retry, "sharedvolume.ensure", a.deps.Volume.Ensure)
	if err != nil {
		return nil, fmt.Errorf("shared volume %s is not ready: %w", a.deps.Volume.Name(), err)
	}

	spec, err := a.buildSpec(name, url, v, useCookiesFile)
	if err != nil {
		return nil, err
	}

	backendID, err := a.submit(ctx, v.ID, spec)
	if err != nil {
		logger.Error("Failed to submit job", "error", err)
		return nil, err
	}

	if err := a.deps.Videos.SetDownloader(context.WithoutCancel(ctx), v.ID, a.name); err != nil {
		// The job runs; polling falls back to source mapping until this is fixed.
		logger.Warn("Failed to record downloader on video", "error", err)
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordJobSubmitted(ctx, a.name, a.deps.Compute.Name())
	}
	logger.Info("Job submitted", "backend", a.deps.Compute.Name(), "image", spec.Image)

	return &job.Handle{Name: name, BackendID: backendID, Downloader: a.name, VideoID: v.ID}, nil
}

// exists probes the backend for a job with the given name.
func (a *adapter) exists(ctx context.Context, name string) (bool, error) {
	var obs *job.Observation
	err := job.Retry(ctx, a.deps.Retry, "compute.observe", func(ctx context.Context) error {
		var err error
		obs, err = a.deps.Compute.Observe(ctx, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return obs.Phase != job.PhaseNotFound, nil
}

// submit creates the job exactly once. A transient failure may still have
// created the job, so the backend is probed before every retry.
func (a *adapter) submit(ctx context.Context, videoID string, spec *job.Spec) (string, error) {
	var backendID string
	attempt := 0
	err := job.Retry(ctx, a.deps.Retry, "compute.submit", func(ctx context.Context) error {
		if attempt > 0 {
			exists, err := a.exists(ctx, spec.Name)
			if err != nil {
				return err
			}
			if exists {
				slog.Info("Job found after failed submission attempt", "job", spec.Name)
				return nil
			}
		}
		attempt++
		var err error
		backendID, err = a.deps.Compute.Submit(ctx, spec)
		return err
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return "", apperrors.StateConflict(videoID, fmt.Sprintf("job %s already exists", spec.Name))
		}
		return "", err
	}
	return backendID, nil
}

func (a *adapter) buildSpec(name, url string, v *video.Video, useCookiesFile bool) (*job.Spec, error) {
	inv := invocation{
		URL:       url,
		VideoID:   v.ID,
		OutputDir: path.Join(a.cfg.MountPath, a.cfg.OutputDir),
	}

	env := map[string]string{
		"VIDEO_ID":   v.ID,
		"VIDEO_URL":  url,
		"OUTPUT_DIR": inv.OutputDir,
	}
	for k, val := range a.deps.Storage.Env(v.ID) {
		env[k] = val
	}

	if useCookiesFile && v.CookiesFile != "" {
		cookies, err := a.cookiesPath(v.CookiesFile)
		if err != nil {
			return nil, err
		}
		inv.CookiesPath = cookies
		env["COOKIES_FILE"] = cookies
	}

	spec := &job.Spec{
		Name:        name,
		Image:       a.cfg.image(a.name),
		Command:     a.command,
		Args:        a.args(inv),
		Environment: env,
		Mounts:      []job.Mount{a.deps.Volume.Mount(a.cfg.MountPath)},
		Labels: map[string]string{
			job.LabelVideoID:    truncateLabel(v.ID),
			job.LabelDownloader: a.name,
		},
		WorkingDir:     inv.OutputDir,
		CPU:            a.cfg.CPU,
		Memory:         a.cfg.Memory,
		TimeoutSeconds: int(a.cfg.Timeout.Seconds()),
	}
	if err := job.Prepare(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// cookiesPath resolves a cookie file name inside the cookies directory.
func (a *adapter) cookiesPath(file string) (string, error) {
	clean := path.Clean(file)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", apperrors.Validation("cookiesFile", fmt.Sprintf("cookie file %q must be relative to the cookies directory", file))
	}
	return path.Join(a.cfg.MountPath, a.cfg.CookiesDir, clean), nil
}

func truncateLabel(s string) string {
	if len(s) > 63 {
		return s[:63]
	}
	return s
}
