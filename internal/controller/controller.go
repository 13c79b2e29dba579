// Package controller runs one control loop per video: submit the job,
// poll it until the outcome is known, write the transition and reclaim the
// job. Loops for in-job videos are resumed on start, so a restart never
// loses a running recording.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/downloader"
	"recorder/internal/job"
	"recorder/internal/observability"
	"recorder/internal/video"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// statusWriteTimeout bounds the pre-job to in-job write once started.
const statusWriteTimeout = 10 * time.Second

// Notifier is told about every transition the controller causes and about
// jobs that vanished from the backend.
type Notifier interface {
	VideoTransitioned(ctx context.Context, v *video.Video, from video.Status)
	JobMissing(ctx context.Context, v *video.Video, jobName string)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Videos       video.Repository
	Downloaders  *downloader.Registry
	Orchestrator *job.Orchestrator
	Lister       job.Lister // optional; enables the orphan sweep
	Notifier     Notifier   // optional
	Metrics      *observability.Metrics
	Clock        func() time.Time
}

// Controller schedules per-video loops.
type Controller struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	slots   *semaphore.Weighted
	now     func() time.Time

	mu     sync.Mutex
	active map[string]struct{}

	unknownSince map[string]time.Time // sweep goroutine only
}

// New creates a Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Videos == nil:
		return nil, fmt.Errorf("video repository is required")
	case deps.Downloaders == nil:
		return nil, fmt.Errorf("downloader registry is required")
	case deps.Orchestrator == nil:
		return nil, fmt.Errorf("orchestrator is required")
	}
	cfg = cfg.withDefaults()
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Controller{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
		slots:   semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		now:     now,
		active:  make(map[string]struct{}),

		unknownSince: make(map[string]time.Time),
	}, nil
}

// Run resumes in-job videos, then discovers pre-job videos every
// DiscoveryInterval until ctx is cancelled. It returns after every loop it
// started has exited.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := c.resume(ctx, g); err != nil {
		// The discovery loop retries listing; in-job videos are picked up
		// by the sweep or the next restart.
		slog.Error("Failed to resume in-job videos", "error", err)
	}

	g.Go(func() error {
		c.every(ctx, c.cfg.DiscoveryInterval, func() { c.discover(ctx, g) })
		return nil
	})
	if c.deps.Lister != nil && c.cfg.SweepInterval > 0 {
		g.Go(func() error {
			c.every(ctx, c.cfg.SweepInterval, func() { c.sweep(ctx, g) })
			return nil
		})
	}

	err := g.Wait()
	slog.Info("Controller stopped")
	return err
}

// every runs fn immediately and then on each tick until ctx is done.
func (c *Controller) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// resume starts polling loops for videos already in a job.
func (c *Controller) resume(ctx context.Context, g *errgroup.Group) error {
	videos, err := c.deps.Videos.ListByStatus(ctx, video.InJobStatuses...)
	if err != nil {
		return err
	}
	for _, v := range videos {
		c.launch(ctx, g, v)
	}
	if len(videos) > 0 {
		slog.Info("Resumed in-job videos", "count", len(videos))
	}
	return nil
}

// discover starts a loop for every pre-job video not tracked yet, as long
// as job slots are free.
func (c *Controller) discover(ctx context.Context, g *errgroup.Group) {
	videos, err := c.deps.Videos.ListByStatus(ctx, video.PreJobStatuses...)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Failed to list pre-job videos", "error", err)
		}
		return
	}
	for _, v := range videos {
		if ctx.Err() != nil {
			return
		}
		if c.tracked(v.ID) {
			continue
		}
		if !c.slots.TryAcquire(1) {
			slog.Debug("All job slots busy, deferring discovery", "pending", len(videos))
			return
		}
		if !c.launchHolding(ctx, g, v) {
			c.slots.Release(1)
		}
	}
}

func (c *Controller) tracked(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[id]
	return ok
}

func (c *Controller) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[id]; ok {
		return false
	}
	c.active[id] = struct{}{}
	return true
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// launch starts a loop for an in-job video. It takes a job slot when one
// is free; jobs that already run are polled regardless of the limit.
func (c *Controller) launch(ctx context.Context, g *errgroup.Group, v *video.Video) {
	if c.slots.TryAcquire(1) {
		if !c.launchHolding(ctx, g, v) {
			c.slots.Release(1)
		}
		return
	}
	if c.claim(v.ID) {
		g.Go(func() error {
			defer c.release(v.ID)
			c.loop(ctx, v)
			return nil
		})
	}
}

// launchHolding starts a loop that owns one job slot. Returns false if the
// video is already tracked.
func (c *Controller) launchHolding(ctx context.Context, g *errgroup.Group, v *video.Video) bool {
	if !c.claim(v.ID) {
		return false
	}
	g.Go(func() error {
		defer c.slots.Release(1)
		defer c.release(v.ID)
		c.loop(ctx, v)
		return nil
	})
	return true
}

// loop drives one video from pre-job (or in-job) to the end of its job.
func (c *Controller) loop(ctx context.Context, v *video.Video) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordLoopStarted(ctx)
		defer c.deps.Metrics.RecordLoopStopped(context.WithoutCancel(ctx))
	}

	if v.Status.IsPreJob() {
		started, err := c.start(ctx, v)
		if err != nil || started == nil {
			return
		}
		v = started
	}
	c.poll(ctx, v)
}

// start submits the job for a pre-job video and moves it into the job
// window. Returns nil with a nil error when the video should be retried on
// a later discovery.
func (c *Controller) start(ctx context.Context, v *video.Video) (*video.Video, error) {
	logger := slog.With("videoId", v.ID)

	adapter, err := c.deps.Downloaders.ForVideo(v)
	if err != nil {
		c.fail(ctx, v, err)
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil
	}

	_, err = adapter.InitJob(ctx, "", v, c.cfg.UseCookiesFile)
	if errors.Is(err, apperrors.ErrStateConflict) {
		err = c.reuse(ctx, v, adapter, err)
	}
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrValidation):
		c.fail(ctx, v, err)
		return nil, err
	default:
		if ctx.Err() == nil {
			logger.Warn("Job submission deferred", "error", err)
		}
		return nil, nil
	}

	to, _ := video.InJobStatusFor(v.Status)
	updated, err := c.write(ctx, video.StatusUpdate{ID: v.ID, From: v.Status, To: to, At: c.now()})
	if err != nil {
		logger.Error("Job submitted but status write failed", "to", to, "error", err)
		return nil, err
	}
	if updated.Downloader == "" {
		updated.Downloader = adapter.Name()
	}
	return updated, nil
}

// reuse handles a submission refused because a job with the video's name
// already exists. A job that is still active, or finished after the video
// entered its current status, was submitted for this attempt before a crash
// lost the status write, and is adopted. A job that finished earlier is left
// over from a previous attempt; it is removed and a fresh one submitted.
func (c *Controller) reuse(ctx context.Context, v *video.Video, adapter downloader.Adapter, conflict error) error {
	name := job.Name(v.ID, adapter.Name())
	logger := slog.With("videoId", v.ID, "job", name)

	obs, err := c.deps.Orchestrator.Observe(ctx, name)
	if err != nil {
		return err
	}
	switch {
	case obs.Phase == job.PhaseNotFound:
		// Refused for another reason, e.g. the video left the pre-job window.
		return conflict
	case !obs.Phase.IsTerminal() || obs.FinishedAt.IsZero() || obs.FinishedAt.After(v.UpdatedAt):
		logger.Warn("Adopting existing job", "phase", obs.Phase)
		return nil
	}

	logger.Info("Replacing job left over from an earlier attempt", "phase", obs.Phase, "finishedAt", obs.FinishedAt)
	if err := c.deps.Orchestrator.RemoveCompletedJob(ctx, name); err != nil {
		return err
	}
	_, err = adapter.InitJob(ctx, "", v, c.cfg.UseCookiesFile)
	return err
}

// fail moves a pre-job video to Error when it can never be submitted.
func (c *Controller) fail(ctx context.Context, v *video.Video, cause error) {
	slog.Error("Video cannot be recorded", "videoId", v.ID, "error", cause)
	_, err := c.write(ctx, video.StatusUpdate{ID: v.ID, From: v.Status, To: video.StatusError, Note: cause.Error(), At: c.now()})
	if err != nil {
		slog.Error("Failed to mark video as error", "videoId", v.ID, "error", err)
	}
}

// write applies a status update detached from cancellation and notifies.
func (c *Controller) write(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	updated, err := c.deps.Videos.UpdateStatus(writeCtx, u)
	if err != nil {
		return nil, err
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordTransition(writeCtx, string(u.From), string(u.To))
	}
	c.notify(writeCtx, updated, u.From)
	return updated, nil
}

func (c *Controller) notify(ctx context.Context, v *video.Video, from video.Status) {
	if c.deps.Notifier != nil {
		c.deps.Notifier.VideoTransitioned(ctx, v, from)
	}
}

// poll observes the job of an in-job video until it settles.
func (c *Controller) poll(ctx context.Context, v *video.Video) {
	logger := slog.With("videoId", v.ID, "status", v.Status)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := c.deps.Orchestrator.Settle(ctx, v)
		switch {
		case err == nil && res.Transitioned:
			c.notify(context.WithoutCancel(ctx), res.Video, v.Status)
			c.remove(ctx, res.Video)
			return

		case errors.Is(err, apperrors.ErrNotDetermined):

		case errors.Is(err, apperrors.ErrJobNotFound):
			c.escalateMissing(ctx, v, err)
			return

		case errors.Is(err, apperrors.ErrStateConflict):
			logger.Warn("Video left the job window elsewhere, stopping", "error", err)
			return

		case ctx.Err() != nil:
			return

		default:
			logger.Warn("Poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// escalateMissing reports an in-job video whose job does not exist. The
// status is left for an operator to decide.
func (c *Controller) escalateMissing(ctx context.Context, v *video.Video, err error) {
	var name string
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		name = appErr.ID
	}
	slog.Error("Job missing for in-job video", "videoId", v.ID, "job", name, "status", v.Status)
	downloader, _ := c.deps.Downloaders.DownloaderFor(v)
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordJobNotFound(ctx, downloader)
	}
	if c.deps.Notifier != nil {
		c.deps.Notifier.JobMissing(context.WithoutCancel(ctx), v, name)
	}
}

// remove reclaims the finished job of v. Failures are left to the sweep.
func (c *Controller) remove(ctx context.Context, v *video.Video) {
	err := job.Retry(ctx, c.cfg.RemoveRetry, "orchestrator.remove", func(ctx context.Context) error {
		return c.deps.Orchestrator.RemoveCompletedJobs(ctx, v)
	})
	if err != nil {
		slog.Warn("Failed to remove completed job", "videoId", v.ID, "error", err)
	}
}

// sweep removes finished jobs whose video already left the job window and
// resumes loops for in-job videos nobody is polling. A job whose phase
// stays unknown for the grace period is removed as abandoned; the first
// sighting is counted from this process's start.
func (c *Controller) sweep(ctx context.Context, g *errgroup.Group) {
	logger := slog.With("component", "sweep")
	listings, err := c.deps.Lister.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Failed to list jobs", "error", err)
		}
		return
	}

	now := c.now()
	unknown := make(map[string]bool)
	var removed int
	for _, l := range listings {
		if ctx.Err() != nil {
			return
		}
		if l.VideoID == "" || c.tracked(l.VideoID) {
			continue
		}

		v, err := c.deps.Videos.Get(ctx, l.VideoID)
		switch {
		case err == nil && v.Status.IsInJob():
			c.launch(ctx, g, v)
			continue
		case err == nil && v.Status.IsPreJob():
			// Discovery starts the video and decides whether to adopt the job.
			continue
		case err != nil && !errors.Is(err, apperrors.ErrNotFound):
			logger.Warn("Failed to load video for job", "job", l.Name, "error", err)
			continue
		}

		var remove func(context.Context, string) error
		switch {
		case l.Phase.IsTerminal():
			if l.FinishedAt.IsZero() || now.Sub(l.FinishedAt) < c.cfg.SweepGrace {
				continue
			}
			remove = c.deps.Orchestrator.RemoveCompletedJob
		case l.Phase == job.PhaseUnknown:
			unknown[l.Name] = true
			since, ok := c.unknownSince[l.Name]
			if !ok {
				c.unknownSince[l.Name] = now
				continue
			}
			if now.Sub(since) < c.cfg.SweepGrace {
				continue
			}
			remove = c.deps.Orchestrator.RemoveAbandonedJob
		default:
			continue
		}
		if err := remove(ctx, l.Name); err != nil {
			logger.Warn("Failed to remove orphaned job", "job", l.Name, "phase", l.Phase, "error", err)
			continue
		}
		delete(c.unknownSince, l.Name)
		removed++
	}
	for name := range c.unknownSince {
		if !unknown[name] {
			delete(c.unknownSince, name)
		}
	}
	if removed > 0 {
		logger.Info("Sweep complete", "removed", removed)
	}
}
