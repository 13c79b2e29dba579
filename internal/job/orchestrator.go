package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/observability"
	"recorder/internal/video"
	"sync"
	"time"
)

// statusWriteTimeout bounds a status write that has been started. The
// write runs detached from the caller's cancellation so it is either
// applied fully or not attempted.
const statusWriteTimeout = 10 * time.Second

// Adapters resolves the downloader for a video and classifies failed jobs.
// Implemented by the downloader registry.
type Adapters interface {
	// DownloaderFor resolves the adapter name from data stored on the video.
	DownloaderFor(v *video.Video) (string, error)

	// Classify maps a failed observation to a failure terminal status.
	Classify(downloader string, obs *Observation) video.Status
}

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	Compute   Compute
	Videos    video.Repository
	Adapters  Adapters
	Metrics   *observability.Metrics // optional
	Retry     RetryConfig
	Ambiguous int // observations of PhaseUnknown tolerated before escalating (required)
	Clock     func() time.Time
}

// Orchestrator decides job success or failure and reclaims finished jobs.
// It holds no job state apart from the ambiguous-phase counters; the
// compute backend is the source of truth for jobs and the repository for
// videos.
type Orchestrator struct {
	compute   Compute
	videos    video.Repository
	adapters  Adapters
	metrics   *observability.Metrics
	retry     RetryConfig
	ambiguous *ambiguityTracker
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Compute == nil {
		return nil, fmt.Errorf("compute backend is required")
	}
	if cfg.Videos == nil {
		return nil, fmt.Errorf("video repository is required")
	}
	if cfg.Adapters == nil {
		return nil, fmt.Errorf("downloader adapters are required")
	}
	if cfg.Ambiguous <= 0 {
		return nil, apperrors.Validation("ambiguousPhaseBudget", "ambiguous phase budget must be greater than zero")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		compute:   cfg.Compute,
		videos:    cfg.Videos,
		adapters:  cfg.Adapters,
		metrics:   cfg.Metrics,
		retry:     cfg.Retry,
		ambiguous: newAmbiguityTracker(cfg.Ambiguous),
		now:       now,
	}, nil
}

// JobName resolves the deterministic job name for a video.
func (o *Orchestrator) JobName(v *video.Video) (string, error) {
	downloader, err := o.adapters.DownloaderFor(v)
	if err != nil {
		return "", err
	}
	return Name(v.ID, downloader), nil
}

// Observe reads a job's phase, retrying transient backend failures.
func (o *Orchestrator) Observe(ctx context.Context, name string) (*Observation, error) {
	var obs *Observation
	start := time.Now()
	err := Retry(ctx, o.retry, "compute.observe", func(ctx context.Context) error {
		var err error
		obs, err = o.compute.Observe(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	if obs.Name == "" {
		obs.Name = name
	}
	if o.metrics != nil {
		o.metrics.RecordPoll(ctx, o.compute.Name(), string(obs.Phase), time.Since(start).Seconds())
	}
	return obs, nil
}

// IsJobSucceeded reports whether the job for v has succeeded.
//
// Returns (true, nil) only on an observed PhaseSucceeded and (false, nil)
// while the job runs. Every other outcome is an error the caller must
// classify: ErrJobNotFound, ErrJobFailed, ErrNotDetermined (poll again) or
// ErrAmbiguousPhase (observation budget exhausted).
func (o *Orchestrator) IsJobSucceeded(ctx context.Context, v *video.Video) (bool, error) {
	name, err := o.JobName(v)
	if err != nil {
		return false, err
	}
	return o.IsJobSucceededByKeyword(ctx, name)
}

// IsJobSucceededByKeyword is IsJobSucceeded for an explicit job name.
func (o *Orchestrator) IsJobSucceededByKeyword(ctx context.Context, keyword string) (bool, error) {
	if keyword == "" {
		return false, apperrors.Validation("keyword", "job keyword is required")
	}
	obs, err := o.Observe(ctx, keyword)
	if err != nil {
		return false, err
	}
	return o.interpret(obs)
}

// interpret turns one observation into the IsJobSucceeded result.
func (o *Orchestrator) interpret(obs *Observation) (bool, error) {
	switch obs.Phase {
	case PhaseSucceeded:
		o.ambiguous.reset(obs.Name)
		return true, nil
	case PhaseRunning:
		o.ambiguous.reset(obs.Name)
		return false, nil
	case PhasePending:
		o.ambiguous.reset(obs.Name)
		return false, apperrors.NotDetermined(obs.Name, string(obs.Phase))
	case PhaseFailed:
		o.ambiguous.reset(obs.Name)
		return false, apperrors.JobFailed(obs.Name, failureReason(obs))
	case PhaseNotFound:
		return false, apperrors.JobNotFound(obs.Name)
	default:
		n, exhausted := o.ambiguous.observe(obs.Name)
		if exhausted {
			return false, apperrors.Ambiguous(obs.Name, string(obs.Phase), n)
		}
		return false, apperrors.NotDetermined(obs.Name, string(obs.Phase))
	}
}

// Settlement is the result of Settle.
type Settlement struct {
	JobName      string
	Observation  *Observation
	Video        *video.Video // updated video when Transitioned
	Transitioned bool
}

// Settle observes the job of an in-job video and, when the outcome is
// known, writes the transition out of the in-job status: Uploading on
// success, the adapter's classified terminal on failure, Error when the
// ambiguous budget is exhausted.
//
// While the outcome is unknown the video is left unchanged and the error
// wraps ErrNotDetermined. A missing job returns ErrJobNotFound with the
// video unchanged. If another writer already moved the video out of its
// in-job status, ErrStateConflict is returned and nothing is written.
func (o *Orchestrator) Settle(ctx context.Context, v *video.Video) (*Settlement, error) {
	if !v.Status.IsInJob() {
		return nil, apperrors.StateConflict(v.ID, fmt.Sprintf("video is %s, not in a job", v.Status))
	}

	downloader, err := o.adapters.DownloaderFor(v)
	if err != nil {
		return nil, err
	}
	name := Name(v.ID, downloader)

	obs, err := o.Observe(ctx, name)
	if err != nil {
		return nil, err
	}
	res := &Settlement{JobName: name, Observation: obs}

	succeeded, err := o.interpret(obs)
	var to video.Status
	var note string
	switch {
	case succeeded:
		to = video.StatusUploading
	case err == nil:
		return res, apperrors.NotDetermined(name, string(obs.Phase))
	case errors.Is(err, apperrors.ErrJobFailed):
		to = o.adapters.Classify(downloader, obs)
		note = err.Error()
	case errors.Is(err, apperrors.ErrAmbiguousPhase):
		to = video.StatusError
		note = err.Error()
	default:
		return res, err
	}

	updated, err := o.writeStatus(ctx, video.StatusUpdate{
		ID:   v.ID,
		From: v.Status,
		To:   to,
		Note: note,
		At:   o.now(),
	})
	if err != nil {
		return res, err
	}
	res.Video = updated
	res.Transitioned = true

	if o.metrics != nil {
		o.metrics.RecordJobCompleted(ctx, downloader, string(to), jobDuration(v, o.now()))
	}
	slog.Info("Job settled", "videoId", v.ID, "job", name, "phase", obs.Phase, "status", to)
	return res, nil
}

// writeStatus applies a status update detached from caller cancellation.
func (o *Orchestrator) writeStatus(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	updated, err := o.videos.UpdateStatus(writeCtx, u)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordTransition(ctx, string(u.From), string(u.To))
	}
	return updated, nil
}

// RemoveCompletedJobs deletes the job of v once a terminal phase has been
// observed. It is idempotent: a job that no longer exists is not an error.
// A job that is still active is never deleted and yields ErrStateConflict.
func (o *Orchestrator) RemoveCompletedJobs(ctx context.Context, v *video.Video) error {
	name, err := o.JobName(v)
	if err != nil {
		return err
	}
	return o.RemoveCompletedJob(ctx, name)
}

// RemoveCompletedJob is RemoveCompletedJobs for an explicit job name.
func (o *Orchestrator) RemoveCompletedJob(ctx context.Context, name string) error {
	return o.remove(ctx, name, false)
}

// RemoveAbandonedJob removes a job nobody settles any more, such as one
// whose video already reached a failure terminal. Unlike
// RemoveCompletedJob it also removes a job stuck in PhaseUnknown without
// an exhausted budget, which is lost on restart. Pending and Running jobs
// are still refused.
func (o *Orchestrator) RemoveAbandonedJob(ctx context.Context, name string) error {
	return o.remove(ctx, name, true)
}

func (o *Orchestrator) remove(ctx context.Context, name string, abandoned bool) error {
	logger := slog.With("job", name)

	obs, err := o.Observe(ctx, name)
	if err != nil {
		return err
	}

	switch {
	case obs.Phase == PhaseNotFound:
		o.ambiguous.reset(name)
		logger.Debug("Job already removed")
		return nil
	case obs.Phase.IsTerminal():
	case obs.Phase == PhaseUnknown && o.ambiguous.exhausted(name):
		// Escalated as Error; the resource would otherwise leak.
		logger.Warn("Removing job with ambiguous phase after escalation")
	case obs.Phase == PhaseUnknown && abandoned:
		logger.Warn("Removing abandoned job with unknown phase")
	default:
		return apperrors.JobStateConflict(name, fmt.Sprintf("phase %s is not terminal, refusing to remove", obs.Phase))
	}

	err = Retry(ctx, o.retry, "compute.delete", func(ctx context.Context) error {
		return o.compute.Delete(ctx, name)
	})
	if err != nil {
		logger.Error("Failed to remove job", "error", err)
		return err
	}
	o.ambiguous.reset(name)
	if o.metrics != nil {
		o.metrics.RecordJobRemoved(ctx, o.compute.Name())
	}
	logger.Info("Job removed", "phase", obs.Phase)
	return nil
}

func failureReason(obs *Observation) string {
	switch {
	case obs.ExitCode != nil && obs.Reason != "":
		return fmt.Sprintf("exit code %d (%s)", *obs.ExitCode, obs.Reason)
	case obs.ExitCode != nil:
		return fmt.Sprintf("exit code %d", *obs.ExitCode)
	default:
		return obs.Reason
	}
}

func jobDuration(v *video.Video, now time.Time) float64 {
	if v.RecordedAt == nil {
		return 0
	}
	return now.Sub(*v.RecordedAt).Seconds()
}

// ambiguityTracker counts consecutive PhaseUnknown observations per job.
type ambiguityTracker struct {
	mu     sync.Mutex
	budget int
	counts map[string]int
}

func newAmbiguityTracker(budget int) *ambiguityTracker {
	return &ambiguityTracker{budget: budget, counts: make(map[string]int)}
}

func (t *ambiguityTracker) observe(name string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[name]++
	n := t.counts[name]
	return n, n > t.budget
}

func (t *ambiguityTracker) exhausted(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[name] > t.budget
}

func (t *ambiguityTracker) reset(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, name)
}
