package job_test

import (
	"context"
	"errors"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"recorder/internal/repository"
	"recorder/internal/testutil"
	"recorder/internal/video"
	"strings"
	"testing"
	"time"
)

// stubAdapters resolves every video to ytdlp and classifies failures by
// exit code.
type stubAdapters struct{}

func (stubAdapters) DownloaderFor(v *video.Video) (string, error) {
	if v.Downloader != "" {
		return v.Downloader, nil
	}
	return "ytdlp", nil
}

func (stubAdapters) Classify(downloader string, obs *job.Observation) video.Status {
	if obs.ExitCode != nil && *obs.ExitCode == 3 {
		return video.StatusMissing
	}
	return video.StatusError
}

type fixture struct {
	orch    *job.Orchestrator
	compute *testutil.Compute
	videos  *repository.Memory
}

func newFixture(t *testing.T, budget int) *fixture {
	t.Helper()
	compute := testutil.NewCompute()
	videos := repository.NewMemory()
	orch, err := job.NewOrchestrator(job.OrchestratorConfig{
		Compute:   compute,
		Videos:    videos,
		Adapters:  stubAdapters{},
		Retry:     job.RetryConfig{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
		Ambiguous: budget,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &fixture{orch: orch, compute: compute, videos: videos}
}

func (f *fixture) put(t *testing.T, id string, status video.Status) *video.Video {
	t.Helper()
	v := &video.Video{ID: id, Source: "youtube", Downloader: "ytdlp", Status: status, UpdatedAt: time.Now()}
	if err := f.videos.Put(context.Background(), v); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return v
}

func (f *fixture) status(t *testing.T, id string) video.Status {
	t.Helper()
	v, err := f.videos.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return v.Status
}

func TestNewOrchestrator_RequiresBudget(t *testing.T) {
	t.Parallel()
	_, err := job.NewOrchestrator(job.OrchestratorConfig{
		Compute:  testutil.NewCompute(),
		Videos:   repository.NewMemory(),
		Adapters: stubAdapters{},
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

func TestIsJobSucceeded_Phases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		phase   job.Phase
		want    bool
		wantErr error
	}{
		{"succeeded", job.PhaseSucceeded, true, nil},
		{"running", job.PhaseRunning, false, nil},
		{"pending", job.PhasePending, false, apperrors.ErrNotDetermined},
		{"failed", job.PhaseFailed, false, apperrors.ErrJobFailed},
		{"unknown within budget", job.PhaseUnknown, false, apperrors.ErrNotDetermined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 3)
			v := f.put(t, "v123", video.StatusRecording)
			f.compute.Script("ytdlp-v123", tt.phase)

			got, err := f.orch.IsJobSucceeded(context.Background(), v)
			if got != tt.want {
				t.Errorf("IsJobSucceeded = %v, want %v", got, tt.want)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsJobSucceeded_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	v := f.put(t, "v404", video.StatusRecording)

	ok, err := f.orch.IsJobSucceeded(context.Background(), v)
	if ok {
		t.Error("Expected false for missing job")
	}
	if !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestIsJobSucceededByKeyword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	f.compute.Script("custom-job", job.PhaseSucceeded)

	ok, err := f.orch.IsJobSucceededByKeyword(context.Background(), "custom-job")
	if err != nil || !ok {
		t.Fatalf("Expected success, got %v, %v", ok, err)
	}

	_, err = f.orch.IsJobSucceededByKeyword(context.Background(), "")
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Expected ErrValidation for empty keyword, got %v", err)
	}
}

func TestIsJobSucceeded_RetriesTransient(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseSucceeded)
	f.compute.FailNext(apperrors.Transient("observe", errors.New("timeout")))

	ok, err := f.orch.IsJobSucceeded(context.Background(), v)
	if err != nil || !ok {
		t.Fatalf("Expected success after retry, got %v, %v", ok, err)
	}
	if f.compute.Polls.Load() != 2 {
		t.Errorf("Expected 2 polls, got %d", f.compute.Polls.Load())
	}
}

func TestSettle_SuccessThenRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseRunning, job.PhaseSucceeded)

	// Never reports success while the job runs.
	if _, err := f.orch.Settle(ctx, v); !errors.Is(err, apperrors.ErrNotDetermined) {
		t.Fatalf("Expected ErrNotDetermined while running, got %v", err)
	}
	if got := f.status(t, "v123"); got != video.StatusRecording {
		t.Fatalf("Expected Recording while running, got %s", got)
	}

	res, err := f.orch.Settle(ctx, v)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !res.Transitioned || res.Video.Status != video.StatusUploading {
		t.Fatalf("Expected transition to Uploading, got %+v", res)
	}
	if got := f.status(t, "v123"); got != video.StatusUploading {
		t.Fatalf("Expected Uploading, got %s", got)
	}

	if err := f.orch.RemoveCompletedJobs(ctx, v); err != nil {
		t.Fatalf("RemoveCompletedJobs: %v", err)
	}
	if f.compute.Exists("ytdlp-v123") {
		t.Error("Expected job to be deleted")
	}
	// Idempotent.
	if err := f.orch.RemoveCompletedJobs(ctx, v); err != nil {
		t.Fatalf("Second RemoveCompletedJobs: %v", err)
	}
	if f.compute.Deletes.Load() != 1 {
		t.Errorf("Expected 1 delete, got %d", f.compute.Deletes.Load())
	}
}

func TestSettle_FailureClassifiedAndRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseFailed)
	f.compute.Exit("ytdlp-v123", 1, "ERROR: unable to download")

	res, err := f.orch.Settle(ctx, v)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Video.Status != video.StatusError {
		t.Fatalf("Expected Error, got %s", res.Video.Status)
	}
	if !strings.Contains(res.Video.Note, "exit code 1") {
		t.Errorf("Expected note with exit code, got %q", res.Video.Note)
	}

	if err := f.orch.RemoveCompletedJobs(ctx, v); err != nil {
		t.Fatalf("RemoveCompletedJobs: %v", err)
	}
	if f.compute.Exists("ytdlp-v123") {
		t.Error("Expected failed job to be deleted")
	}
}

func TestSettle_FailureUsesAdapterClassification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseFailed)
	f.compute.Exit("ytdlp-v123", 3, "stream is not live")

	res, err := f.orch.Settle(context.Background(), v)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Video.Status != video.StatusMissing {
		t.Fatalf("Expected Missing, got %s", res.Video.Status)
	}
}

func TestSettle_JobNotFoundLeavesVideo(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusDownloading)

	_, err := f.orch.Settle(context.Background(), v)
	if !errors.Is(err, apperrors.ErrJobNotFound) {
		t.Fatalf("Expected ErrJobNotFound, got %v", err)
	}
	if got := f.status(t, "v123"); got != video.StatusDownloading {
		t.Fatalf("Expected status unchanged, got %s", got)
	}
}

func TestSettle_NoDoubleTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseSucceeded)

	if _, err := f.orch.Settle(ctx, v); err != nil {
		t.Fatalf("First Settle: %v", err)
	}
	// v is the stale in-job snapshot; the store already moved on.
	_, err := f.orch.Settle(ctx, v)
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	if got := f.status(t, "v123"); got != video.StatusUploading {
		t.Fatalf("Expected Uploading, got %s", got)
	}
}

func TestSettle_RejectsVideoOutsideJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusWaitingToRecord)

	_, err := f.orch.Settle(context.Background(), v)
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	if f.compute.Polls.Load() != 0 {
		t.Error("Expected no backend call")
	}
}

func TestSettle_AmbiguousBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 3)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseUnknown)

	// The budget counts tolerated observations; the next one escalates.
	for i := range 3 {
		_, err := f.orch.Settle(ctx, v)
		if !errors.Is(err, apperrors.ErrNotDetermined) {
			t.Fatalf("Observation %d: expected ErrNotDetermined, got %v", i+1, err)
		}
	}

	// Removal refused before the budget is spent.
	if err := f.orch.RemoveCompletedJobs(ctx, v); !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict before escalation, got %v", err)
	}

	res, err := f.orch.Settle(ctx, v)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Video.Status != video.StatusError {
		t.Fatalf("Expected Error after budget, got %s", res.Video.Status)
	}

	if err := f.orch.RemoveCompletedJobs(ctx, v); err != nil {
		t.Fatalf("RemoveCompletedJobs after escalation: %v", err)
	}
	if f.compute.Exists("ytdlp-v123") {
		t.Error("Expected ambiguous job to be deleted after escalation")
	}
}

func TestSettle_RunningResetsAmbiguity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 2)
	v := f.put(t, "v123", video.StatusRecording)
	f.compute.Script("ytdlp-v123", job.PhaseUnknown, job.PhaseRunning, job.PhaseUnknown, job.PhaseRunning)

	for range 4 {
		if _, err := f.orch.Settle(ctx, v); !errors.Is(err, apperrors.ErrNotDetermined) {
			t.Fatalf("Expected ErrNotDetermined, got %v", err)
		}
	}
	if got := f.status(t, "v123"); got != video.StatusRecording {
		t.Fatalf("Expected Recording, got %s", got)
	}
}

func TestRemoveCompletedJob_RefusesActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	f.compute.Script("ytdlp-v123", job.PhaseRunning)

	err := f.orch.RemoveCompletedJob(context.Background(), "ytdlp-v123")
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	if !f.compute.Exists("ytdlp-v123") {
		t.Error("Running job must not be deleted")
	}
}

func TestRemoveAbandonedJob(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		phase   job.Phase
		wantErr error
		removed bool
	}{
		{"unknown without escalation", job.PhaseUnknown, nil, true},
		{"failed", job.PhaseFailed, nil, true},
		{"running", job.PhaseRunning, apperrors.ErrStateConflict, false},
		{"pending", job.PhasePending, apperrors.ErrStateConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, 3)
			f.compute.Script("ytdlp-v123", tt.phase)

			err := f.orch.RemoveAbandonedJob(context.Background(), "ytdlp-v123")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("RemoveAbandonedJob: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if got := !f.compute.Exists("ytdlp-v123"); got != tt.removed {
				t.Errorf("removed = %v, want %v", got, tt.removed)
			}
		})
	}
}

func TestRemoveCompletedJob_RefusesUnknownBeforeEscalation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3)
	f.compute.Script("ytdlp-v123", job.PhaseUnknown)

	err := f.orch.RemoveCompletedJob(context.Background(), "ytdlp-v123")
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected ErrStateConflict, got %v", err)
	}
	if !f.compute.Exists("ytdlp-v123") {
		t.Error("Expected job to be kept")
	}
}
