package downloader

import (
	"context"
	"errors"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"recorder/internal/repository"
	"recorder/internal/storage"
	"recorder/internal/testutil"
	"recorder/internal/video"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeVolume struct {
	ensureErr []error
	ensures   atomic.Int64
}

func (f *fakeVolume) Name() string { return "fake-volume" }

func (f *fakeVolume) Ensure(ctx context.Context) error {
	n := f.ensures.Add(1)
	if int(n) <= len(f.ensureErr) {
		return f.ensureErr[n-1]
	}
	return nil
}

func (f *fakeVolume) Mount(target string) job.Mount {
	return job.Mount{Kind: job.MountDockerVolume, Source: "recorder-data", Target: target}
}

func (f *fakeVolume) Close() error { return nil }

type fixture struct {
	compute  *testutil.Compute
	volume   *fakeVolume
	videos   *repository.Memory
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dest, err := storage.NewLocal(storage.LocalConfig{Path: "/archive"})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	f := &fixture{
		compute: testutil.NewCompute(),
		volume:  &fakeVolume{},
		videos:  repository.NewMemory(),
	}
	deps := Deps{
		Compute: f.compute,
		Volume:  f.volume,
		Storage: dest,
		Videos:  f.videos,
		Retry:   job.RetryConfig{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond},
	}
	cfg := Config{
		Images:     map[string]string{NameYtdlp: "ytdlp:test"},
		CPU:        1,
		Memory:     512,
		Timeout:    2 * time.Hour,
		MountPath:  "/data",
		OutputDir:  "recordings",
		CookiesDir: "cookies",
	}
	f.registry, err = New(deps, cfg, NameYtdlp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) put(t *testing.T, v *video.Video) *video.Video {
	t.Helper()
	if err := f.videos.Put(context.Background(), v); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return v
}

func (f *fixture) adapter(t *testing.T, name string) Adapter {
	t.Helper()
	a, err := f.registry.Get(name)
	if err != nil {
		t.Fatalf("Get(%s): %v", name, err)
	}
	return a
}

func TestInitJob_Submits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	v := f.put(t, &video.Video{ID: "abc", URL: "https://www.youtube.com/watch?v=abc", Source: "youtube", Status: video.StatusWaitingToRecord})

	handle, err := f.adapter(t, NameYtdlp).InitJob(ctx, "", v, false)
	if err != nil {
		t.Fatalf("InitJob: %v", err)
	}

	want := &job.Handle{Name: "ytdlp-abc", BackendID: "fake-ytdlp-abc", Downloader: NameYtdlp, VideoID: "abc"}
	if diff := cmp.Diff(want, handle); diff != "" {
		t.Errorf("Handle mismatch (-want +got):\n%s", diff)
	}
	if f.volume.ensures.Load() != 1 {
		t.Errorf("Expected the shared volume to be ensured once, got %d", f.volume.ensures.Load())
	}

	spec, ok := f.compute.Spec("ytdlp-abc")
	if !ok {
		t.Fatal("Expected job to be submitted")
	}
	if spec.Image != "ytdlp:test" {
		t.Errorf("Image = %s, want ytdlp:test", spec.Image)
	}
	if spec.Args[len(spec.Args)-1] != v.URL {
		t.Errorf("Expected URL as last argument, got %v", spec.Args)
	}
	if slices.Contains(spec.Args, "--cookies") {
		t.Error("Cookies must not be passed when not requested")
	}
	if spec.Environment[storage.EnvTarget] != "/archive/abc" || spec.Environment["OUTPUT_DIR"] != "/data/recordings" {
		t.Errorf("Unexpected environment: %v", spec.Environment)
	}
	if spec.TimeoutSeconds != 7200 {
		t.Errorf("TimeoutSeconds = %d, want 7200", spec.TimeoutSeconds)
	}
	if spec.Labels[job.LabelManagedBy] != job.ManagedByValue || spec.Labels[job.LabelVideoID] != "abc" {
		t.Errorf("Unexpected labels: %v", spec.Labels)
	}
	if diff := cmp.Diff([]job.Mount{{Kind: job.MountDockerVolume, Source: "recorder-data", Target: "/data"}}, spec.Mounts); diff != "" {
		t.Errorf("Mounts mismatch (-want +got):\n%s", diff)
	}

	stored, err := f.videos.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Downloader != NameYtdlp {
		t.Errorf("Downloader = %q, want %q", stored.Downloader, NameYtdlp)
	}
	if stored.Status != video.StatusWaitingToRecord {
		t.Errorf("InitJob must not change the status, got %s", stored.Status)
	}
}

func TestInitJob_Cookies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		useCookies  bool
		cookiesFile string
		wantCookies bool
		wantPath    string
	}{
		{"requested and present", true, "youtube.txt", true, "/data/cookies/youtube.txt"},
		{"requested but absent", true, "", false, ""},
		{"present but not requested", false, "youtube.txt", false, ""},
		{"dots inside the name", true, "a..b.txt", true, "/data/cookies/a..b.txt"},
		{"redundant segments", true, "accounts/../youtube.txt", true, "/data/cookies/youtube.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Source: "youtube", Status: video.StatusWaitingToRecord, CookiesFile: tt.cookiesFile})

			if _, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, tt.useCookies); err != nil {
				t.Fatalf("InitJob: %v", err)
			}
			spec, _ := f.compute.Spec("ytdlp-abc")
			idx := slices.Index(spec.Args, "--cookies")
			if got := idx >= 0; got != tt.wantCookies {
				t.Fatalf("cookies passed = %v, want %v (args %v)", got, tt.wantCookies, spec.Args)
			}
			if tt.wantCookies {
				if spec.Args[idx+1] != tt.wantPath {
					t.Errorf("Cookie path = %s, want %s", spec.Args[idx+1], tt.wantPath)
				}
				if spec.Environment["COOKIES_FILE"] != tt.wantPath {
					t.Errorf("COOKIES_FILE = %s", spec.Environment["COOKIES_FILE"])
				}
			}
		})
	}
}

func TestInitJob_RejectsCookiePathEscape(t *testing.T) {
	t.Parallel()
	for _, file := range []string{"../secrets.txt", "..", "accounts/../../secrets.txt", "/etc/passwd"} {
		t.Run(file, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord, CookiesFile: file})
			_, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, true)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("Expected validation error, got %v", err)
			}
			if f.compute.Submits.Load() != 0 {
				t.Error("Expected no submission")
			}
		})
	}
}

func TestInitJob_RequiresPreJobStatus(t *testing.T) {
	t.Parallel()
	for _, status := range []video.Status{video.StatusRecording, video.StatusUploading, video.StatusScheduled, video.StatusArchived} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: status})
			_, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false)
			if !errors.Is(err, apperrors.ErrStateConflict) {
				t.Fatalf("Expected state conflict, got %v", err)
			}
			if f.compute.Polls.Load() != 0 || f.compute.Submits.Load() != 0 {
				t.Error("Expected no backend calls")
			}
		})
	}
}

func TestInitJob_ExistingJobIsNotResubmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord})
	f.compute.Script("ytdlp-abc", job.PhaseRunning)

	_, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false)
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Fatalf("Expected state conflict, got %v", err)
	}
	if f.compute.Submits.Load() != 0 {
		t.Errorf("Expected no second submission, got %d", f.compute.Submits.Load())
	}
}

func TestInitJob_LostAckIsNotResubmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord})
	f.compute.LoseAcks(apperrors.Transient("compute.submit", context.DeadlineExceeded))

	handle, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false)
	if err != nil {
		t.Fatalf("InitJob: %v", err)
	}
	if handle.Name != "ytdlp-abc" {
		t.Errorf("Handle name = %s", handle.Name)
	}
	if f.compute.Submits.Load() != 1 {
		t.Errorf("Expected exactly one submission, got %d", f.compute.Submits.Load())
	}
}

func TestInitJob_TransientSubmitRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord})
	// First call is the existence probe; the second fails the submit.
	f.compute.FailNext(nil, apperrors.Transient("compute.submit", errors.New("connection refused")))

	if _, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false); err != nil {
		t.Fatalf("InitJob: %v", err)
	}
	if !f.compute.Exists("ytdlp-abc") {
		t.Error("Expected job after retry")
	}
}

func TestInitJob_NonTransientSubmitFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord})
	f.compute.FailNext(nil, apperrors.Internal("compute.submit", errors.New("quota exceeded")))

	_, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false)
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("Expected internal error, got %v", err)
	}
	stored, _ := f.videos.Get(context.Background(), "abc")
	if stored.Downloader != "" {
		t.Error("Downloader must only be recorded after a successful submission")
	}
}

func TestInitJob_VolumeNotReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.volume.ensureErr = []error{apperrors.NotFound("volume", "recorder-data")}
	v := f.put(t, &video.Video{ID: "abc", URL: "https://youtu.be/abc", Status: video.StatusWaitingToRecord})

	_, err := f.adapter(t, NameYtdlp).InitJob(context.Background(), "", v, false)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if f.compute.Submits.Load() != 0 {
		t.Error("Expected no submission without a ready volume")
	}
}

func TestInitJob_URLOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v := f.put(t, &video.Video{ID: "abc", Source: "twitch", Status: video.StatusWaitingToDownload})

	if _, err := f.adapter(t, NameStreamlink).InitJob(context.Background(), "", v, false); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Expected validation error without URL, got %v", err)
	}
	if _, err := f.adapter(t, NameStreamlink).InitJob(context.Background(), "https://twitch.tv/videos/abc", v, false); err != nil {
		t.Fatalf("InitJob: %v", err)
	}
	spec, _ := f.compute.Spec("streamlink-abc")
	want := []string{"--output", "/data/recordings/abc.ts", "--hls-live-restart", "--retry-open", "3", "https://twitch.tv/videos/abc", "best"}
	if diff := cmp.Diff(want, spec.Args); diff != "" {
		t.Errorf("Args mismatch (-want +got):\n%s", diff)
	}
}

func TestToolArgs(t *testing.T) {
	t.Parallel()
	inv := invocation{URL: "https://live.fc2.com/123/", VideoID: "123", OutputDir: "/data/recordings", CookiesPath: "/data/cookies/fc2.txt"}

	fc2Args := fc2.args(inv)
	if !slices.Contains(fc2Args, "--cookies") || fc2Args[len(fc2Args)-1] != inv.URL {
		t.Errorf("Unexpected fc2 args: %v", fc2Args)
	}
	if diff := cmp.Diff([]string{"https://twitcasting.tv/user"}, twitcasting.args(invocation{URL: "https://twitcasting.tv/user"})); diff != "" {
		t.Errorf("twitcasting args mismatch (-want +got):\n%s", diff)
	}
}
