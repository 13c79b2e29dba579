package docker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/google/go-cmp/cmp"
)

func TestObserveState(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	startedAt := now.Add(-2 * time.Hour).Format(time.RFC3339Nano)

	tests := []struct {
		name     string
		state    *container.State
		labels   map[string]string
		phase    job.Phase
		exitCode *int
		reason   string
	}{
		{"nil state", nil, nil, job.PhaseUnknown, nil, ""},
		{"created", &container.State{Status: "created"}, nil, job.PhasePending, nil, ""},
		{"running", &container.State{Status: "running", Running: true, StartedAt: startedAt}, nil, job.PhaseRunning, nil, ""},
		{
			"running within timeout",
			&container.State{Status: "running", Running: true, StartedAt: startedAt},
			map[string]string{labelTimeout: "86400"},
			job.PhaseRunning, nil, "",
		},
		{
			"running past timeout",
			&container.State{Status: "running", Running: true, StartedAt: startedAt},
			map[string]string{labelTimeout: "3600"},
			job.PhaseFailed, nil, reasonDeadlineExceeded,
		},
		{"exited zero", &container.State{Status: "exited", ExitCode: 0}, nil, job.PhaseSucceeded, intPtr(0), ""},
		{"exited non-zero", &container.State{Status: "exited", ExitCode: 3}, nil, job.PhaseFailed, intPtr(3), reasonError},
		{"oom killed", &container.State{Status: "exited", ExitCode: 137, OOMKilled: true}, nil, job.PhaseFailed, intPtr(137), reasonOOMKilled},
		{"paused", &container.State{Status: "paused", Running: true, Paused: true}, nil, job.PhaseRunning, nil, ""},
		{"restarting", &container.State{Status: "restarting", Running: true, Restarting: true}, nil, job.PhaseUnknown, nil, "restarting"},
		{"dead", &container.State{Status: "dead", Dead: true}, nil, job.PhaseUnknown, nil, "dead"},
		{"removing", &container.State{Status: "removing"}, nil, job.PhaseUnknown, nil, "removing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			obs := observeState(tt.state, tt.labels, now)
			if obs.Phase != tt.phase {
				t.Errorf("Phase = %s, want %s", obs.Phase, tt.phase)
			}
			if diff := cmp.Diff(tt.exitCode, obs.ExitCode); diff != "" {
				t.Errorf("ExitCode mismatch (-want +got):\n%s", diff)
			}
			if obs.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", obs.Reason, tt.reason)
			}
			if !obs.ObservedAt.Equal(now) {
				t.Errorf("ObservedAt = %v, want %v", obs.ObservedAt, now)
			}
		})
	}
}

func TestFinishedAt(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if got := finishedAt(&container.State{Status: "exited", FinishedAt: ts.Format(time.RFC3339Nano)}); !got.Equal(ts) {
		t.Errorf("finishedAt = %v, want %v", got, ts)
	}
	// Docker reports the zero time as 0001-01-01 for containers that never ran.
	if got := finishedAt(&container.State{Status: "created", FinishedAt: "0001-01-01T00:00:00Z"}); !got.IsZero() {
		t.Errorf("Expected zero time for unfinished container, got %v", got)
	}
	if got := finishedAt(&container.State{Running: true, FinishedAt: ts.Format(time.RFC3339Nano)}); !got.IsZero() {
		t.Errorf("Expected zero time for running container, got %v", got)
	}
}

func TestPhaseFromListState(t *testing.T) {
	t.Parallel()
	tests := map[string]job.Phase{
		"created":    job.PhasePending,
		"running":    job.PhaseRunning,
		"exited":     job.PhaseUnknown,
		"paused":     job.PhaseUnknown,
		"restarting": job.PhaseUnknown,
	}
	for state, want := range tests {
		if got := phaseFromListState(state); got != want {
			t.Errorf("phaseFromListState(%q) = %s, want %s", state, got, want)
		}
	}
}

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestReadLogTail(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write(frame(1, "line 1\nline 2\n"))
	buf.Write(frame(2, "ERROR: [youtube] abc: This live event will begin in 3 hours\r\n"))
	buf.Write(frame(1, ""))
	buf.Write(frame(1, "line 4\n"))

	got := readLogTail(&buf, 2)
	want := []string{"ERROR: [youtube] abc: This live event will begin in 3 hours", "line 4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readLogTail mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLogTail_TruncatedFrame(t *testing.T) {
	t.Parallel()
	data := frame(1, "complete\n")
	partial := frame(1, "partial payload")
	data = append(data, partial[:12]...)

	got := readLogTail(bytes.NewReader(data), 10)
	if diff := cmp.Diff([]string{"complete"}, got); diff != "" {
		t.Errorf("readLogTail mismatch (-want +got):\n%s", diff)
	}
}

func TestContainerConfig(t *testing.T) {
	t.Parallel()
	c := &Compute{cfg: Config{Network: "recorder", ExtraHosts: []string{"minio.local:host-gateway"}}}
	spec := &job.Spec{
		Name:        "ytdlp-abc",
		Image:       "ghcr.io/example/ytdlp:latest",
		Command:     []string{"yt-dlp"},
		Args:        []string{"--live-from-start", "https://www.youtube.com/watch?v=abc"},
		Environment: map[string]string{"B": "2", "A": "1"},
		Mounts: []job.Mount{
			{Kind: job.MountDockerVolume, Source: "recorder-data", Target: "/data"},
		},
		Labels:         map[string]string{job.LabelVideoID: "abc"},
		WorkingDir:     "/data",
		CPU:            1.5,
		Memory:         512,
		TimeoutSeconds: 7200,
	}

	cc, hc, err := c.containerConfig(spec)
	if err != nil {
		t.Fatalf("containerConfig: %v", err)
	}

	if diff := cmp.Diff([]string{"A=1", "B=2"}, cc.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if cc.Labels[labelTimeout] != "7200" {
		t.Errorf("Expected timeout label 7200, got %q", cc.Labels[labelTimeout])
	}
	if cc.Labels[job.LabelVideoID] != "abc" {
		t.Errorf("Expected video id label, got %q", cc.Labels[job.LabelVideoID])
	}
	if spec.Labels[labelTimeout] != "" {
		t.Error("containerConfig must not modify the spec labels")
	}
	if diff := cmp.Diff(spec.Command, []string(cc.Entrypoint)); diff != "" {
		t.Errorf("Entrypoint mismatch (-want +got):\n%s", diff)
	}

	wantMounts := []mount.Mount{{Type: mount.TypeVolume, Source: "recorder-data", Target: "/data"}}
	if diff := cmp.Diff(wantMounts, hc.Mounts); diff != "" {
		t.Errorf("Mounts mismatch (-want +got):\n%s", diff)
	}
	if hc.NanoCPUs != 1_500_000_000 {
		t.Errorf("NanoCPUs = %d, want 1500000000", hc.NanoCPUs)
	}
	if hc.Memory != 512*1024*1024 {
		t.Errorf("Memory = %d, want %d", hc.Memory, 512*1024*1024)
	}
	if string(hc.NetworkMode) != "recorder" {
		t.Errorf("NetworkMode = %q, want recorder", hc.NetworkMode)
	}
}

func TestContainerConfig_RejectsForeignMount(t *testing.T) {
	t.Parallel()
	c := &Compute{}
	spec := &job.Spec{
		Name:   "ytdlp-abc",
		Image:  "alpine",
		Mounts: []job.Mount{{Kind: job.MountPVC, Source: "claim", Target: "/data"}},
	}
	_, _, err := c.containerConfig(spec)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("inspect: %w", context.DeadlineExceeded), true},
		{"unavailable", cerrdefs.ErrUnavailable, true},
		{"not found", cerrdefs.ErrNotFound, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classify("docker.test", tt.err)
			if got := apperrors.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v (%v)", got, tt.transient, err)
			}
			if !tt.transient && !errors.Is(err, apperrors.ErrInternal) {
				t.Errorf("Expected internal error, got %v", err)
			}
		})
	}
}

func TestClassify_KeepsAppErrors(t *testing.T) {
	t.Parallel()
	in := apperrors.NotFound("image", "alpine")
	if got := classify("docker.pullImage", in); got != in {
		t.Errorf("Expected app error unchanged, got %v", got)
	}
}

func intPtr(v int) *int { return &v }
