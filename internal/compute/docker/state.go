package docker

import (
	"encoding/binary"
	"io"
	"recorder/internal/job"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

// labelTimeout stores the job timeout on the container; Docker has no
// native deadline for a container run.
const labelTimeout = "recorder.timeout-seconds"

// Reason values reported for failed containers.
const (
	reasonOOMKilled        = "OOMKilled"
	reasonDeadlineExceeded = "DeadlineExceeded"
	reasonError            = "Error"
)

// observeState maps a container state to a job observation. labels carry
// the timeout set at submission; now is compared against StartedAt to
// report runs past their deadline as failed.
func observeState(state *container.State, labels map[string]string, now time.Time) *job.Observation {
	obs := &job.Observation{ObservedAt: now}
	if state == nil {
		obs.Phase = job.PhaseUnknown
		return obs
	}

	switch {
	case state.Running && !state.Restarting:
		obs.Phase = job.PhaseRunning
		if deadlineExceeded(state, labels, now) {
			obs.Phase = job.PhaseFailed
			obs.Reason = reasonDeadlineExceeded
			obs.Message = "job exceeded its timeout"
		}

	case state.Status == "created":
		obs.Phase = job.PhasePending

	case state.Status == "exited":
		exitCode := state.ExitCode
		obs.ExitCode = &exitCode
		switch {
		case state.OOMKilled:
			obs.Phase = job.PhaseFailed
			obs.Reason = reasonOOMKilled
		case exitCode == 0:
			obs.Phase = job.PhaseSucceeded
		default:
			obs.Phase = job.PhaseFailed
			obs.Reason = reasonError
		}
		if state.Error != "" {
			obs.Message = state.Error
		}

	default:
		// paused, restarting, removing, dead
		obs.Phase = job.PhaseUnknown
		obs.Reason = state.Status
	}
	return obs
}

func deadlineExceeded(state *container.State, labels map[string]string, now time.Time) bool {
	secs, err := strconv.Atoi(labels[labelTimeout])
	if err != nil || secs <= 0 {
		return false
	}
	started, err := time.Parse(time.RFC3339Nano, state.StartedAt)
	if err != nil || started.IsZero() {
		return false
	}
	return now.Sub(started) > time.Duration(secs)*time.Second
}

func finishedAt(state *container.State) time.Time {
	if state == nil || state.Running {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, state.FinishedAt)
	if err != nil || t.Year() < 2000 {
		return time.Time{}
	}
	return t
}

// phaseFromListState maps the short state of a container list entry.
func phaseFromListState(state string) job.Phase {
	switch state {
	case "created":
		return job.PhasePending
	case "running":
		return job.PhaseRunning
	case "exited":
		// Exit code is not part of a list entry; callers inspect to tell
		// success from failure.
		return job.PhaseUnknown
	default:
		return job.PhaseUnknown
	}
}

// readLogTail demultiplexes a non-TTY log stream (8-byte frame headers)
// and returns the last max non-empty lines across stdout and stderr.
func readLogTail(r io.Reader, max int) []string {
	header := make([]byte, 8)
	var lines []string
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			break
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		lines = append(lines, splitLines(string(payload))...)
	}
	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
