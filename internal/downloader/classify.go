package downloader

import (
	"recorder/internal/job"
	"recorder/internal/video"
	"strings"
)

// Exit codes shared by the recorder images.
const (
	exitStreamMissing = 3
	exitRejected      = 4
)

var (
	missingPatterns = []string{"not live", "does not exist", "has ended", "is offline", "no playable streams"}
	rejectPatterns  = []string{"members only", "members-only", "private", "policy", "login required", "sign in to confirm"}
)

// classification maps failed jobs to failure terminals. Extra patterns
// extend the shared ones for adapter-specific output.
type classification struct {
	missing []string
	reject  []string
}

func (c classification) classify(obs job.Observation) video.Status {
	if obs.ExitCode != nil {
		switch *obs.ExitCode {
		case exitStreamMissing:
			return video.StatusMissing
		case exitRejected:
			return video.StatusReject
		}
	}

	text := strings.ToLower(obs.Reason + "\n" + obs.Message)
	if containsAny(text, rejectPatterns) || containsAny(text, c.reject) {
		return video.StatusReject
	}
	if containsAny(text, missingPatterns) || containsAny(text, c.missing) {
		return video.StatusMissing
	}
	return video.StatusError
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
