// Package api serves the recorder's read API: video lookups, job outcome
// queries and removal of finished jobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"recorder/internal/apperrors"
	"recorder/internal/health"
	"recorder/internal/video"

	"github.com/go-chi/chi/v5"
)

// Videos reads videos. Implemented by video.Repository.
type Videos interface {
	Get(ctx context.Context, id string) (*video.Video, error)
}

// Jobs answers job questions. Implemented by job.Orchestrator.
type Jobs interface {
	JobName(v *video.Video) (string, error)
	IsJobSucceeded(ctx context.Context, v *video.Video) (bool, error)
	IsJobSucceededByKeyword(ctx context.Context, keyword string) (bool, error)
	RemoveCompletedJobs(ctx context.Context, v *video.Video) error
}

// Job outcomes reported by the job endpoints.
const (
	OutcomeSucceeded    = "succeeded"
	OutcomeRunning      = "running"
	OutcomeFailed       = "failed"
	OutcomeUndetermined = "undetermined"
	OutcomeAmbiguous    = "ambiguous"
)

// JobStatus is the body of the job endpoints.
type JobStatus struct {
	VideoID   string `json:"videoId,omitempty"`
	Job       string `json:"job"`
	Outcome   string `json:"outcome"`
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail,omitempty"`
}

// Handler contains the HTTP handlers.
type Handler struct {
	videos Videos
	jobs   Jobs
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(videos Videos, jobs Jobs, healthChecker *health.Checker) *Handler {
	return &Handler{videos: videos, jobs: jobs, health: healthChecker}
}

// GetVideo handles GET /v1/videos/{videoId}.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	v, err := h.video(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetVideoJob handles GET /v1/videos/{videoId}/job.
func (h *Handler) GetVideoJob(w http.ResponseWriter, r *http.Request) {
	v, err := h.video(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	name, err := h.jobs.JobName(v)
	if err != nil {
		handleError(w, r, err)
		return
	}
	succeeded, err := h.jobs.IsJobSucceeded(r.Context(), v)
	h.writeOutcome(w, r, JobStatus{VideoID: v.ID, Job: name}, succeeded, err)
}

// GetJob handles GET /v1/jobs/{keyword}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	keyword := chi.URLParam(r, "keyword")
	succeeded, err := h.jobs.IsJobSucceededByKeyword(r.Context(), keyword)
	h.writeOutcome(w, r, JobStatus{Job: keyword}, succeeded, err)
}

// DeleteVideoJob handles DELETE /v1/videos/{videoId}/job. Removing a job
// that is gone already succeeds; a running job yields 409.
func (h *Handler) DeleteVideoJob(w http.ResponseWriter, r *http.Request) {
	v, err := h.video(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := h.jobs.RemoveCompletedJobs(r.Context(), v); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) video(r *http.Request) (*video.Video, error) {
	id := chi.URLParam(r, "videoId")
	if id == "" {
		return nil, apperrors.Validation("videoId", "video id is required")
	}
	return h.videos.Get(r.Context(), id)
}

// writeOutcome maps the IsJobSucceeded result to a response. Outcomes the
// caller should act on are 200; a job that cannot be judged yet is 202.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, st JobStatus, succeeded bool, err error) {
	code := http.StatusOK
	switch {
	case err == nil && succeeded:
		st.Outcome, st.Succeeded = OutcomeSucceeded, true
	case err == nil:
		st.Outcome = OutcomeRunning
	case errors.Is(err, apperrors.ErrJobFailed):
		st.Outcome, st.Detail = OutcomeFailed, err.Error()
	case errors.Is(err, apperrors.ErrAmbiguousPhase):
		st.Outcome, st.Detail = OutcomeAmbiguous, err.Error()
	case errors.Is(err, apperrors.ErrNotDetermined):
		st.Outcome, st.Detail = OutcomeUndetermined, err.Error()
		code = http.StatusAccepted
	default:
		handleError(w, r, err)
		return
	}
	writeJSON(w, code, st)
}

// Livez handles GET /livez.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz. Returns 503 while a required dependency is
// unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	code := http.StatusOK
	if !response.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
	} else {
		slog.WarnContext(r.Context(), "Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	writeError(w, status, err.Error())
}
