// Package job defines the backend-neutral job contract, the Compute
// interface implemented by every container backend, and the Orchestrator
// that classifies job outcomes and reclaims finished jobs.
package job

import (
	"context"
	"time"
)

// Compute is implemented by every container backend (Docker, Kubernetes,
// Azure Container Instances).
//
// # Identity
//
// Jobs are addressed by the deterministic name carried in Spec.Name. The
// backend stores that name on the resource it creates (container name, Job
// object name, container group name), so any process can find a job again
// after a restart without remembering the submission result.
//
// # Errors
//
// Connectivity failures and timeouts must be wrapped with
// apperrors.Transient so callers can retry them with backoff. A job that
// does not exist is not an error for Observe and Delete.
type Compute interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Submit creates and starts exactly one job. Returns the backend's own
	// id for the resource. Returns apperrors.ErrConflict if a job with the
	// same name already exists.
	Submit(ctx context.Context, spec *Spec) (string, error)

	// Observe returns the current phase of a job. A missing job is reported
	// as PhaseNotFound with a nil error.
	Observe(ctx context.Context, name string) (*Observation, error)

	// Delete removes the job and its backend resources. Deleting a job that
	// does not exist returns nil.
	Delete(ctx context.Context, name string) error

	// Ready checks that the backend is reachable.
	Ready(ctx context.Context) error

	// Close releases clients held by the backend. Running jobs are not stopped.
	Close() error
}

// Lister is implemented by backends that can enumerate the jobs they
// manage. It lets the controller find finished jobs whose video already
// left the in-job window, e.g. after a crash between the status write and
// the delete.
type Lister interface {
	List(ctx context.Context) ([]Listing, error)
}

// Listing is one managed job as reported by Lister.
type Listing struct {
	Name       string
	VideoID    string // from LabelVideoID
	Downloader string // from LabelDownloader
	Phase      Phase
	FinishedAt time.Time // zero while the job is active
}
