// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")

	// ErrStateConflict is a request that contradicts the current video state.
	// It is a caller bug and is never retried.
	ErrStateConflict = fmt.Errorf("state %w", ErrConflict)

	// ErrJobNotFound means the compute backend has no record of a job the
	// video state says should exist.
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	// ErrTransient marks compute backend timeouts and connectivity failures.
	// This is the only class retried internally.
	ErrTransient = errors.New("transient backend error")

	// ErrJobFailed means the backend reported the job as failed.
	ErrJobFailed = errors.New("job failed")

	// ErrAmbiguousPhase means the job stayed neither succeeded nor failed
	// past the observation budget.
	ErrAmbiguousPhase = errors.New("ambiguous job phase")

	// ErrNotDetermined means the outcome is not known yet and the caller
	// should poll again later.
	ErrNotDetermined = errors.New("job outcome not yet determined")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "id", "image")
	Resource string // For not found/conflict (e.g., "job", "video")
	ID       string // Identifier of the resource, when known
	Op       string // Operation that failed (e.g., "docker.createContainer")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both can be matched with errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
		ID:       id,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
		ID:       id,
	}
}

// StateConflict creates an error for an operation the video state does not allow.
func StateConflict(id, reason string) error {
	return &Error{
		Sentinel: ErrStateConflict,
		Message:  fmt.Sprintf("video %s: %s", id, reason),
		Resource: "video",
		ID:       id,
	}
}

// JobStateConflict creates an error for a job operation its current phase does not allow.
func JobStateConflict(name, reason string) error {
	return &Error{
		Sentinel: ErrStateConflict,
		Message:  fmt.Sprintf("job %s: %s", name, reason),
		Resource: "job",
		ID:       name,
	}
}

// JobNotFound creates an error for a job missing from the compute backend.
func JobNotFound(name string) error {
	return &Error{
		Sentinel: ErrJobNotFound,
		Message:  fmt.Sprintf("job %s not found in compute backend", name),
		Resource: "job",
		ID:       name,
	}
}

// Transient wraps a retryable compute backend failure.
func Transient(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransient,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// JobFailed creates an error for a job the backend reported as failed.
func JobFailed(name, reason string) error {
	msg := fmt.Sprintf("job %s failed", name)
	if reason != "" {
		msg = fmt.Sprintf("job %s failed: %s", name, reason)
	}
	return &Error{
		Sentinel: ErrJobFailed,
		Message:  msg,
		Resource: "job",
		ID:       name,
	}
}

// Ambiguous creates an error for a job phase that could not be classified.
func Ambiguous(name, phase string, observations int) error {
	return &Error{
		Sentinel: ErrAmbiguousPhase,
		Message:  fmt.Sprintf("job %s stayed in phase %q after %d observations", name, phase, observations),
		Resource: "job",
		ID:       name,
	}
}

// NotDetermined creates an error telling the caller to poll again.
func NotDetermined(name, phase string) error {
	return &Error{
		Sentinel: ErrNotDetermined,
		Message:  fmt.Sprintf("job %s is %s", name, phase),
		Resource: "job",
		ID:       name,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
