package video

import (
	"fmt"
	"slices"
)

// Status is the lifecycle status of a tracked video.
type Status string

// Status values. The string values are stored by every repository backend.
const (
	StatusUnknown           Status = "Unknown"
	StatusScheduled         Status = "Scheduled"
	StatusPending           Status = "Pending"
	StatusWaitingToRecord   Status = "WaitingToRecord"
	StatusWaitingToDownload Status = "WaitingToDownload"
	StatusRecording         Status = "Recording"
	StatusDownloading       Status = "Downloading"
	StatusUploading         Status = "Uploading"
	StatusArchived          Status = "Archived"
	StatusPermanentArchived Status = "PermanentArchived"
	StatusExpired           Status = "Expired"
	StatusSkipped           Status = "Skipped"
	StatusMissing           Status = "Missing"
	StatusError             Status = "Error"
	StatusReject            Status = "Reject"
	StatusExist             Status = "Exist"
	StatusEdited            Status = "Edited"
	StatusDeleted           Status = "Deleted"
)

var allStatuses = []Status{
	StatusUnknown, StatusScheduled, StatusPending,
	StatusWaitingToRecord, StatusWaitingToDownload,
	StatusRecording, StatusDownloading, StatusUploading,
	StatusArchived, StatusPermanentArchived,
	StatusExpired, StatusSkipped, StatusMissing, StatusError, StatusReject,
	StatusExist, StatusEdited, StatusDeleted,
}

// PreJobStatuses are the statuses a video must be in before a job is submitted.
var PreJobStatuses = []Status{StatusWaitingToRecord, StatusWaitingToDownload}

// InJobStatuses are owned by the job orchestrator while a job is active.
var InJobStatuses = []Status{StatusRecording, StatusDownloading}

// ParseStatus converts a stored status name back to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if slices.Contains(allStatuses, st) {
		return st, nil
	}
	return StatusUnknown, fmt.Errorf("unknown video status %q", s)
}

func (s Status) String() string { return string(s) }

// IsPreJob reports whether no job has been submitted yet.
func (s Status) IsPreJob() bool {
	return s == StatusWaitingToRecord || s == StatusWaitingToDownload
}

// IsInJob reports whether a job is active for the video.
func (s Status) IsInJob() bool {
	return s == StatusRecording || s == StatusDownloading
}

// IsPostJob reports whether the job finished and the artifact awaits upload.
func (s Status) IsPostJob() bool {
	return s == StatusUploading
}

// IsSuccessTerminal reports whether the video was archived.
func (s Status) IsSuccessTerminal() bool {
	return s == StatusArchived || s == StatusPermanentArchived
}

// IsFailureTerminal reports whether the video ended without a recording.
func (s Status) IsFailureTerminal() bool {
	switch s {
	case StatusExpired, StatusSkipped, StatusMissing, StatusError, StatusReject:
		return true
	}
	return false
}

// IsAdministrative reports whether the status lives outside the recording pipeline.
func (s Status) IsAdministrative() bool {
	return s == StatusExist || s == StatusEdited || s == StatusDeleted
}

// InJobStatusFor returns the in-job status matching a pre-job status.
func InJobStatusFor(s Status) (Status, bool) {
	switch s {
	case StatusWaitingToRecord:
		return StatusRecording, true
	case StatusWaitingToDownload:
		return StatusDownloading, true
	}
	return StatusUnknown, false
}
