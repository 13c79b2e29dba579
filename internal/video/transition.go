package video

import (
	"fmt"
	"recorder/internal/apperrors"
)

// CanTransition reports whether the recording pipeline may move a video
// from one status to another. Self transitions are never allowed, so a
// duplicate poll result cannot move a video out of an in-job status twice.
func CanTransition(from, to Status) bool {
	if from == to || to == StatusUnknown {
		return false
	}

	switch {
	case from.IsPreJob():
		if want, _ := InJobStatusFor(from); to == want {
			return true
		}
		return to == StatusSkipped || to == StatusExpired || to == StatusError

	case from.IsInJob():
		return to == StatusUploading || to.IsFailureTerminal()

	case from.IsPostJob():
		return to.IsSuccessTerminal() || to == StatusError

	case from.IsSuccessTerminal():
		return to.IsAdministrative() || to.IsSuccessTerminal()

	case from == StatusScheduled || from == StatusPending:
		return to.IsPreJob() || to == StatusPending || to.IsFailureTerminal()

	case from.IsFailureTerminal():
		// Manual requeue of a failed video.
		return to.IsPreJob()
	}
	return false
}

// Apply validates u against v and mutates v in place, stamping the
// timestamp that belongs to the target status. Repositories call it inside
// their own transaction so every backend enforces the same rules.
func Apply(v *Video, u StatusUpdate) error {
	if v.Status != u.From {
		return apperrors.StateConflict(v.ID, fmt.Sprintf("expected status %s, found %s", u.From, v.Status))
	}
	if !CanTransition(u.From, u.To) {
		return apperrors.StateConflict(v.ID, fmt.Sprintf("transition %s -> %s is not allowed", u.From, u.To))
	}

	at := u.At
	v.Status = u.To
	v.Note = u.Note
	v.UpdatedAt = at

	switch {
	case u.To.IsInJob():
		v.RecordedAt = &at
	case u.From.IsInJob():
		v.DownloadedAt = &at
	case u.To.IsSuccessTerminal():
		v.ArchivedAt = &at
	}
	return nil
}
