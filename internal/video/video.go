// Package video defines the tracked video, its status model and the
// transitions the recording pipeline is allowed to make.
//
// Videos are owned by a Repository. The recording core reads them, moves
// their status through the job window and writes the result back; it never
// creates or deletes videos.
package video

import (
	"context"
	"time"
)

// Video is a livestream or VOD tracked for recording.
type Video struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Source string `json:"source"` // platform identifier, e.g. "youtube", "fc2", "twitcasting"

	// Downloader is the adapter name the job was submitted with. Empty until
	// the first submission; resolved from Source when empty.
	Downloader string `json:"downloader,omitempty"`

	Status      Status `json:"status"`
	CookiesFile string `json:"cookiesFile,omitempty"` // relative to the cookies directory
	Note        string `json:"note,omitempty"`        // cause of the last failure

	ScheduledAt  *time.Time `json:"scheduledAt,omitempty"`
	RecordedAt   *time.Time `json:"recordedAt,omitempty"`
	DownloadedAt *time.Time `json:"downloadedAt,omitempty"`
	ArchivedAt   *time.Time `json:"archivedAt,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so repositories never share mutable state with callers.
func (v *Video) Clone() *Video {
	if v == nil {
		return nil
	}
	c := *v
	c.ScheduledAt = cloneTime(v.ScheduledAt)
	c.RecordedAt = cloneTime(v.RecordedAt)
	c.DownloadedAt = cloneTime(v.DownloadedAt)
	c.ArchivedAt = cloneTime(v.ArchivedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// StatusUpdate is a compare-and-set status write.
type StatusUpdate struct {
	ID   string
	From Status // expected current status
	To   Status
	Note string
	At   time.Time
}

// Repository is the persistence collaborator for videos.
type Repository interface {
	// Get returns a video by id. Returns apperrors.ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Video, error)

	// Put inserts or replaces a video. Used by ingestion and tests; the
	// recording core itself only updates status.
	Put(ctx context.Context, v *Video) error

	// UpdateStatus applies the update only if the stored status equals
	// u.From. Returns apperrors.ErrStateConflict otherwise.
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Video, error)

	// SetDownloader records the adapter a job was submitted with.
	SetDownloader(ctx context.Context, id, downloader string) error

	// ListByStatus returns the videos in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Video, error)

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	Close() error
}
