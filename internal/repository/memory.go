package repository

import (
	"context"
	"recorder/internal/apperrors"
	"recorder/internal/video"
	"sync"
)

// Memory is an in-process video store. State is lost on restart; use it
// for tests and single-shot local runs.
type Memory struct {
	mu     sync.RWMutex
	videos map[string]*video.Video
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{videos: make(map[string]*video.Video)}
}

// Get implements video.Repository.
func (m *Memory) Get(ctx context.Context, id string) (*video.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, apperrors.NotFound("video", id)
	}
	return v.Clone(), nil
}

// Put implements video.Repository.
func (m *Memory) Put(ctx context.Context, v *video.Video) error {
	if err := validatePut(v); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = v.Clone()
	return nil
}

// UpdateStatus implements video.Repository.
func (m *Memory) UpdateStatus(ctx context.Context, u video.StatusUpdate) (*video.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.videos[u.ID]
	if !ok {
		return nil, apperrors.NotFound("video", u.ID)
	}
	next := stored.Clone()
	if err := video.Apply(next, u); err != nil {
		return nil, err
	}
	m.videos[u.ID] = next
	return next.Clone(), nil
}

// SetDownloader implements video.Repository.
func (m *Memory) SetDownloader(ctx context.Context, id, downloader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return apperrors.NotFound("video", id)
	}
	v.Downloader = downloader
	return nil
}

// ListByStatus implements video.Repository.
func (m *Memory) ListByStatus(ctx context.Context, statuses ...video.Status) ([]*video.Video, error) {
	match := wanted(statuses)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*video.Video
	for _, v := range m.videos {
		if match(v.Status) {
			out = append(out, v.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

// Ping implements video.Repository.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Close implements video.Repository.
func (m *Memory) Close() error { return nil }

var _ video.Repository = (*Memory)(nil)
