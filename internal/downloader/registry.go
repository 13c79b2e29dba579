package downloader

import (
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"recorder/internal/video"
	"sort"
	"strings"
)

// Registry resolves adapters by name and by video. It is immutable after
// construction.
type Registry struct {
	adapters map[string]Adapter
	bySource map[string]string
	fallback string
}

// New builds a registry with every supported adapter bound to deps.
// defaultName is used for videos whose source no adapter claims.
func New(deps Deps, cfg Config, defaultName string) (*Registry, error) {
	adapters := make([]Adapter, 0, len(tools))
	for _, t := range tools {
		a, err := newAdapter(t, deps, cfg)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return NewRegistry(defaultName, adapters...)
}

// NewRegistry builds a registry from explicit adapters.
func NewRegistry(defaultName string, adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		bySource: make(map[string]string),
		fallback: defaultName,
	}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Name()]; dup {
			return nil, fmt.Errorf("duplicate downloader adapter %q", a.Name())
		}
		r.adapters[a.Name()] = a
		for _, src := range a.Sources() {
			src = strings.ToLower(src)
			if owner, taken := r.bySource[src]; taken {
				return nil, fmt.Errorf("source %q claimed by both %s and %s", src, owner, a.Name())
			}
			r.bySource[src] = a.Name()
		}
	}
	if _, ok := r.adapters[defaultName]; !ok {
		return nil, apperrors.Validation("DEFAULT_DOWNLOADER", fmt.Sprintf("unknown downloader %q", defaultName))
	}
	return r, nil
}

// Get returns the adapter with the given name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperrors.NotFound("downloader", name)
	}
	return a, nil
}

// ForVideo resolves the adapter for a video: the downloader recorded on
// the video, then the source mapping, then the default adapter.
func (r *Registry) ForVideo(v *video.Video) (Adapter, error) {
	if v.Downloader != "" {
		return r.Get(v.Downloader)
	}
	if name, ok := r.bySource[strings.ToLower(v.Source)]; ok {
		return r.adapters[name], nil
	}
	return r.adapters[r.fallback], nil
}

// DownloaderFor implements job.Adapters.
func (r *Registry) DownloaderFor(v *video.Video) (string, error) {
	a, err := r.ForVideo(v)
	if err != nil {
		return "", err
	}
	return a.Name(), nil
}

// Classify implements job.Adapters. An unknown downloader classifies as Error.
func (r *Registry) Classify(downloader string, obs *job.Observation) video.Status {
	a, ok := r.adapters[downloader]
	if !ok || obs == nil {
		slog.Warn("Cannot classify job failure", "downloader", downloader)
		return video.StatusError
	}
	return a.Classify(*obs)
}

// Names returns the registered adapter names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ job.Adapters = (*Registry)(nil)
