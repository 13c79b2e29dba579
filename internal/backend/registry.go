package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"recorder/internal/job"
	"recorder/internal/sharedvolume"
	"recorder/internal/storage"
	"recorder/internal/video"
)

// Factories constructs implementations by service name. Only the entries
// for the selected services are called.
type Factories struct {
	Compute      map[ServiceName]func(ctx context.Context) (job.Compute, error)
	SharedVolume map[ServiceName]func(ctx context.Context) (sharedvolume.Volume, error)
	Storage      map[ServiceName]func(ctx context.Context) (storage.Destination, error)
	Database     map[ServiceName]func(ctx context.Context) (video.Repository, error)
}

// Registry holds the bound implementations.
type Registry struct {
	selection    Selection
	compute      job.Compute
	sharedVolume sharedvolume.Volume
	storage      storage.Destination
	database     video.Repository
}

// Build validates the selection and constructs each bound service. On
// failure everything built so far is closed.
func Build(ctx context.Context, sel Selection, f Factories) (_ *Registry, err error) {
	if err := Validate(sel); err != nil {
		return nil, err
	}

	r := &Registry{selection: sel}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if r.database, err = build(ctx, f.Database, sel.Database); err != nil {
		return nil, err
	}
	if r.storage, err = build(ctx, f.Storage, sel.Storage); err != nil {
		return nil, err
	}
	if r.sharedVolume, err = build(ctx, f.SharedVolume, sel.SharedVolume); err != nil {
		return nil, err
	}
	if r.compute, err = build(ctx, f.Compute, sel.Compute); err != nil {
		return nil, err
	}

	slog.Info("Backends bound",
		"compute", sel.Compute,
		"sharedVolume", sel.SharedVolume,
		"storage", sel.Storage,
		"database", sel.Database,
	)
	return r, nil
}

func build[T any](ctx context.Context, factories map[ServiceName]func(context.Context) (T, error), name ServiceName) (T, error) {
	var zero T
	factory, ok := factories[name]
	if !ok {
		return zero, fmt.Errorf("no factory registered for %s backend %s", name.Role(), name)
	}
	impl, err := factory(ctx)
	if err != nil {
		return zero, fmt.Errorf("build %s backend %s: %w", name.Role(), name, err)
	}
	return impl, nil
}

// Selection returns the services the registry was built from.
func (r *Registry) Selection() Selection { return r.selection }

// Compute returns the bound compute backend.
func (r *Registry) Compute() job.Compute { return r.compute }

// SharedVolume returns the bound shared volume.
func (r *Registry) SharedVolume() sharedvolume.Volume { return r.sharedVolume }

// Storage returns the bound storage destination.
func (r *Registry) Storage() storage.Destination { return r.storage }

// Database returns the bound video repository.
func (r *Registry) Database() video.Repository { return r.database }

// Close closes every bound implementation in reverse build order.
func (r *Registry) Close() error {
	var errs []error
	if r.compute != nil {
		errs = append(errs, r.compute.Close())
	}
	if r.sharedVolume != nil {
		errs = append(errs, r.sharedVolume.Close())
	}
	if r.storage != nil {
		errs = append(errs, r.storage.Close())
	}
	if r.database != nil {
		errs = append(errs, r.database.Close())
	}
	return errors.Join(errs...)
}
