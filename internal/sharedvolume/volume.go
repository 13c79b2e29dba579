// Package sharedvolume provides the volume mounted into every recording job.
// Downloaders write recordings and read cookie files from it; the upload
// pipeline picks finished files up from the same volume.
package sharedvolume

import (
	"context"
	"recorder/internal/job"
)

// Volume is a shared volume binding.
type Volume interface {
	// Name identifies the binding in logs.
	Name() string

	// Ensure verifies the volume exists and is usable, creating it when the
	// binding is allowed to. Called before every job submission that mounts it.
	Ensure(ctx context.Context) error

	// Mount describes how to attach the volume at target inside the job.
	Mount(target string) job.Mount

	Close() error
}
