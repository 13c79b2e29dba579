package job

import (
	"fmt"
	"recorder/internal/apperrors"
	"regexp"
)

// Validation limits
const (
	maxCPU         = 16    // cores
	maxMemory      = 32768 // MB (32GB)
	maxTimeoutSecs = 172800
	maxArgs        = 128
	maxEnvEntries  = 64
	maxMounts      = 8
	maxLabelLen    = 63
)

// namePattern matches the output of Name.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Prepare applies defaults to the spec and validates it.
func Prepare(spec *Spec) error {
	applyDefaults(spec)
	return validate(spec)
}

// applyDefaults sets default values for unspecified spec fields.
func applyDefaults(spec *Spec) {
	if spec.TimeoutSeconds <= 0 {
		// Livestreams can run for many hours.
		spec.TimeoutSeconds = 86400
	}
	if spec.CPU <= 0 {
		spec.CPU = 1
	}
	if spec.Memory <= 0 {
		spec.Memory = 1024
	}
	if spec.Labels == nil {
		spec.Labels = make(map[string]string)
	}
	spec.Labels[LabelManagedBy] = ManagedByValue
}

// validate validates a job spec. Does not modify the spec.
func validate(spec *Spec) error {
	if spec.Name == "" {
		return apperrors.Validation("name", "job name is required")
	}
	if len(spec.Name) > maxNameLength {
		return apperrors.Validation("name", fmt.Sprintf("job name exceeds maximum length of %d", maxNameLength))
	}
	if !namePattern.MatchString(spec.Name) {
		return apperrors.Validation("name", "job name must be lowercase alphanumeric with inner hyphens")
	}

	if spec.Image == "" {
		return apperrors.Validation("image", "image is required")
	}

	if spec.TimeoutSeconds > maxTimeoutSecs {
		return apperrors.Validation("timeoutSeconds", fmt.Sprintf("timeout exceeds maximum of %d seconds", maxTimeoutSecs))
	}
	if spec.CPU > maxCPU {
		return apperrors.Validation("cpu", fmt.Sprintf("CPU exceeds maximum of %d cores", maxCPU))
	}
	if spec.Memory > maxMemory {
		return apperrors.Validation("memory", fmt.Sprintf("memory exceeds maximum of %d MB", maxMemory))
	}

	if len(spec.Args) > maxArgs {
		return apperrors.Validation("args", fmt.Sprintf("args exceed maximum of %d", maxArgs))
	}
	if len(spec.Environment) > maxEnvEntries {
		return apperrors.Validation("environment", fmt.Sprintf("environment exceeds maximum of %d entries", maxEnvEntries))
	}

	if len(spec.Mounts) > maxMounts {
		return apperrors.Validation("mounts", fmt.Sprintf("mounts exceed maximum of %d", maxMounts))
	}
	for i, m := range spec.Mounts {
		if m.Source == "" {
			return apperrors.Validation("mounts", fmt.Sprintf("mounts[%d]: source is required", i))
		}
		if m.Target == "" || m.Target[0] != '/' {
			return apperrors.Validation("mounts", fmt.Sprintf("mounts[%d]: target must be an absolute path", i))
		}
	}

	for k, v := range spec.Labels {
		if len(k) > maxLabelLen+32 || len(v) > maxLabelLen {
			return apperrors.Validation("labels", fmt.Sprintf("label %q exceeds maximum length", k))
		}
	}

	return nil
}
