package job

import "time"

// Phase is the backend-reported phase of a job.
type Phase string

// Phase values
const (
	PhasePending   Phase = "Pending" // accepted, still provisioning (image pull, scheduling)
	PhaseRunning   Phase = "Running"
	PhaseSucceeded Phase = "Succeeded"
	PhaseFailed    Phase = "Failed"
	PhaseUnknown   Phase = "Unknown" // evicted, node lost, or a state the backend cannot explain
	PhaseNotFound  Phase = "NotFound"
)

// IsTerminal reports whether the job finished, successfully or not.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// MountKind selects how a compute backend attaches a shared volume.
type MountKind string

// Mount kinds
const (
	MountDockerVolume MountKind = "docker-volume"
	MountPVC          MountKind = "pvc"
	MountAzureFile    MountKind = "azure-file"
)

// Mount is a shared volume attached to the job container.
type Mount struct {
	Kind     MountKind `json:"kind"`
	Source   string    `json:"source"` // volume name, claim name or file share name
	Target   string    `json:"target"` // path inside the container
	ReadOnly bool      `json:"readOnly,omitempty"`

	// Azure file share credentials; only set for MountAzureFile.
	StorageAccountName string `json:"-"`
	StorageAccountKey  string `json:"-"`
}

// Spec is a backend-neutral description of one download/record job.
type Spec struct {
	Name           string            `json:"name"`
	Image          string            `json:"image"`
	Command        []string          `json:"command,omitempty"` // entrypoint override
	Args           []string          `json:"args"`
	Environment    map[string]string `json:"environment,omitempty"`
	Mounts         []Mount           `json:"mounts,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	WorkingDir     string            `json:"workingDir,omitempty"`
	CPU            float64           `json:"cpu"`
	Memory         int               `json:"memory"` // MB
	TimeoutSeconds int               `json:"timeoutSeconds"`
}

// Observation is one reading of a job's phase from the compute backend.
type Observation struct {
	Name       string    `json:"name"`
	Phase      Phase     `json:"phase"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	Reason     string    `json:"reason,omitempty"`  // short machine-ish reason, e.g. "OOMKilled"
	Message    string    `json:"message,omitempty"` // tail of the job output or backend message
	ObservedAt time.Time `json:"observedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"` // set for terminal phases when the backend knows it
}

// Handle describes a submitted job.
type Handle struct {
	Name       string `json:"name"`
	BackendID  string `json:"backendId,omitempty"`
	Downloader string `json:"downloader"`
	VideoID    string `json:"videoId"`
}

// Label keys attached to every job resource.
const (
	LabelManagedBy  = "managed-by"
	LabelVideoID    = "recorder.video-id"
	LabelDownloader = "recorder.downloader"
	ManagedByValue  = "recorder-service"
)
