package kubernetes

import (
	"recorder/internal/job"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
)

// Container waiting reasons that will not resolve without intervention.
var stuckReasons = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

// observeJob maps Job conditions and counters to a phase.
func observeJob(obj *batchv1.Job) *job.Observation {
	obs := &job.Observation{Name: obj.Name}

	for _, cond := range obj.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete, batchv1.JobSuccessCriteriaMet:
			obs.Phase = job.PhaseSucceeded
			return obs
		case batchv1.JobFailed, batchv1.JobFailureTarget:
			obs.Phase = job.PhaseFailed
			obs.Reason = cond.Reason
			obs.Message = cond.Message
			return obs
		case batchv1.JobSuspended:
			obs.Phase = job.PhaseUnknown
			obs.Reason = "Suspended"
			return obs
		}
	}

	switch {
	case obj.Status.Succeeded > 0:
		obs.Phase = job.PhaseSucceeded
	case obj.Status.Failed > 0:
		obs.Phase = job.PhaseFailed
	case obj.Status.Active > 0:
		obs.Phase = job.PhaseRunning
	default:
		obs.Phase = job.PhasePending
	}
	return obs
}

// refineWithPod adds pod detail to a non-succeeded observation: exit code
// and termination message of a failed container, or the real state of an
// active pod.
func refineWithPod(obs *job.Observation, pod *corev1.Pod) {
	status := containerStatus(pod)

	if status != nil && status.State.Terminated != nil {
		term := status.State.Terminated
		if obs.Phase == job.PhaseFailed || term.ExitCode != 0 {
			exitCode := int(term.ExitCode)
			obs.ExitCode = &exitCode
			if term.Reason != "" && obs.Reason == "" {
				obs.Reason = term.Reason
			}
			if term.Message != "" {
				obs.Message = term.Message
			}
		}
	}

	if obs.Phase.IsTerminal() {
		return
	}

	switch pod.Status.Phase {
	case corev1.PodPending:
		obs.Phase = job.PhasePending
		if status != nil && status.State.Waiting != nil && stuckReasons[status.State.Waiting.Reason] {
			obs.Phase = job.PhaseUnknown
			obs.Reason = status.State.Waiting.Reason
			obs.Message = status.State.Waiting.Message
		}
	case corev1.PodRunning:
		obs.Phase = job.PhaseRunning
	case corev1.PodUnknown:
		obs.Phase = job.PhaseUnknown
		obs.Reason = pod.Status.Reason
	case corev1.PodFailed:
		// Evicted or deadline-killed before the Job controller caught up.
		obs.Phase = job.PhaseFailed
		if obs.Reason == "" {
			obs.Reason = pod.Status.Reason
		}
		if obs.Message == "" {
			obs.Message = pod.Status.Message
		}
	}
}

func containerStatus(pod *corev1.Pod) *corev1.ContainerStatus {
	for i := range pod.Status.ContainerStatuses {
		if pod.Status.ContainerStatuses[i].Name == containerName {
			return &pod.Status.ContainerStatuses[i]
		}
	}
	return nil
}

func jobFinishedAt(obj *batchv1.Job) time.Time {
	if obj.Status.CompletionTime != nil {
		return obj.Status.CompletionTime.Time
	}
	for _, cond := range obj.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return cond.LastTransitionTime.Time
		}
	}
	return time.Time{}
}
