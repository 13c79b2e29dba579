package aci

import (
	"recorder/internal/job"
	"sort"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerinstance/armcontainerinstance/v2"
)

// tagTimeout stores the job timeout; container groups have no native deadline.
const tagTimeout = "recorder.timeout-seconds"

const reasonDeadlineExceeded = "DeadlineExceeded"

// observeGroup maps a container group and its container instance view to a
// phase. now is compared against the container start time to report runs
// past their deadline as failed.
func observeGroup(g *armcontainerinstance.ContainerGroup, now time.Time) *job.Observation {
	obs := &job.Observation{ObservedAt: now}
	if g == nil || g.Properties == nil {
		obs.Phase = job.PhaseUnknown
		return obs
	}
	props := g.Properties

	var provisioning string
	if props.ProvisioningState != nil {
		provisioning = string(*props.ProvisioningState)
	}
	switch provisioning {
	case "Failed", "Canceled":
		obs.Phase = job.PhaseFailed
		obs.Reason = "Provisioning" + provisioning
		obs.Message = lastEventMessage(props)
		return obs
	case "Deleting":
		obs.Phase = job.PhaseUnknown
		obs.Reason = provisioning
		return obs
	}

	state := currentState(props)
	if state == nil || state.State == nil {
		obs.Phase = job.PhasePending
		return obs
	}

	switch *state.State {
	case "Waiting":
		obs.Phase = job.PhasePending
		if state.DetailStatus != nil {
			obs.Reason = *state.DetailStatus
		}
	case "Running":
		obs.Phase = job.PhaseRunning
		if deadlineExceeded(state, g.Tags, now) {
			obs.Phase = job.PhaseFailed
			obs.Reason = reasonDeadlineExceeded
			obs.Message = "job exceeded its timeout"
		}
	case "Terminated":
		exitCode := 0
		if state.ExitCode != nil {
			exitCode = int(*state.ExitCode)
		}
		obs.ExitCode = &exitCode
		if exitCode == 0 {
			obs.Phase = job.PhaseSucceeded
		} else {
			obs.Phase = job.PhaseFailed
			obs.Reason = "Error"
			if state.DetailStatus != nil && *state.DetailStatus != "" {
				obs.Reason = *state.DetailStatus
			}
		}
	default:
		obs.Phase = job.PhaseUnknown
		obs.Reason = *state.State
	}
	return obs
}

func currentState(props *armcontainerinstance.ContainerGroupPropertiesProperties) *armcontainerinstance.ContainerState {
	for _, ctr := range props.Containers {
		if ctr == nil || ctr.Name == nil || *ctr.Name != containerName {
			continue
		}
		if ctr.Properties == nil || ctr.Properties.InstanceView == nil {
			return nil
		}
		return ctr.Properties.InstanceView.CurrentState
	}
	return nil
}

func lastEventMessage(props *armcontainerinstance.ContainerGroupPropertiesProperties) string {
	if props.InstanceView == nil {
		return ""
	}
	events := props.InstanceView.Events
	for i := len(events) - 1; i >= 0; i-- {
		if events[i] != nil && events[i].Message != nil {
			return *events[i].Message
		}
	}
	return ""
}

func deadlineExceeded(state *armcontainerinstance.ContainerState, tags map[string]*string, now time.Time) bool {
	secs, err := strconv.Atoi(tag(tags, tagTimeout))
	if err != nil || secs <= 0 || state.StartTime == nil {
		return false
	}
	return now.Sub(*state.StartTime) > time.Duration(secs)*time.Second
}

func groupFinishedAt(g *armcontainerinstance.ContainerGroup) time.Time {
	if g.Properties == nil {
		return time.Time{}
	}
	state := currentState(g.Properties)
	if state == nil || state.FinishTime == nil || state.State == nil || *state.State != "Terminated" {
		return time.Time{}
	}
	return *state.FinishTime
}

func tag(tags map[string]*string, key string) string {
	if v, ok := tags[key]; ok && v != nil {
		return *v
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
