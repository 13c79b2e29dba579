// Package aci implements job.Compute with Azure Container Instances. Each
// job is one container group holding a single container, named after the
// job and created with restart policy Never.
package aci

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/containerinstance/armcontainerinstance/v2"
)

const containerName = "recorder"

// Compute runs jobs as Azure container groups.
type Compute struct {
	groups     *armcontainerinstance.ContainerGroupsClient
	containers *armcontainerinstance.ContainersClient
	cfg        Config
	now        func() time.Time
}

// New creates an ACI compute backend authenticated with the default Azure
// credential chain (environment, workload identity, managed identity, CLI).
func New(cfg Config) (*Compute, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure credential: %w", err)
	}
	return NewWithCredential(cfg, cred)
}

// NewWithCredential creates an ACI compute backend with an explicit credential.
func NewWithCredential(cfg Config, cred azcore.TokenCredential) (*Compute, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, err := armcontainerinstance.NewClientFactory(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create container instance client: %w", err)
	}
	if cfg.DeletePoll <= 0 {
		cfg.DeletePoll = 2 * time.Second
	}
	if cfg.DeleteMaxWait <= 0 {
		cfg.DeleteMaxWait = 2 * time.Minute
	}
	return &Compute{
		groups:     factory.NewContainerGroupsClient(),
		containers: factory.NewContainersClient(),
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// Name implements job.Compute.
func (c *Compute) Name() string { return "AzureContainerInstance" }

// Submit implements job.Compute. It returns once Azure accepted the
// container group; provisioning continues in the background and shows up
// as PhasePending.
func (c *Compute) Submit(ctx context.Context, spec *job.Spec) (string, error) {
	_, err := c.groups.Get(ctx, c.cfg.ResourceGroup, spec.Name, nil)
	switch {
	case err == nil:
		return "", apperrors.Conflict("job", spec.Name, fmt.Sprintf("job %s already exists", spec.Name))
	case !isNotFound(err):
		return "", classify("aci.getContainerGroup", err)
	}

	group, err := c.containerGroup(spec)
	if err != nil {
		return "", err
	}

	if _, err := c.groups.BeginCreateOrUpdate(ctx, c.cfg.ResourceGroup, spec.Name, *group, nil); err != nil {
		return "", classify("aci.createContainerGroup", err)
	}

	id := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.ContainerInstance/containerGroups/%s",
		c.cfg.SubscriptionID, c.cfg.ResourceGroup, spec.Name)
	slog.Info("Container group creation accepted", "job", spec.Name, "location", c.cfg.Location)
	return id, nil
}

// containerGroup translates a job spec into a container group definition.
func (c *Compute) containerGroup(spec *job.Spec) (*armcontainerinstance.ContainerGroup, error) {
	env := make([]*armcontainerinstance.EnvironmentVariable, 0, len(spec.Environment))
	for _, k := range sortedKeys(spec.Environment) {
		env = append(env, &armcontainerinstance.EnvironmentVariable{Name: to.Ptr(k), Value: to.Ptr(spec.Environment[k])})
	}

	var volumes []*armcontainerinstance.Volume
	var mounts []*armcontainerinstance.VolumeMount
	for i, m := range spec.Mounts {
		if m.Kind != job.MountAzureFile {
			return nil, apperrors.Validation("mounts", fmt.Sprintf("mounts[%d]: container instances cannot attach %s mounts", i, m.Kind))
		}
		volName := fmt.Sprintf("shared-%d", i)
		volumes = append(volumes, &armcontainerinstance.Volume{
			Name: to.Ptr(volName),
			AzureFile: &armcontainerinstance.AzureFileVolume{
				ShareName:          to.Ptr(m.Source),
				StorageAccountName: to.Ptr(m.StorageAccountName),
				StorageAccountKey:  to.Ptr(m.StorageAccountKey),
				ReadOnly:           to.Ptr(m.ReadOnly),
			},
		})
		mounts = append(mounts, &armcontainerinstance.VolumeMount{
			Name:      to.Ptr(volName),
			MountPath: to.Ptr(m.Target),
			ReadOnly:  to.Ptr(m.ReadOnly),
		})
	}

	// Container instances take a single command line.
	var command []*string
	for _, arg := range append(append([]string(nil), spec.Command...), spec.Args...) {
		command = append(command, to.Ptr(arg))
	}

	tags := make(map[string]*string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		tags[k] = to.Ptr(v)
	}
	tags[tagTimeout] = to.Ptr(fmt.Sprintf("%d", spec.TimeoutSeconds))

	var registries []*armcontainerinstance.ImageRegistryCredential
	if c.cfg.RegistryServer != "" {
		registries = append(registries, &armcontainerinstance.ImageRegistryCredential{
			Server:   to.Ptr(c.cfg.RegistryServer),
			Username: to.Ptr(c.cfg.RegistryUsername),
			Password: to.Ptr(c.cfg.RegistryPassword),
		})
	}

	return &armcontainerinstance.ContainerGroup{
		Location: to.Ptr(c.cfg.Location),
		Tags:     tags,
		Properties: &armcontainerinstance.ContainerGroupPropertiesProperties{
			OSType:                   to.Ptr(armcontainerinstance.OperatingSystemTypesLinux),
			RestartPolicy:            to.Ptr(armcontainerinstance.ContainerGroupRestartPolicyNever),
			Volumes:                  volumes,
			ImageRegistryCredentials: registries,
			Containers: []*armcontainerinstance.Container{{
				Name: to.Ptr(containerName),
				Properties: &armcontainerinstance.ContainerProperties{
					Image:                to.Ptr(spec.Image),
					Command:              command,
					EnvironmentVariables: env,
					VolumeMounts:         mounts,
					Resources: &armcontainerinstance.ResourceRequirements{
						Requests: &armcontainerinstance.ResourceRequests{
							CPU:        to.Ptr(spec.CPU),
							MemoryInGB: to.Ptr(memoryInGB(spec.Memory)),
						},
					},
				},
			}},
		},
	}, nil
}

// Observe implements job.Compute.
func (c *Compute) Observe(ctx context.Context, name string) (*job.Observation, error) {
	resp, err := c.groups.Get(ctx, c.cfg.ResourceGroup, name, nil)
	if err != nil {
		if isNotFound(err) {
			return &job.Observation{Name: name, Phase: job.PhaseNotFound, ObservedAt: c.now()}, nil
		}
		return nil, classify("aci.getContainerGroup", err)
	}

	obs := observeGroup(&resp.ContainerGroup, c.now())
	obs.Name = name
	if obs.Phase.IsTerminal() {
		obs.FinishedAt = groupFinishedAt(&resp.ContainerGroup)
	}
	if obs.Phase == job.PhaseFailed && c.cfg.LogTail > 0 {
		if tail := c.logTail(ctx, name); tail != "" {
			obs.Message = tail
		}
	}
	return obs, nil
}

// logTail returns the last lines of the job output. Errors yield an empty
// string; the tail is informational only.
func (c *Compute) logTail(ctx context.Context, name string) string {
	resp, err := c.containers.ListLogs(ctx, c.cfg.ResourceGroup, name, containerName, &armcontainerinstance.ContainersClientListLogsOptions{
		Tail: to.Ptr(int32(c.cfg.LogTail)),
	})
	if err != nil || resp.Content == nil {
		if err != nil {
			slog.Debug("Failed to read container group logs", "job", name, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(*resp.Content)
}

// Delete implements job.Compute. It waits for Azure to finish the delete
// so a following Observe reports PhaseNotFound.
func (c *Compute) Delete(ctx context.Context, name string) error {
	poller, err := c.groups.BeginDelete(ctx, c.cfg.ResourceGroup, name, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify("aci.deleteContainerGroup", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.DeleteMaxWait)
	defer cancel()
	if _, err := poller.PollUntilDone(waitCtx, &runtime.PollUntilDoneOptions{Frequency: c.cfg.DeletePoll}); err != nil && !isNotFound(err) {
		return classify("aci.deleteContainerGroup", err)
	}
	return nil
}

// List implements job.Lister. The list endpoint omits instance views, so
// each managed group is fetched individually.
func (c *Compute) List(ctx context.Context) ([]job.Listing, error) {
	var names []string
	pager := c.groups.NewListByResourceGroupPager(c.cfg.ResourceGroup, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("aci.listContainerGroups", err)
		}
		for _, g := range page.Value {
			if g == nil || g.Name == nil || tag(g.Tags, job.LabelManagedBy) != job.ManagedByValue {
				continue
			}
			names = append(names, *g.Name)
		}
	}

	listings := make([]job.Listing, 0, len(names))
	for _, name := range names {
		resp, err := c.groups.Get(ctx, c.cfg.ResourceGroup, name, nil)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, classify("aci.getContainerGroup", err)
		}
		g := &resp.ContainerGroup
		listings = append(listings, job.Listing{
			Name:       name,
			VideoID:    tag(g.Tags, job.LabelVideoID),
			Downloader: tag(g.Tags, job.LabelDownloader),
			Phase:      observeGroup(g, c.now()).Phase,
			FinishedAt: groupFinishedAt(g),
		})
	}
	return listings, nil
}

// Ready checks that the resource group can be listed with the configured
// credential.
func (c *Compute) Ready(ctx context.Context) error {
	pager := c.groups.NewListByResourceGroupPager(c.cfg.ResourceGroup, nil)
	if _, err := pager.NextPage(ctx); err != nil {
		return classify("aci.listContainerGroups", err)
	}
	return nil
}

// Close implements job.Compute. The ARM clients hold no resources.
func (c *Compute) Close() error { return nil }

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// classify wraps an ARM error. Throttling, server errors and connectivity
// failures are transient.
func classify(op string, err error) error {
	if isTransient(err) {
		return apperrors.Transient(op, err)
	}
	return apperrors.Internal(op, err)
}

func isTransient(err error) bool {
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusTooManyRequests ||
			respErr.StatusCode == http.StatusRequestTimeout ||
			respErr.StatusCode >= http.StatusInternalServerError
	}
	// Anything without an HTTP response never reached ARM.
	return !errors.Is(err, context.Canceled)
}

func memoryInGB(mb int) float64 {
	// ACI accepts memory in 0.1 GB steps.
	gb := float64((mb+99)/100) / 10
	if gb < 0.1 {
		gb = 0.1
	}
	return gb
}

var (
	_ job.Compute = (*Compute)(nil)
	_ job.Lister  = (*Compute)(nil)
)
