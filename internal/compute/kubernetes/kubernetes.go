// Package kubernetes implements job.Compute with batch/v1 Jobs. Each
// recording is one Job with a single pod that is never restarted.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"sort"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	containerName = "recorder"

	// labelJobName selects the pods of one job. Label values are restricted,
	// so video ids and downloader names travel as annotations instead.
	labelJobName = "recorder.job-name"
)

// Compute runs jobs as Kubernetes Jobs.
type Compute struct {
	client kubernetes.Interface
	cfg    Config
	now    func() time.Time
}

// New creates a Kubernetes compute backend using an existing clientset.
func New(client kubernetes.Interface, cfg Config) (*Compute, error) {
	if client == nil {
		return nil, fmt.Errorf("kubernetes client is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	switch corev1.PullPolicy(cfg.ImagePullPolicy) {
	case "":
		cfg.ImagePullPolicy = string(corev1.PullIfNotPresent)
	case corev1.PullAlways, corev1.PullIfNotPresent, corev1.PullNever:
	default:
		return nil, apperrors.Validation("KUBERNETES_IMAGE_PULL_POLICY", fmt.Sprintf("unknown pull policy %q", cfg.ImagePullPolicy))
	}
	return &Compute{client: client, cfg: cfg, now: time.Now}, nil
}

// Name implements job.Compute.
func (c *Compute) Name() string { return "Kubernetes" }

// Submit implements job.Compute.
func (c *Compute) Submit(ctx context.Context, spec *job.Spec) (string, error) {
	obj, err := c.jobObject(spec)
	if err != nil {
		return "", err
	}

	created, err := c.client.BatchV1().Jobs(c.cfg.Namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			return "", apperrors.Conflict("job", spec.Name, fmt.Sprintf("job %s already exists", spec.Name))
		}
		return "", classify("kubernetes.createJob", err)
	}

	slog.Info("Kubernetes job created", "job", spec.Name, "namespace", c.cfg.Namespace, "uid", created.UID)
	return string(created.UID), nil
}

// jobObject translates a job spec into a batch/v1 Job.
func (c *Compute) jobObject(spec *job.Spec) (*batchv1.Job, error) {
	env := make([]corev1.EnvVar, 0, len(spec.Environment))
	for k, v := range spec.Environment {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })

	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount
	for i, m := range spec.Mounts {
		if m.Kind != job.MountPVC {
			return nil, apperrors.Validation("mounts", fmt.Sprintf("mounts[%d]: kubernetes cannot attach %s mounts", i, m.Kind))
		}
		volName := fmt.Sprintf("shared-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: m.Source},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: m.Target, ReadOnly: m.ReadOnly})
	}

	quantities := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(spec.CPU*1000), resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(int64(spec.Memory)*1024*1024, resource.BinarySI),
	}

	labels := map[string]string{
		job.LabelManagedBy: job.ManagedByValue,
		labelJobName:       spec.Name,
	}
	annotations := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		if k != job.LabelManagedBy {
			annotations[k] = v
		}
	}

	var pullSecrets []corev1.LocalObjectReference
	for _, name := range c.cfg.ImagePullSecrets {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: name})
	}

	backoffLimit := int32(0)
	deadline := int64(spec.TimeoutSeconds)
	var ttl *int32
	if c.cfg.TTLAfterFinished > 0 {
		secs := int32(c.cfg.TTLAfterFinished.Seconds())
		ttl = &secs
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.Name,
			Namespace:   c.cfg.Namespace,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			ActiveDeadlineSeconds:   &deadline,
			TTLSecondsAfterFinished: ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels, Annotations: annotations},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: c.cfg.ServiceAccount,
					ImagePullSecrets:   pullSecrets,
					Volumes:            volumes,
					Containers: []corev1.Container{{
						Name:            containerName,
						Image:           spec.Image,
						Command:         spec.Command,
						Args:            spec.Args,
						Env:             env,
						WorkingDir:      spec.WorkingDir,
						VolumeMounts:    mounts,
						ImagePullPolicy: corev1.PullPolicy(c.cfg.ImagePullPolicy),
						Resources: corev1.ResourceRequirements{
							Requests: quantities,
							Limits:   quantities,
						},
						// The log tail becomes the termination message on failure.
						TerminationMessagePolicy: corev1.TerminationMessageFallbackToLogsOnError,
					}},
				},
			},
		},
	}, nil
}

// Observe implements job.Compute.
func (c *Compute) Observe(ctx context.Context, name string) (*job.Observation, error) {
	obj, err := c.client.BatchV1().Jobs(c.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return &job.Observation{Name: name, Phase: job.PhaseNotFound, ObservedAt: c.now()}, nil
		}
		return nil, classify("kubernetes.getJob", err)
	}

	obs := observeJob(obj)
	obs.Name = name
	obs.ObservedAt = c.now()
	obs.FinishedAt = jobFinishedAt(obj)

	// Pod detail refines Pending/Running and supplies exit codes.
	if obs.Phase == job.PhaseSucceeded {
		return obs, nil
	}
	pod, err := c.latestPod(ctx, name)
	if err != nil {
		return nil, err
	}
	if pod != nil {
		refineWithPod(obs, pod)
	}
	return obs, nil
}

func (c *Compute) latestPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pods, err := c.client.CoreV1().Pods(c.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelJobName + "=" + name,
	})
	if err != nil {
		return nil, classify("kubernetes.listPods", err)
	}
	var latest *corev1.Pod
	for i := range pods.Items {
		p := &pods.Items[i]
		if latest == nil || latest.CreationTimestamp.Before(&p.CreationTimestamp) {
			latest = p
		}
	}
	return latest, nil
}

// Delete implements job.Compute. Pods are removed with the Job.
func (c *Compute) Delete(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := c.client.BatchV1().Jobs(c.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return classify("kubernetes.deleteJob", err)
	}
	return nil
}

// List implements job.Lister.
func (c *Compute) List(ctx context.Context) ([]job.Listing, error) {
	jobs, err := c.client.BatchV1().Jobs(c.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: job.LabelManagedBy + "=" + job.ManagedByValue,
	})
	if err != nil {
		return nil, classify("kubernetes.listJobs", err)
	}

	listings := make([]job.Listing, 0, len(jobs.Items))
	for i := range jobs.Items {
		obj := &jobs.Items[i]
		listings = append(listings, job.Listing{
			Name:       obj.Name,
			VideoID:    obj.Annotations[job.LabelVideoID],
			Downloader: obj.Annotations[job.LabelDownloader],
			Phase:      observeJob(obj).Phase,
			FinishedAt: jobFinishedAt(obj),
		})
	}
	return listings, nil
}

// Ready checks that the API server is reachable.
func (c *Compute) Ready(ctx context.Context) error {
	if _, err := c.client.Discovery().ServerVersion(); err != nil {
		return classify("kubernetes.serverVersion", err)
	}
	return nil
}

// Close implements job.Compute. The clientset holds no resources.
func (c *Compute) Close() error { return nil }

// classify wraps a Kubernetes API error. Throttling, timeouts and
// unreachable servers are transient.
func classify(op string, err error) error {
	if isTransient(err) {
		return apperrors.Transient(op, err)
	}
	return apperrors.Internal(op, err)
}

func isTransient(err error) bool {
	var netErr net.Error
	switch {
	case apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.As(err, &netErr):
		return true
	}
	return false
}

var (
	_ job.Compute = (*Compute)(nil)
	_ job.Lister  = (*Compute)(nil)
)
