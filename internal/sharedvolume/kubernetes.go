package sharedvolume

import (
	"context"
	"fmt"
	"log/slog"
	"recorder/internal/apperrors"
	"recorder/internal/config"
	"recorder/internal/job"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// PVCConfig configures a Kubernetes PersistentVolumeClaim binding.
type PVCConfig struct {
	Namespace    string
	ClaimName    string
	Create       bool   // create the claim when missing
	StorageClass string // used on create; empty selects the cluster default
	Size         string // used on create, e.g. "100Gi"
}

// LoadPVCConfigFromEnv loads PVC configuration from environment variables.
func LoadPVCConfigFromEnv() PVCConfig {
	return PVCConfig{
		Namespace:    config.GetEnv("KUBERNETES_NAMESPACE", "default"),
		ClaimName:    config.GetEnv("KUBERNETES_PVC_NAME", "recorder-data"),
		Create:       config.GetBoolEnv("KUBERNETES_PVC_CREATE", false),
		StorageClass: config.GetEnv("KUBERNETES_PVC_STORAGE_CLASS", ""),
		Size:         config.GetEnv("KUBERNETES_PVC_SIZE", "100Gi"),
	}
}

// KubernetesPVC is a ReadWriteMany claim shared by all job pods.
type KubernetesPVC struct {
	client kubernetes.Interface
	cfg    PVCConfig
}

// NewKubernetesPVC creates a PVC binding using an existing clientset.
func NewKubernetesPVC(client kubernetes.Interface, cfg PVCConfig) (*KubernetesPVC, error) {
	if cfg.ClaimName == "" {
		return nil, apperrors.Validation("KUBERNETES_PVC_NAME", "claim name is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.Create {
		if _, err := resource.ParseQuantity(cfg.Size); err != nil {
			return nil, apperrors.Validation("KUBERNETES_PVC_SIZE", fmt.Sprintf("invalid size %q: %v", cfg.Size, err))
		}
	}
	return &KubernetesPVC{client: client, cfg: cfg}, nil
}

// Name implements Volume.
func (k *KubernetesPVC) Name() string { return "KubernetesPVC" }

// Ensure implements Volume. A claim that is still Pending is accepted
// since WaitForFirstConsumer storage classes bind on the first pod.
func (k *KubernetesPVC) Ensure(ctx context.Context) error {
	claims := k.client.CoreV1().PersistentVolumeClaims(k.cfg.Namespace)

	pvc, err := claims.Get(ctx, k.cfg.ClaimName, metav1.GetOptions{})
	switch {
	case err == nil:
		if pvc.Status.Phase == corev1.ClaimLost {
			return apperrors.Conflict("volume", k.cfg.ClaimName, fmt.Sprintf("claim %s lost its volume", k.cfg.ClaimName))
		}
		return nil
	case !apierrors.IsNotFound(err):
		return apperrors.Transient("kubernetes.getClaim", err)
	case !k.cfg.Create:
		return apperrors.NotFound("volume", k.cfg.ClaimName)
	}

	claim := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      k.cfg.ClaimName,
			Namespace: k.cfg.Namespace,
			Labels:    map[string]string{job.LabelManagedBy: job.ManagedByValue},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(k.cfg.Size),
				},
			},
		},
	}
	if k.cfg.StorageClass != "" {
		sc := k.cfg.StorageClass
		claim.Spec.StorageClassName = &sc
	}

	_, err = claims.Create(ctx, claim, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return apperrors.Transient("kubernetes.createClaim", err)
	}
	slog.Info("Created shared volume claim", "namespace", k.cfg.Namespace, "claim", k.cfg.ClaimName)
	return nil
}

// Mount implements Volume.
func (k *KubernetesPVC) Mount(target string) job.Mount {
	return job.Mount{Kind: job.MountPVC, Source: k.cfg.ClaimName, Target: target}
}

// Close implements Volume. The clientset is owned by the caller.
func (k *KubernetesPVC) Close() error { return nil }
