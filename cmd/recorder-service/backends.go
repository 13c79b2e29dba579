package main

import (
	"context"
	"recorder/internal/backend"
	"recorder/internal/compute/aci"
	"recorder/internal/compute/docker"
	k8scompute "recorder/internal/compute/kubernetes"
	"recorder/internal/job"
	"recorder/internal/repository"
	"recorder/internal/sharedvolume"
	"recorder/internal/storage"
	"recorder/internal/video"
	"sync"

	"k8s.io/client-go/kubernetes"
)

// factories maps every backend service name to its constructor. Only the
// selected ones run, so unused backends need no configuration.
func factories() backend.Factories {
	// Kubernetes compute and the PVC share one clientset.
	clientset := sync.OnceValues(func() (kubernetes.Interface, error) {
		return k8scompute.NewClientset(k8scompute.LoadConfigFromEnv().Kubeconfig)
	})

	return backend.Factories{
		Compute: map[backend.ServiceName]func(context.Context) (job.Compute, error){
			backend.Docker: func(context.Context) (job.Compute, error) {
				return docker.New(docker.LoadConfigFromEnv())
			},
			backend.Kubernetes: func(context.Context) (job.Compute, error) {
				cs, err := clientset()
				if err != nil {
					return nil, err
				}
				return k8scompute.New(cs, k8scompute.LoadConfigFromEnv())
			},
			backend.AzureContainerInstance: func(context.Context) (job.Compute, error) {
				return aci.New(aci.LoadConfigFromEnv())
			},
		},
		SharedVolume: map[backend.ServiceName]func(context.Context) (sharedvolume.Volume, error){
			backend.DockerVolume: func(context.Context) (sharedvolume.Volume, error) {
				return sharedvolume.NewDockerVolume(sharedvolume.LoadDockerVolumeConfigFromEnv())
			},
			backend.KubernetesPVC: func(context.Context) (sharedvolume.Volume, error) {
				cs, err := clientset()
				if err != nil {
					return nil, err
				}
				return sharedvolume.NewKubernetesPVC(cs, sharedvolume.LoadPVCConfigFromEnv())
			},
			backend.AzureFileShare: func(context.Context) (sharedvolume.Volume, error) {
				return sharedvolume.NewAzureFileShare(sharedvolume.LoadAzureFileConfigFromEnv())
			},
		},
		Storage: map[backend.ServiceName]func(context.Context) (storage.Destination, error){
			backend.LocalStorage: func(context.Context) (storage.Destination, error) {
				return storage.NewLocal(storage.LoadLocalConfigFromEnv())
			},
			backend.S3: func(context.Context) (storage.Destination, error) {
				return storage.NewS3(storage.LoadS3ConfigFromEnv())
			},
		},
		Database: map[backend.ServiceName]func(context.Context) (video.Repository, error){
			backend.Memory: func(context.Context) (video.Repository, error) {
				return repository.NewMemory(), nil
			},
			backend.Redis: func(ctx context.Context) (video.Repository, error) {
				return repository.NewRedis(ctx, repository.LoadRedisConfigFromEnv())
			},
			backend.SQLite: func(ctx context.Context) (video.Repository, error) {
				return repository.NewSQLite(ctx, repository.LoadSQLiteConfigFromEnv())
			},
			backend.Badger: func(context.Context) (video.Repository, error) {
				return repository.NewBadger(repository.LoadBadgerConfigFromEnv())
			},
		},
	}
}
