package backend

import (
	"context"
	"errors"
	"recorder/internal/apperrors"
	"recorder/internal/job"
	"recorder/internal/repository"
	"recorder/internal/sharedvolume"
	"recorder/internal/storage"
	"recorder/internal/testutil"
	"recorder/internal/video"
	"strings"
	"testing"
)

func TestServiceName_Role(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name ServiceName
		role Role
	}{
		{AzureContainerInstance, RoleCompute},
		{Kubernetes, RoleCompute},
		{Docker, RoleCompute},
		{AzureFileShare, RoleSharedVolume},
		{KubernetesPVC, RoleSharedVolume},
		{DockerVolume, RoleSharedVolume},
		{LocalStorage, RoleStorage},
		{S3, RoleStorage},
		{Memory, RoleDatabase},
		{Redis, RoleDatabase},
		{SQLite, RoleDatabase},
		{Badger, RoleDatabase},
		{"Nope", ""},
	}
	for _, tt := range tests {
		if got := tt.name.Role(); got != tt.role {
			t.Errorf("%s.Role() = %q, want %q", tt.name, got, tt.role)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		names   []string
		want    Selection
		wantErr string
	}{
		{
			name:  "docker stack",
			names: []string{"Docker", "DockerVolume", "LocalStorage", "SQLite"},
			want:  Selection{Compute: Docker, SharedVolume: DockerVolume, Storage: LocalStorage, Database: SQLite},
		},
		{
			name:  "case insensitive",
			names: []string{"kubernetes", "kubernetespvc", "s3", "redis"},
			want:  Selection{Compute: Kubernetes, SharedVolume: KubernetesPVC, Storage: S3, Database: Redis},
		},
		{
			name:  "aci stack",
			names: []string{"AzureContainerInstance", "AzureFileShare", "S3", "Badger"},
			want:  Selection{Compute: AzureContainerInstance, SharedVolume: AzureFileShare, Storage: S3, Database: Badger},
		},
		{
			name:    "missing compute",
			names:   []string{"DockerVolume", "LocalStorage", "SQLite"},
			wantErr: "no compute backend",
		},
		{
			name:    "two databases",
			names:   []string{"Docker", "DockerVolume", "LocalStorage", "SQLite", "Redis"},
			wantErr: "exactly one is allowed",
		},
		{
			name:    "unknown service",
			names:   []string{"Docker", "DockerVolume", "LocalStorage", "Postgres"},
			wantErr: "unknown backend service",
		},
		{
			name:    "incompatible volume",
			names:   []string{"Kubernetes", "DockerVolume", "LocalStorage", "SQLite"},
			wantErr: "requires KubernetesPVC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tt.names)
			if tt.wantErr != "" {
				if !errors.Is(err, apperrors.ErrValidation) || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected validation error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidate_WrongRole(t *testing.T) {
	t.Parallel()
	err := Validate(Selection{Compute: Redis, SharedVolume: DockerVolume, Storage: LocalStorage, Database: Memory})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
}

type closeCounter struct {
	sharedvolume.Volume
	closed *int
}

func (c closeCounter) Close() error { *c.closed++; return nil }

func testFactories(closed *int) Factories {
	return Factories{
		Compute: map[ServiceName]func(context.Context) (job.Compute, error){
			Docker: func(context.Context) (job.Compute, error) { return testutil.NewCompute(), nil },
		},
		SharedVolume: map[ServiceName]func(context.Context) (sharedvolume.Volume, error){
			DockerVolume: func(context.Context) (sharedvolume.Volume, error) {
				v, err := sharedvolume.NewAzureFileShare(sharedvolume.AzureFileConfig{ShareName: "s", AccountName: "a", AccountKey: "k"})
				return closeCounter{Volume: v, closed: closed}, err
			},
		},
		Storage: map[ServiceName]func(context.Context) (storage.Destination, error){
			LocalStorage: func(context.Context) (storage.Destination, error) {
				return storage.NewLocal(storage.LocalConfig{Path: "/archive"})
			},
		},
		Database: map[ServiceName]func(context.Context) (video.Repository, error){
			Memory: func(context.Context) (video.Repository, error) { return repository.NewMemory(), nil },
		},
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()
	closed := 0
	sel := Selection{Compute: Docker, SharedVolume: DockerVolume, Storage: LocalStorage, Database: Memory}

	reg, err := Build(context.Background(), sel, testFactories(&closed))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reg.Compute() == nil || reg.SharedVolume() == nil || reg.Storage() == nil || reg.Database() == nil {
		t.Fatal("Expected every role to be bound")
	}
	if reg.Selection() != sel {
		t.Errorf("Selection = %+v, want %+v", reg.Selection(), sel)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected shared volume closed once, got %d", closed)
	}
}

func TestBuild_FailureClosesBuilt(t *testing.T) {
	t.Parallel()
	closed := 0
	f := testFactories(&closed)
	f.Compute[Docker] = func(context.Context) (job.Compute, error) {
		return nil, errors.New("daemon unreachable")
	}
	sel := Selection{Compute: Docker, SharedVolume: DockerVolume, Storage: LocalStorage, Database: Memory}

	_, err := Build(context.Background(), sel, f)
	if err == nil || !strings.Contains(err.Error(), "daemon unreachable") {
		t.Fatalf("Expected factory error, got %v", err)
	}
	if closed != 1 {
		t.Errorf("Expected built shared volume to be closed, got %d", closed)
	}
}

func TestBuild_MissingFactory(t *testing.T) {
	t.Parallel()
	closed := 0
	sel := Selection{Compute: Docker, SharedVolume: DockerVolume, Storage: S3, Database: Memory}
	_, err := Build(context.Background(), sel, testFactories(&closed))
	if err == nil || !strings.Contains(err.Error(), "no factory registered") {
		t.Fatalf("Expected missing factory error, got %v", err)
	}
}
