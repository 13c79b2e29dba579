// Package backend binds one implementation per role (compute, shared
// volume, storage, database) from configuration and validates the
// combination at startup. The registry is immutable once built.
package backend

import (
	"fmt"
	"recorder/internal/apperrors"
	"strings"
)

// Role is the slot a service fills.
type Role string

// Roles
const (
	RoleCompute      Role = "compute"
	RoleSharedVolume Role = "sharedVolume"
	RoleStorage      Role = "storage"
	RoleDatabase     Role = "database"
)

// Roles lists every role that must be bound.
var Roles = []Role{RoleCompute, RoleSharedVolume, RoleStorage, RoleDatabase}

// ServiceName identifies a concrete backend implementation.
type ServiceName string

// Compute services
const (
	AzureContainerInstance ServiceName = "AzureContainerInstance"
	Kubernetes             ServiceName = "Kubernetes"
	Docker                 ServiceName = "Docker"
)

// Shared volume services
const (
	AzureFileShare ServiceName = "AzureFileShare"
	KubernetesPVC  ServiceName = "KubernetesPVC"
	DockerVolume   ServiceName = "DockerVolume"
)

// Storage services
const (
	LocalStorage ServiceName = "LocalStorage"
	S3           ServiceName = "S3"
)

// Database services
const (
	Memory ServiceName = "Memory"
	Redis  ServiceName = "Redis"
	SQLite ServiceName = "SQLite"
	Badger ServiceName = "Badger"
)

var roles = map[ServiceName]Role{
	AzureContainerInstance: RoleCompute,
	Kubernetes:             RoleCompute,
	Docker:                 RoleCompute,
	AzureFileShare:         RoleSharedVolume,
	KubernetesPVC:          RoleSharedVolume,
	DockerVolume:           RoleSharedVolume,
	LocalStorage:           RoleStorage,
	S3:                     RoleStorage,
	Memory:                 RoleDatabase,
	Redis:                  RoleDatabase,
	SQLite:                 RoleDatabase,
	Badger:                 RoleDatabase,
}

// volumeFor is the shared volume kind each compute backend can mount.
var volumeFor = map[ServiceName]ServiceName{
	Docker:                 DockerVolume,
	Kubernetes:             KubernetesPVC,
	AzureContainerInstance: AzureFileShare,
}

// Role returns the role of the service, or "" for an unknown name.
func (s ServiceName) Role() Role { return roles[s] }

// ParseServiceName parses a service name, ignoring case.
func ParseServiceName(s string) (ServiceName, error) {
	s = strings.TrimSpace(s)
	for name := range roles {
		if strings.EqualFold(string(name), s) {
			return name, nil
		}
	}
	return "", apperrors.Validation("BACKENDS", fmt.Sprintf("unknown backend service %q", s))
}

// Selection holds exactly one service per role.
type Selection struct {
	Compute      ServiceName
	SharedVolume ServiceName
	Storage      ServiceName
	Database     ServiceName
}

// Get returns the service bound to role.
func (s Selection) Get(role Role) ServiceName {
	switch role {
	case RoleCompute:
		return s.Compute
	case RoleSharedVolume:
		return s.SharedVolume
	case RoleStorage:
		return s.Storage
	case RoleDatabase:
		return s.Database
	}
	return ""
}

// Resolve partitions configured service names by role. Every role must be
// bound exactly once.
func Resolve(names []string) (Selection, error) {
	byRole := make(map[Role][]ServiceName)
	for _, raw := range names {
		name, err := ParseServiceName(raw)
		if err != nil {
			return Selection{}, err
		}
		byRole[name.Role()] = append(byRole[name.Role()], name)
	}

	for _, role := range Roles {
		switch n := len(byRole[role]); {
		case n == 0:
			return Selection{}, apperrors.Validation("BACKENDS", fmt.Sprintf("no %s backend configured", role))
		case n > 1:
			return Selection{}, apperrors.Validation("BACKENDS", fmt.Sprintf("%d %s backends configured %v, exactly one is allowed", n, role, byRole[role]))
		}
	}

	sel := Selection{
		Compute:      byRole[RoleCompute][0],
		SharedVolume: byRole[RoleSharedVolume][0],
		Storage:      byRole[RoleStorage][0],
		Database:     byRole[RoleDatabase][0],
	}
	return sel, Validate(sel)
}

// Validate checks roles and the compute/shared volume pairing.
func Validate(sel Selection) error {
	for _, role := range Roles {
		name := sel.Get(role)
		if name == "" {
			return apperrors.Validation("BACKENDS", fmt.Sprintf("no %s backend configured", role))
		}
		if name.Role() != role {
			return apperrors.Validation("BACKENDS", fmt.Sprintf("%s is not a %s backend", name, role))
		}
	}
	if want := volumeFor[sel.Compute]; sel.SharedVolume != want {
		return apperrors.Validation("BACKENDS", fmt.Sprintf("%s compute requires %s shared volume, got %s", sel.Compute, want, sel.SharedVolume))
	}
	return nil
}
