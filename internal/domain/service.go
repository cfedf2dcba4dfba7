package domain

import (
	"regexp"
	"time"
)

// ServiceType classifies the workloads a project can contain.
type ServiceType string

// Supported service types.
const (
	ServiceAPI      ServiceType = "API"
	ServiceWorker   ServiceType = "WORKER"
	ServiceFrontend ServiceType = "FRONTEND"
	ServiceDatabase ServiceType = "DATABASE"
)

// ServiceStatus tracks a service within its project.
type ServiceStatus string

// Service lifecycle states.
const (
	ServicePlanned    ServiceStatus = "planned"
	ServiceActive     ServiceStatus = "active"
	ServiceInactive   ServiceStatus = "inactive"
	ServiceDeprecated ServiceStatus = "deprecated"
)

// ResourceLimits bounds a service's scheduling footprint.
type ResourceLimits struct {
	CPUMillis int `json:"cpuMillis,omitempty"`
	MemoryMB  int `json:"memoryMb,omitempty"`
}

// ServiceConfig holds per-service overrides. Env values are sealed with
// AES-GCM before they enter the aggregate snapshot.
type ServiceConfig struct {
	Runtime   string            `json:"runtime,omitempty"`
	Limits    ResourceLimits    `json:"limits,omitempty"`
	Endpoints []string          `json:"endpoints,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Service is a deployable unit owned by exactly one project.
type Service struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Name        string        `json:"name"`
	Type        ServiceType   `json:"type"`
	Description string        `json:"description,omitempty"`
	Status      ServiceStatus `json:"status"`
	Config      ServiceConfig `json:"config"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

var kebabName = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidServiceName reports whether name is kebab-case.
func ValidServiceName(name string) bool {
	return len(name) <= 63 && kebabName.MatchString(name)
}

// ValidServiceType reports enum membership.
func ValidServiceType(t ServiceType) bool {
	switch t {
	case ServiceAPI, ServiceWorker, ServiceFrontend, ServiceDatabase:
		return true
	}
	return false
}

// ValidServiceStatus reports enum membership.
func ValidServiceStatus(s ServiceStatus) bool {
	switch s {
	case ServicePlanned, ServiceActive, ServiceInactive, ServiceDeprecated:
		return true
	}
	return false
}
