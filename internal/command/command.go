// Package command is the entry point for every mutation: it validates
// payloads, replays idempotent duplicates, dispatches to the domain
// services, persists aggregates under optimistic concurrency and stages
// domain events for the bus.
package command

import (
	"encoding/json"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
)

// Command is the closed set of mutations the processor accepts.
type Command interface {
	// Kind names the command for logging and validation messages.
	Kind() string
}

// CreateProject registers a new project for the caller.
type CreateProject struct {
	Name        string               `json:"name" validate:"required,min=1,max=100"`
	Description string               `json:"description" validate:"max=1024"`
	Config      domain.ProjectConfig `json:"config"`
}

// UpdateProject mutates project attributes. Nil fields stay untouched.
type UpdateProject struct {
	ProjectID   string                `json:"projectId" validate:"required,uuid4"`
	Name        *string               `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string               `json:"description" validate:"omitempty,max=1024"`
	Status      *string               `json:"status" validate:"omitempty,oneof=draft configuring ready deploying deployed failed"`
	Config      *domain.ProjectConfig `json:"config"`
}

// DeleteProject soft deletes a project with a retention window.
type DeleteProject struct {
	ProjectID string `json:"projectId" validate:"required,uuid4"`
}

// AddService registers a service under a project.
type AddService struct {
	ProjectID   string        `json:"projectId" validate:"required,uuid4"`
	Name        string        `json:"name" validate:"required,kebabcase,max=63"`
	Type        string        `json:"type" validate:"required,oneof=API WORKER FRONTEND DATABASE"`
	Description string        `json:"description" validate:"max=1024"`
	Config      ServiceConfig `json:"config"`
}

// UpdateService mutates service attributes.
type UpdateService struct {
	ProjectID   string         `json:"projectId" validate:"required,uuid4"`
	ServiceID   string         `json:"serviceId" validate:"required,uuid4"`
	Description *string        `json:"description" validate:"omitempty,max=1024"`
	Status      *string        `json:"status" validate:"omitempty,oneof=planned active inactive deprecated"`
	Config      *ServiceConfig `json:"config"`
}

// RemoveService deletes a service, optionally cascading its relationships.
type RemoveService struct {
	ProjectID string `json:"projectId" validate:"required,uuid4"`
	ServiceID string `json:"serviceId" validate:"required,uuid4"`
	Reason    string `json:"reason" validate:"max=512"`
	Force     bool   `json:"force"`
}

// EstablishRelationship inserts a typed dependency edge.
type EstablishRelationship struct {
	ProjectID       string          `json:"projectId" validate:"required,uuid4"`
	SourceServiceID string          `json:"sourceServiceId" validate:"required,uuid4"`
	TargetServiceID string          `json:"targetServiceId" validate:"required,uuid4,nefield=SourceServiceID"`
	Type            string          `json:"type" validate:"required,oneof=SYNC_API ASYNC_EVENT DATA_DEPENDENCY"`
	Config          json.RawMessage `json:"config"`
}

// RemoveRelationship deletes a dependency edge.
type RemoveRelationship struct {
	ProjectID      string `json:"projectId" validate:"required,uuid4"`
	RelationshipID string `json:"relationshipId" validate:"required,uuid4"`
	Reason         string `json:"reason" validate:"max=512"`
}

// StartDeployment requests a deployment of a project into an environment.
type StartDeployment struct {
	ProjectID   string `json:"projectId" validate:"required,uuid4"`
	Environment string `json:"environment" validate:"required,oneof=development staging production"`
	Strategy    string `json:"strategy" validate:"required,oneof=blue-green rolling canary recreate"`
	Version     string `json:"version" validate:"required,max=128"`
}

// ApproveDeployment releases a parked production deployment.
type ApproveDeployment struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid4"`
}

// ReportDeploymentStep carries a step completion from the executor.
type ReportDeploymentStep struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid4"`
	Step         string `json:"step" validate:"required,max=64"`
	Status       string `json:"status" validate:"required,oneof=succeeded failed"`
	Output       string `json:"output" validate:"max=4096"`
}

// CancelDeployment aborts a pending or running deployment.
type CancelDeployment struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid4"`
	Reason       string `json:"reason" validate:"max=512"`
}

// RollbackDeployment reverses a running or failed deployment.
type RollbackDeployment struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid4"`
	Reason       string `json:"reason" validate:"max=512"`
}

// CheckDeploymentTimeout forces an expired deployment to timeout; issued by
// the external poller.
type CheckDeploymentTimeout struct {
	DeploymentID string `json:"deploymentId" validate:"required,uuid4"`
}

// ServiceConfig carries plaintext service configuration from the API.
type ServiceConfig struct {
	Runtime   string            `json:"runtime" validate:"max=64"`
	CPUMillis int               `json:"cpuMillis" validate:"min=0,max=64000"`
	MemoryMB  int               `json:"memoryMb" validate:"min=0,max=262144"`
	Endpoints []string          `json:"endpoints" validate:"max=32,dive,max=256"`
	Env       map[string]string `json:"env" validate:"max=128"`
}

func (CreateProject) Kind() string          { return "CreateProject" }
func (UpdateProject) Kind() string          { return "UpdateProject" }
func (DeleteProject) Kind() string          { return "DeleteProject" }
func (AddService) Kind() string             { return "AddService" }
func (UpdateService) Kind() string          { return "UpdateService" }
func (RemoveService) Kind() string          { return "RemoveService" }
func (EstablishRelationship) Kind() string  { return "EstablishRelationship" }
func (RemoveRelationship) Kind() string     { return "RemoveRelationship" }
func (StartDeployment) Kind() string        { return "StartDeployment" }
func (ApproveDeployment) Kind() string      { return "ApproveDeployment" }
func (ReportDeploymentStep) Kind() string   { return "ReportDeploymentStep" }
func (CancelDeployment) Kind() string       { return "CancelDeployment" }
func (RollbackDeployment) Kind() string     { return "RollbackDeployment" }
func (CheckDeploymentTimeout) Kind() string { return "CheckDeploymentTimeout" }
