// Package registry owns the service and relationship lifecycle within one
// project. Structural checks (cycles, dependents) are delegated to the graph
// package; the registry enforces naming, uniqueness and cascade rules.
package registry

import (
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/internal/graph"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
	"github.com/Bikxs/Skafu-sub001/pkg/crypto"
)

// Service applies registry commands to aggregate state.
type Service struct {
	logger *slog.Logger
	cfg    config.APIConfig
}

// New returns a registry service.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{logger: logger, cfg: cfg}
}

// ConfigInput carries plaintext service configuration. Env values are sealed
// before they reach the aggregate.
type ConfigInput struct {
	Runtime   string
	CPUMillis int
	MemoryMB  int
	Endpoints []string
	Env       map[string]string
}

// AddServiceInput encapsulates service creation attributes.
type AddServiceInput struct {
	Name        string
	Type        domain.ServiceType
	Description string
	Config      ConfigInput
}

// UpdateServiceInput captures mutable service fields.
type UpdateServiceInput struct {
	ServiceID   string
	Description *string
	Status      *domain.ServiceStatus
	Config      *ConfigInput
}

// RelationshipInput describes a new dependency edge.
type RelationshipInput struct {
	SourceServiceID string
	TargetServiceID string
	Type            domain.RelationshipType
	Config          json.RawMessage
}

// AddService registers a service under the project.
func (s Service) AddService(agg *domain.ProjectAggregate, input AddServiceInput, now time.Time) (*domain.Service, []domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	name := strings.TrimSpace(input.Name)
	if !domain.ValidServiceName(name) {
		return nil, nil, domain.NewValidation("service name %q must be kebab-case", name)
	}
	if !domain.ValidServiceType(input.Type) {
		return nil, nil, domain.NewValidation("unknown service type %q", input.Type)
	}
	if agg.ServiceByName(name) != nil {
		return nil, nil, domain.NewConflict(domain.RuleNameTaken,
			"service name %q already exists in project %s", name, agg.Project.ID)
	}
	cfg, err := s.sealConfig(input.Config)
	if err != nil {
		return nil, nil, domain.NewInternal(err, "seal service configuration")
	}
	now = now.UTC()
	svc := domain.Service{
		ID:          uuid.NewString(),
		ProjectID:   agg.Project.ID,
		Name:        name,
		Type:        input.Type,
		Description: strings.TrimSpace(input.Description),
		Status:      domain.ServicePlanned,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	agg.Services = append(agg.Services, svc)
	if agg.Project.Status == domain.ProjectDraft {
		agg.Project.Status = domain.ProjectConfiguring
	}
	agg.Touch(now)

	event := domain.NewEvent(domain.EventServiceAdded, agg.Project.ID, map[string]any{
		"serviceId": svc.ID,
		"name":      svc.Name,
		"type":      svc.Type,
	}, now)
	s.logger.Info("service added", "project_id", agg.Project.ID, "service_id", svc.ID, "name", svc.Name)
	return &svc, []domain.Event{event}, nil
}

// UpdateService applies mutable fields to an existing service.
func (s Service) UpdateService(agg *domain.ProjectAggregate, input UpdateServiceInput, now time.Time) ([]domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	svc := agg.ServiceByID(input.ServiceID)
	if svc == nil {
		return nil, domain.NewNotFound("service", input.ServiceID)
	}
	now = now.UTC()
	changed := map[string]any{"serviceId": svc.ID}
	var events []domain.Event
	if input.Description != nil {
		svc.Description = strings.TrimSpace(*input.Description)
		changed["description"] = svc.Description
	}
	if input.Status != nil {
		if !domain.ValidServiceStatus(*input.Status) {
			return nil, domain.NewValidation("unknown service status %q", *input.Status)
		}
		svc.Status = *input.Status
		changed["status"] = svc.Status
	}
	if input.Config != nil {
		cfg, err := s.sealConfig(*input.Config)
		if err != nil {
			return nil, domain.NewInternal(err, "seal service configuration")
		}
		svc.Config = cfg
		events = append(events, domain.NewEvent(domain.EventServiceConfigurationUpdated, agg.Project.ID, map[string]any{
			"serviceId": svc.ID,
			"runtime":   cfg.Runtime,
			"endpoints": cfg.Endpoints,
		}, now))
	}
	svc.UpdatedAt = now
	agg.Touch(now)
	events = append(events, domain.NewEvent(domain.EventServiceUpdated, agg.Project.ID, changed, now))
	return events, nil
}

// RemoveService deletes a service. Unforced removal is blocked while other
// services depend on it; forced removal cascades every touching edge and
// emits one removal event per edge.
func (s Service) RemoveService(agg *domain.ProjectAggregate, serviceID, reason string, force bool, now time.Time) ([]domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	svc := agg.ServiceByID(serviceID)
	if svc == nil {
		return nil, domain.NewNotFound("service", serviceID)
	}
	dependents := graph.Dependents(agg.Relationships, serviceID)
	if len(dependents) > 0 && !force {
		return nil, domain.NewConflict(domain.RuleDependentsExist,
			"service %s has %d dependent service(s); remove the relationships or force removal",
			serviceID, len(dependents))
	}
	now = now.UTC()
	var events []domain.Event
	for _, edge := range graph.EdgesTouching(agg.Relationships, serviceID) {
		events = append(events, domain.NewEvent(domain.EventRelationshipRemoved, agg.Project.ID, map[string]any{
			"relationshipId": edge.ID,
			"sourceId":       edge.SourceServiceID,
			"targetId":       edge.TargetServiceID,
			"reason":         reason,
		}, now))
	}
	agg.Relationships = graph.Without(agg.Relationships, serviceID)

	survivors := make([]domain.Service, 0, len(agg.Services)-1)
	for _, existing := range agg.Services {
		if existing.ID != serviceID {
			survivors = append(survivors, existing)
		}
	}
	agg.Services = survivors
	agg.Touch(now)

	events = append(events, domain.NewEvent(domain.EventServiceRemoved, agg.Project.ID, map[string]any{
		"serviceId": serviceID,
		"reason":    reason,
		"forced":    force,
	}, now))
	s.logger.Info("service removed", "project_id", agg.Project.ID, "service_id", serviceID, "forced", force)
	return events, nil
}

// EstablishRelationship inserts a typed dependency edge, rejecting edges
// that would close a cycle.
func (s Service) EstablishRelationship(agg *domain.ProjectAggregate, input RelationshipInput, now time.Time) (*domain.Relationship, []domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	if !domain.ValidRelationshipType(input.Type) {
		return nil, nil, domain.NewValidation("unknown relationship type %q", input.Type)
	}
	if agg.ServiceByID(input.SourceServiceID) == nil {
		return nil, nil, domain.NewNotFound("service", input.SourceServiceID)
	}
	if agg.ServiceByID(input.TargetServiceID) == nil {
		return nil, nil, domain.NewNotFound("service", input.TargetServiceID)
	}
	if graph.HasEdge(agg.Relationships, input.SourceServiceID, input.TargetServiceID) {
		return nil, nil, domain.NewConflict(domain.RuleDuplicateEdge,
			"relationship %s -> %s already exists", input.SourceServiceID, input.TargetServiceID)
	}
	if graph.WouldCreateCycle(agg.Relationships, input.SourceServiceID, input.TargetServiceID) {
		return nil, nil, domain.NewConflict(domain.RuleCircularDep,
			"relationship %s -> %s would create a cycle", input.SourceServiceID, input.TargetServiceID)
	}
	now = now.UTC()
	rel := domain.Relationship{
		ID:              uuid.NewString(),
		SourceServiceID: input.SourceServiceID,
		TargetServiceID: input.TargetServiceID,
		Type:            input.Type,
		Config:          input.Config,
		CreatedAt:       now,
	}
	agg.Relationships = append(agg.Relationships, rel)
	agg.Touch(now)

	event := domain.NewEvent(domain.EventRelationshipEstablished, agg.Project.ID, map[string]any{
		"relationshipId": rel.ID,
		"sourceId":       rel.SourceServiceID,
		"targetId":       rel.TargetServiceID,
		"type":           rel.Type,
	}, now)
	return &rel, []domain.Event{event}, nil
}

// RemoveRelationship deletes an edge; removal is always structurally safe.
func (s Service) RemoveRelationship(agg *domain.ProjectAggregate, relationshipID, reason string, now time.Time) ([]domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	rel := agg.RelationshipByID(relationshipID)
	if rel == nil {
		return nil, domain.NewNotFound("relationship", relationshipID)
	}
	removed := *rel
	survivors := make([]domain.Relationship, 0, len(agg.Relationships)-1)
	for _, edge := range agg.Relationships {
		if edge.ID != relationshipID {
			survivors = append(survivors, edge)
		}
	}
	agg.Relationships = survivors
	now = now.UTC()
	agg.Touch(now)

	event := domain.NewEvent(domain.EventRelationshipRemoved, agg.Project.ID, map[string]any{
		"relationshipId": removed.ID,
		"sourceId":       removed.SourceServiceID,
		"targetId":       removed.TargetServiceID,
		"reason":         reason,
	}, now)
	return []domain.Event{event}, nil
}

func (s Service) sealConfig(input ConfigInput) (domain.ServiceConfig, error) {
	sealed, err := crypto.SealEnv(s.cfg.ConfigEncryptionKey, input.Env)
	if err != nil {
		return domain.ServiceConfig{}, err
	}
	return domain.ServiceConfig{
		Runtime: strings.TrimSpace(input.Runtime),
		Limits: domain.ResourceLimits{
			CPUMillis: input.CPUMillis,
			MemoryMB:  input.MemoryMB,
		},
		Endpoints: input.Endpoints,
		Env:       sealed,
	}, nil
}
