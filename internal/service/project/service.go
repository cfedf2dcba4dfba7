// Package project implements the project lifecycle rules: creation, updates,
// and soft deletion with a retention window. All operations are synchronous
// functions over the aggregate snapshot; persistence and event emission stay
// with the command processor.
package project

import (
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

// Service applies project commands to aggregate state.
type Service struct {
	logger *slog.Logger
	cfg    config.APIConfig
}

// New returns a project service.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{logger: logger, cfg: cfg}
}

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name        string
	Description string
	Config      domain.ProjectConfig
}

// UpdateInput captures mutable project fields. Nil pointers leave the field
// untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	Status      *domain.ProjectStatus
	Config      *domain.ProjectConfig
}

// Create builds a fresh aggregate in draft status.
func (s Service) Create(ownerID string, input CreateInput, now time.Time) (*domain.ProjectAggregate, []domain.Event, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, nil, domain.NewValidation("project name is required")
	}
	now = now.UTC()
	agg := &domain.ProjectAggregate{
		Project: domain.Project{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			Name:        name,
			Description: strings.TrimSpace(input.Description),
			Status:      domain.ProjectDraft,
			Config:      input.Config,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	event := domain.NewEvent(domain.EventProjectCreated, agg.Project.ID, map[string]any{
		"projectId": agg.Project.ID,
		"ownerId":   ownerID,
		"name":      name,
		"status":    agg.Project.Status,
	}, now)
	s.logger.Info("project created", "project_id", agg.Project.ID, "owner_id", ownerID)
	return agg, []domain.Event{event}, nil
}

// Update applies mutable fields, enforcing legal status transitions.
func (s Service) Update(agg *domain.ProjectAggregate, input UpdateInput, now time.Time) ([]domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	changed := map[string]any{"projectId": agg.Project.ID}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, domain.NewValidation("project name cannot be empty")
		}
		agg.Project.Name = name
		changed["name"] = name
	}
	if input.Description != nil {
		agg.Project.Description = strings.TrimSpace(*input.Description)
		changed["description"] = agg.Project.Description
	}
	if input.Status != nil {
		if !domain.ValidProjectStatus(*input.Status) {
			return nil, domain.NewValidation("unknown project status %q", *input.Status)
		}
		// Archival runs through Archive so retention, deployment
		// cancellation, and name release all happen together.
		if *input.Status == domain.ProjectArchived {
			return nil, domain.NewValidation("archived is not an update target, delete the project instead")
		}
		if !domain.CanTransition(agg.Project.Status, *input.Status) {
			return nil, domain.NewConflict(domain.RuleIllegalTransition,
				"project cannot move from %s to %s", agg.Project.Status, *input.Status)
		}
		agg.Project.Status = *input.Status
		changed["status"] = *input.Status
	}
	if input.Config != nil {
		agg.Project.Config = *input.Config
		changed["config"] = *input.Config
	}
	agg.Touch(now)
	event := domain.NewEvent(domain.EventProjectUpdated, agg.Project.ID, changed, now)
	return []domain.Event{event}, nil
}

// Archive soft deletes the project: the status moves to archived, a
// retention deadline is recorded, and any in-flight deployments are
// cancelled. Physical removal happens outside the core once retention
// expires.
func (s Service) Archive(agg *domain.ProjectAggregate, now time.Time) ([]domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is already archived", agg.Project.ID)
	}
	now = now.UTC()
	events := make([]domain.Event, 0, 2)
	for i := range agg.Deployments {
		d := &agg.Deployments[i]
		if d.Status.Terminal() {
			continue
		}
		d.Status = domain.DeploymentCancelled
		d.FailureReason = "project archived"
		completed := now
		d.CompletedAt = &completed
		d.UpdatedAt = now
		skipRemaining(d)
		events = append(events, domain.NewEvent(domain.EventDeploymentCancelled, agg.Project.ID, map[string]any{
			"deploymentId": d.ID,
			"reason":       "project archived",
		}, now))
	}
	retention := now.Add(s.cfg.ProjectRetention)
	agg.Project.Status = domain.ProjectArchived
	agg.Project.RetentionUntil = &retention
	agg.Touch(now)
	events = append(events, domain.NewEvent(domain.EventProjectDeleted, agg.Project.ID, map[string]any{
		"projectId":      agg.Project.ID,
		"retentionUntil": retention,
	}, now))
	s.logger.Info("project archived", "project_id", agg.Project.ID, "retention_until", retention)
	return events, nil
}

func skipRemaining(d *domain.Deployment) {
	for i := range d.Steps {
		if d.Steps[i].Status == domain.StepPending || d.Steps[i].Status == domain.StepRunning {
			d.Steps[i].Status = domain.StepSkipped
		}
	}
}
