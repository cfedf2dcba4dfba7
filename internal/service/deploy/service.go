// Package deploy drives the deployment state machine: pending -> running ->
// one of succeeded, failed, cancelled, timeout or rollback. The orchestrator
// validates transitions and tracks progress; step execution belongs to the
// external executor, which reports completions back through the command
// surface.
package deploy

import (
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

// Service applies deployment commands to aggregate state.
type Service struct {
	logger *slog.Logger
	cfg    config.APIConfig
}

// New returns a deployment orchestrator.
func New(logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{logger: logger, cfg: cfg}
}

// StartInput describes a requested deployment.
type StartInput struct {
	Environment domain.Environment
	Strategy    domain.DeploymentStrategy
	Version     string
	RequestedBy string
}

// StepReport carries a step completion from the external executor.
type StepReport struct {
	Name    string
	Success bool
	Output  string
}

// Start creates a deployment, enforcing the single-active invariant per
// (project, environment). Production deployments require approval and stay
// parked in pending; all others transition straight to running.
func (s Service) Start(agg *domain.ProjectAggregate, input StartInput, now time.Time) (*domain.Deployment, []domain.Event, error) {
	if agg.Project.IsArchived() {
		return nil, nil, domain.NewConflict(domain.RuleProjectArchived, "project %s is archived", agg.Project.ID)
	}
	if !domain.ValidEnvironment(input.Environment) {
		return nil, nil, domain.NewValidation("unknown environment %q", input.Environment)
	}
	if !domain.ValidStrategy(input.Strategy) {
		return nil, nil, domain.NewValidation("unknown deployment strategy %q", input.Strategy)
	}
	if len(agg.Services) == 0 {
		return nil, nil, domain.NewConflict(domain.RuleIllegalTransition,
			"project %s has no services to deploy", agg.Project.ID)
	}
	if active := agg.ActiveDeployment(input.Environment); active != nil {
		return nil, nil, domain.NewConflict(domain.RuleActiveDeployment,
			"deployment %s is already %s in %s", active.ID, active.Status, input.Environment)
	}
	if !domain.CanTransition(agg.Project.Status, domain.ProjectDeploying) {
		return nil, nil, domain.NewConflict(domain.RuleIllegalTransition,
			"project in status %s cannot deploy", agg.Project.Status)
	}

	now = now.UTC()
	deployment := domain.Deployment{
		ID:               uuid.NewString(),
		ProjectID:        agg.Project.ID,
		Environment:      input.Environment,
		Status:           domain.DeploymentPending,
		Strategy:         input.Strategy,
		Version:          input.Version,
		Steps:            newSteps(input.Strategy),
		ApprovalRequired: input.Environment == domain.EnvProduction,
		RequestedBy:      input.RequestedBy,
		MaxDuration:      s.cfg.DeploymentMaxDuration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	deployment.RecomputeProgress(now)

	if !deployment.ApprovalRequired {
		run(&deployment, now)
	}

	agg.Deployments = append(agg.Deployments, deployment)
	agg.Project.Status = domain.ProjectDeploying
	agg.Touch(now)

	event := domain.NewEvent(domain.EventDeploymentStarted, agg.Project.ID, map[string]any{
		"deploymentId":     deployment.ID,
		"environment":      deployment.Environment,
		"strategy":         deployment.Strategy,
		"version":          deployment.Version,
		"status":           deployment.Status,
		"approvalRequired": deployment.ApprovalRequired,
		"totalSteps":       deployment.TotalSteps,
	}, now)
	s.logger.Info("deployment started",
		"project_id", agg.Project.ID,
		"deployment_id", deployment.ID,
		"environment", deployment.Environment,
		"strategy", deployment.Strategy,
		"status", deployment.Status)
	return &agg.Deployments[len(agg.Deployments)-1], []domain.Event{event}, nil
}

// Approve releases a parked production deployment into running.
func (s Service) Approve(agg *domain.ProjectAggregate, deploymentID string, now time.Time) ([]domain.Event, error) {
	d := agg.DeploymentByID(deploymentID)
	if d == nil {
		return nil, domain.NewNotFound("deployment", deploymentID)
	}
	if d.Status != domain.DeploymentPending {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s is %s, approval applies to pending only", d.ID, d.Status)
	}
	if !d.ApprovalRequired {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s does not require approval", d.ID)
	}
	if d.Approved {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s is already approved", d.ID)
	}
	now = now.UTC()
	d.Approved = true
	run(d, now)
	agg.Touch(now)

	event := domain.NewEvent(domain.EventDeploymentApproved, agg.Project.ID, map[string]any{
		"deploymentId": d.ID,
		"environment":  d.Environment,
	}, now)
	s.logger.Info("deployment approved", "project_id", agg.Project.ID, "deployment_id", d.ID)
	return []domain.Event{event}, nil
}

// ReportStep validates an executor's step completion: steps finish strictly
// in order, a step cannot complete twice, and a failed step halts the
// deployment. The max-duration bound is checked first, so a late report
// against an expired deployment times it out instead.
func (s Service) ReportStep(agg *domain.ProjectAggregate, deploymentID string, report StepReport, now time.Time) ([]domain.Event, error) {
	d := agg.DeploymentByID(deploymentID)
	if d == nil {
		return nil, domain.NewNotFound("deployment", deploymentID)
	}
	now = now.UTC()
	if d.TimedOut(now) {
		events := s.applyTimeout(agg, d, now)
		return events, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s exceeded its max duration", d.ID)
	}
	if d.Status != domain.DeploymentRunning {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s is %s, steps only complete while running", d.ID, d.Status)
	}
	current := currentStep(d)
	if current == nil {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s has no step awaiting completion", d.ID)
	}
	if report.Name != current.Name {
		for i := range d.Steps {
			if d.Steps[i].Name == report.Name {
				if d.Steps[i].Status == domain.StepSucceeded || d.Steps[i].Status == domain.StepFailed {
					return nil, domain.NewConflict(domain.RuleIllegalTransition,
						"step %q already completed", report.Name)
				}
				return nil, domain.NewConflict(domain.RuleIllegalTransition,
					"step %q reported out of order, expected %q", report.Name, current.Name)
			}
		}
		return nil, domain.NewNotFound("deployment step", report.Name)
	}

	completed := now
	current.CompletedAt = &completed
	current.Output = report.Output
	var events []domain.Event

	if report.Success {
		current.Status = domain.StepSucceeded
		events = append(events, s.stepEvent(agg, d, current, now))
		if next := currentStep(d); next != nil {
			started := now
			next.Status = domain.StepRunning
			next.StartedAt = &started
		} else {
			d.Status = domain.DeploymentSucceeded
			d.CompletedAt = &completed
			agg.Project.Status = domain.ProjectDeployed
			events = append(events, domain.NewEvent(domain.EventDeploymentSucceeded, agg.Project.ID, map[string]any{
				"deploymentId": d.ID,
				"environment":  d.Environment,
				"version":      d.Version,
			}, now))
			s.logger.Info("deployment succeeded", "project_id", agg.Project.ID, "deployment_id", d.ID)
		}
	} else {
		current.Status = domain.StepFailed
		events = append(events, s.stepEvent(agg, d, current, now))
		skipRemaining(d)
		d.Status = domain.DeploymentFailed
		d.FailureReason = "step " + current.Name + " failed"
		d.CompletedAt = &completed
		agg.Project.Status = domain.ProjectFailed
		events = append(events, domain.NewEvent(domain.EventDeploymentFailed, agg.Project.ID, map[string]any{
			"deploymentId": d.ID,
			"environment":  d.Environment,
			"failedStep":   current.Name,
			"output":       report.Output,
		}, now))
		s.logger.Warn("deployment failed",
			"project_id", agg.Project.ID, "deployment_id", d.ID, "step", current.Name)
	}

	d.RecomputeProgress(now)
	d.UpdatedAt = now
	agg.Touch(now)
	return events, nil
}

// Cancel aborts a pending or running deployment. Terminal deployments
// cannot be cancelled.
func (s Service) Cancel(agg *domain.ProjectAggregate, deploymentID, reason string, now time.Time) ([]domain.Event, error) {
	d := agg.DeploymentByID(deploymentID)
	if d == nil {
		return nil, domain.NewNotFound("deployment", deploymentID)
	}
	now = now.UTC()
	if d.TimedOut(now) {
		events := s.applyTimeout(agg, d, now)
		return events, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s exceeded its max duration", d.ID)
	}
	if d.Status.Terminal() {
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s is already %s", d.ID, d.Status)
	}
	completed := now
	d.Status = domain.DeploymentCancelled
	d.FailureReason = reason
	d.CompletedAt = &completed
	d.UpdatedAt = now
	skipRemaining(d)
	if agg.Project.Status == domain.ProjectDeploying {
		agg.Project.Status = domain.ProjectReady
	}
	agg.Touch(now)

	event := domain.NewEvent(domain.EventDeploymentCancelled, agg.Project.ID, map[string]any{
		"deploymentId": d.ID,
		"environment":  d.Environment,
		"reason":       reason,
	}, now)
	s.logger.Info("deployment cancelled", "project_id", agg.Project.ID, "deployment_id", d.ID, "reason", reason)
	return []domain.Event{event}, nil
}

// Rollback transitions a running or failed deployment to rollback. The
// executor performs the actual reversal per strategy; this records the
// decision.
func (s Service) Rollback(agg *domain.ProjectAggregate, deploymentID, reason string, now time.Time) ([]domain.Event, error) {
	d := agg.DeploymentByID(deploymentID)
	if d == nil {
		return nil, domain.NewNotFound("deployment", deploymentID)
	}
	switch d.Status {
	case domain.DeploymentRunning, domain.DeploymentFailed, domain.DeploymentTimeout:
	default:
		return nil, domain.NewConflict(domain.RuleIllegalTransition,
			"deployment %s is %s, rollback applies to running or failed deployments", d.ID, d.Status)
	}
	now = now.UTC()
	completed := now
	d.Status = domain.DeploymentRollback
	d.FailureReason = reason
	d.CompletedAt = &completed
	d.UpdatedAt = now
	skipRemaining(d)
	if agg.Project.Status == domain.ProjectDeploying {
		agg.Project.Status = domain.ProjectFailed
	}
	agg.Touch(now)

	event := domain.NewEvent(domain.EventDeploymentRolledBack, agg.Project.ID, map[string]any{
		"deploymentId": d.ID,
		"environment":  d.Environment,
		"reason":       reason,
	}, now)
	s.logger.Info("deployment rolled back", "project_id", agg.Project.ID, "deployment_id", d.ID, "reason", reason)
	return []domain.Event{event}, nil
}

// CheckTimeout forces an expired running deployment to timeout. Issued by
// the external poller; reads evaluate the same predicate lazily without
// persisting.
func (s Service) CheckTimeout(agg *domain.ProjectAggregate, deploymentID string, now time.Time) (bool, []domain.Event, error) {
	d := agg.DeploymentByID(deploymentID)
	if d == nil {
		return false, nil, domain.NewNotFound("deployment", deploymentID)
	}
	now = now.UTC()
	if !d.TimedOut(now) {
		return false, nil, nil
	}
	return true, s.applyTimeout(agg, d, now), nil
}

func (s Service) applyTimeout(agg *domain.ProjectAggregate, d *domain.Deployment, now time.Time) []domain.Event {
	completed := now
	d.Status = domain.DeploymentTimeout
	d.FailureReason = "exceeded max duration"
	d.CompletedAt = &completed
	d.UpdatedAt = now
	skipRemaining(d)
	agg.Project.Status = domain.ProjectFailed
	agg.Touch(now)
	s.logger.Warn("deployment timed out",
		"project_id", agg.Project.ID, "deployment_id", d.ID, "max_duration", d.MaxDuration)
	return []domain.Event{domain.NewEvent(domain.EventDeploymentTimedOut, agg.Project.ID, map[string]any{
		"deploymentId": d.ID,
		"environment":  d.Environment,
		"maxDuration":  d.MaxDuration.String(),
	}, now)}
}

func (s Service) stepEvent(agg *domain.ProjectAggregate, d *domain.Deployment, step *domain.DeploymentStep, now time.Time) domain.Event {
	return domain.NewEvent(domain.EventDeploymentStepCompleted, agg.Project.ID, map[string]any{
		"deploymentId": d.ID,
		"step":         step.Name,
		"status":       step.Status,
		"output":       step.Output,
	}, now)
}

// run moves a pending deployment into running and opens its first step.
func run(d *domain.Deployment, now time.Time) {
	started := now
	d.Status = domain.DeploymentRunning
	d.StartedAt = &started
	if len(d.Steps) > 0 {
		d.Steps[0].Status = domain.StepRunning
		d.Steps[0].StartedAt = &started
	}
	d.UpdatedAt = now
}

// currentStep returns the first step still awaiting completion.
func currentStep(d *domain.Deployment) *domain.DeploymentStep {
	for i := range d.Steps {
		switch d.Steps[i].Status {
		case domain.StepPending, domain.StepRunning:
			return &d.Steps[i]
		}
	}
	return nil
}

func skipRemaining(d *domain.Deployment) {
	for i := range d.Steps {
		if d.Steps[i].Status == domain.StepPending || d.Steps[i].Status == domain.StepRunning {
			d.Steps[i].Status = domain.StepSkipped
		}
	}
}
