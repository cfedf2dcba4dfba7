package deploy

import (
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

func testService() Service {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), config.APIConfig{
		DeploymentMaxDuration: 30 * time.Minute,
	})
}

func testAggregate() *domain.ProjectAggregate {
	now := time.Now().UTC()
	return &domain.ProjectAggregate{
		Project: domain.Project{
			ID:        "p1",
			OwnerID:   "owner",
			Name:      "checkout",
			Status:    domain.ProjectConfiguring,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Services: []domain.Service{
			{ID: "s1", ProjectID: "p1", Name: "checkout-api", Type: domain.ServiceAPI, Status: domain.ServiceActive},
		},
	}
}

func start(t *testing.T, svc Service, agg *domain.ProjectAggregate, env domain.Environment) *domain.Deployment {
	t.Helper()
	dep, events, err := svc.Start(agg, StartInput{
		Environment: env,
		Strategy:    domain.StrategyRolling,
		Version:     "v1.2.3",
		RequestedBy: "owner",
	}, time.Now())
	if err != nil {
		t.Fatalf("start deployment: %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventDeploymentStarted {
		t.Fatalf("expected DeploymentStarted event, got %v", events)
	}
	return dep
}

func TestStartRunsImmediatelyOutsideProduction(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	if dep.Status != domain.DeploymentRunning {
		t.Fatalf("expected running, got %s", dep.Status)
	}
	if dep.ApprovalRequired {
		t.Fatalf("development deployments must not require approval")
	}
	if dep.Steps[0].Status != domain.StepRunning {
		t.Fatalf("first step should be running, got %s", dep.Steps[0].Status)
	}
	if agg.Project.Status != domain.ProjectDeploying {
		t.Fatalf("project should be deploying, got %s", agg.Project.Status)
	}
}

func TestStartRejectsSecondActiveDeployment(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	start(t, svc, agg, domain.EnvDevelopment)

	_, _, err := svc.Start(agg, StartInput{
		Environment: domain.EnvDevelopment,
		Strategy:    domain.StrategyRecreate,
		Version:     "v1.2.4",
	}, time.Now())
	if domain.RuleOf(err) != domain.RuleActiveDeployment {
		t.Fatalf("expected active_deployment_exists conflict, got %v", err)
	}
}

func TestStartAllowsParallelEnvironments(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	start(t, svc, agg, domain.EnvDevelopment)

	if _, _, err := svc.Start(agg, StartInput{
		Environment: domain.EnvStaging,
		Strategy:    domain.StrategyRolling,
		Version:     "v1.2.3",
	}, time.Now()); err != nil {
		t.Fatalf("staging deployment should proceed alongside development: %v", err)
	}
}

func TestStartRequiresServices(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	agg.Services = nil
	_, _, err := svc.Start(agg, StartInput{
		Environment: domain.EnvDevelopment,
		Strategy:    domain.StrategyRolling,
		Version:     "v1",
	}, time.Now())
	if domain.CodeOf(err) != domain.CodeConflict {
		t.Fatalf("expected conflict for empty project, got %v", err)
	}
}

func TestProductionRequiresApproval(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvProduction)

	if dep.Status != domain.DeploymentPending || !dep.ApprovalRequired {
		t.Fatalf("production deployment should park pending approval, got %s", dep.Status)
	}
	if _, err := svc.ReportStep(agg, dep.ID, StepReport{Name: dep.Steps[0].Name, Success: true}, time.Now()); err == nil {
		t.Fatalf("steps must not complete before approval")
	}

	if _, err := svc.Approve(agg, dep.ID, time.Now()); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if dep.Status != domain.DeploymentRunning {
		t.Fatalf("approved deployment should run, got %s", dep.Status)
	}
	if _, err := svc.Approve(agg, dep.ID, time.Now()); err == nil {
		t.Fatalf("second approval must be rejected")
	}
}

func TestReportStepOrdering(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	last := dep.Steps[len(dep.Steps)-1].Name
	if _, err := svc.ReportStep(agg, dep.ID, StepReport{Name: last, Success: true}, time.Now()); domain.RuleOf(err) != domain.RuleIllegalTransition {
		t.Fatalf("out of order completion should conflict, got %v", err)
	}

	first := dep.Steps[0].Name
	if _, err := svc.ReportStep(agg, dep.ID, StepReport{Name: first, Success: true}, time.Now()); err != nil {
		t.Fatalf("complete first step: %v", err)
	}
	if _, err := svc.ReportStep(agg, dep.ID, StepReport{Name: first, Success: true}, time.Now()); domain.RuleOf(err) != domain.RuleIllegalTransition {
		t.Fatalf("double completion should conflict, got %v", err)
	}
	if dep.Steps[1].Status != domain.StepRunning {
		t.Fatalf("second step should be running, got %s", dep.Steps[1].Status)
	}
	if dep.PercentComplete == 0 {
		t.Fatalf("progress should advance after a completed step")
	}
}

func TestReportStepDrivesDeploymentToSuccess(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	var sawSucceeded bool
	for i := range dep.Steps {
		events, err := svc.ReportStep(agg, dep.ID, StepReport{Name: dep.Steps[i].Name, Success: true}, time.Now())
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		for _, evt := range events {
			if evt.EventType == domain.EventDeploymentSucceeded {
				sawSucceeded = true
			}
		}
	}
	if !sawSucceeded {
		t.Fatalf("expected DeploymentSucceeded after the final step")
	}
	if dep.Status != domain.DeploymentSucceeded {
		t.Fatalf("expected succeeded, got %s", dep.Status)
	}
	if agg.Project.Status != domain.ProjectDeployed {
		t.Fatalf("project should be deployed, got %s", agg.Project.Status)
	}
	if dep.PercentComplete != 100 {
		t.Fatalf("expected 100%% complete, got %d", dep.PercentComplete)
	}
}

func TestReportStepFailureSkipsRemaining(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	events, err := svc.ReportStep(agg, dep.ID, StepReport{Name: dep.Steps[0].Name, Success: false, Output: "disk full"}, time.Now())
	if err != nil {
		t.Fatalf("report failed step: %v", err)
	}
	var sawFailed bool
	for _, evt := range events {
		if evt.EventType == domain.EventDeploymentFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatalf("expected DeploymentFailed event")
	}
	if dep.Status != domain.DeploymentFailed {
		t.Fatalf("expected failed, got %s", dep.Status)
	}
	for _, step := range dep.Steps[1:] {
		if step.Status != domain.StepSkipped {
			t.Fatalf("remaining steps should be skipped, got %s", step.Status)
		}
	}
	if agg.Project.Status != domain.ProjectFailed {
		t.Fatalf("project should be failed, got %s", agg.Project.Status)
	}
}

func TestLateStepReportTimesOut(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	late := time.Now().Add(time.Hour)
	events, err := svc.ReportStep(agg, dep.ID, StepReport{Name: dep.Steps[0].Name, Success: true}, late)
	if domain.RuleOf(err) != domain.RuleIllegalTransition {
		t.Fatalf("expected conflict for expired deployment, got %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventDeploymentTimedOut {
		t.Fatalf("expected DeploymentTimedOut alongside the conflict, got %v", events)
	}
	if dep.Status != domain.DeploymentTimeout {
		t.Fatalf("expected timeout status, got %s", dep.Status)
	}
}

func TestCheckTimeout(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	expired, _, err := svc.CheckTimeout(agg, dep.ID, time.Now())
	if err != nil || expired {
		t.Fatalf("fresh deployment should be within bounds: expired=%v err=%v", expired, err)
	}
	expired, events, err := svc.CheckTimeout(agg, dep.ID, time.Now().Add(time.Hour))
	if err != nil || !expired {
		t.Fatalf("expected expiry: expired=%v err=%v", expired, err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventDeploymentTimedOut {
		t.Fatalf("expected timeout event, got %v", events)
	}
}

func TestCancelRunningDeployment(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	if _, err := svc.Cancel(agg, dep.ID, "superseded", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if dep.Status != domain.DeploymentCancelled {
		t.Fatalf("expected cancelled, got %s", dep.Status)
	}
	if agg.Project.Status != domain.ProjectReady {
		t.Fatalf("project should return to ready, got %s", agg.Project.Status)
	}
	if _, err := svc.Cancel(agg, dep.ID, "again", time.Now()); err == nil {
		t.Fatalf("cancelling a terminal deployment must fail")
	}
}

func TestRollback(t *testing.T) {
	svc := testService()
	agg := testAggregate()
	dep := start(t, svc, agg, domain.EnvDevelopment)

	if _, err := svc.Rollback(agg, dep.ID, "bad release", time.Now()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if dep.Status != domain.DeploymentRollback {
		t.Fatalf("expected rollback, got %s", dep.Status)
	}
	if _, err := svc.Rollback(agg, dep.ID, "twice", time.Now()); err == nil {
		t.Fatalf("rollback from rollback must fail")
	}
}

func TestStepPlansPerStrategy(t *testing.T) {
	cases := map[domain.DeploymentStrategy]string{
		domain.StrategyBlueGreen: "switch-traffic",
		domain.StrategyRolling:   "drain-batch",
		domain.StrategyCanary:    "shift-sample-traffic",
		domain.StrategyRecreate:  "stop-current",
	}
	for strategy, want := range cases {
		steps := newSteps(strategy)
		if len(steps) == 0 {
			t.Fatalf("strategy %s has no steps", strategy)
		}
		var found bool
		for _, step := range steps {
			if step.Name == want {
				found = true
			}
			if step.Status != domain.StepPending {
				t.Fatalf("new steps must start pending, got %s", step.Status)
			}
		}
		if !found {
			t.Fatalf("strategy %s missing step %s", strategy, want)
		}
	}
}
