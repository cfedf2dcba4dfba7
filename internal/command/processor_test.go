package command

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/internal/service/deploy"
	"github.com/Bikxs/Skafu-sub001/internal/store/badgerstore"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

type capturePublisher struct {
	events []domain.Event
}

func (p *capturePublisher) Publish(ctx context.Context, event domain.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) countOf(eventType domain.EventType) int {
	count := 0
	for _, evt := range p.events {
		if evt.EventType == eventType {
			count++
		}
	}
	return count
}

func testConfig() config.APIConfig {
	return config.APIConfig{
		EventSource:           "project-management",
		PublishAttempts:       1,
		ConfigEncryptionKey:   "unit-test-secret",
		ProjectRetention:      720 * time.Hour,
		DeploymentMaxDuration: 30 * time.Minute,
	}
}

func testProcessor(t *testing.T) (*Processor, *capturePublisher) {
	t.Helper()
	st, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := &capturePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProcessor(st, bus, nil, logger, testConfig()), bus
}

func handle(t *testing.T, p *Processor, ownerID string, cmd Command) Result {
	t.Helper()
	result, err := p.Handle(context.Background(), uuid.NewString(), ownerID, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Kind(), err)
	}
	return result
}

const owner = "owner-1"

func createProject(t *testing.T, p *Processor, name string) string {
	t.Helper()
	result := handle(t, p, owner, CreateProject{Name: name})
	if result.Status != "accepted" || result.ResourceID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	return result.ResourceID
}

func addService(t *testing.T, p *Processor, projectID, name string) string {
	t.Helper()
	return handle(t, p, owner, AddService{ProjectID: projectID, Name: name, Type: "API"}).ResourceID
}

func TestCreateProjectLifecycle(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")

	agg, err := p.GetProject(context.Background(), owner, projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if agg.Project.Status != domain.ProjectDraft {
		t.Fatalf("new projects start in draft, got %s", agg.Project.Status)
	}
	if bus.countOf(domain.EventProjectCreated) != 1 {
		t.Fatalf("expected one ProjectCreated event, got %d", bus.countOf(domain.EventProjectCreated))
	}
	if bus.events[0].CorrelationID == "" || bus.events[0].Source != "project-management" {
		t.Fatalf("event envelope missing correlation or source: %+v", bus.events[0])
	}
}

type unstablePublisher struct {
	capturePublisher
	failures int
}

func (p *unstablePublisher) Publish(ctx context.Context, event domain.Event) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	return p.capturePublisher.Publish(ctx, event)
}

func TestReplayDrainsStrandedOutbox(t *testing.T) {
	st, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := &unstablePublisher{failures: 1}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewProcessor(st, bus, nil, logger, testConfig())
	corrID := uuid.NewString()

	// The command commits but the post-commit publish fails, stranding
	// the event in the outbox.
	if _, err := p.Handle(context.Background(), corrID, owner, CreateProject{Name: "checkout"}); err == nil {
		t.Fatal("expected publish failure to surface")
	}
	if len(bus.events) != 0 {
		t.Fatalf("no events should be delivered yet, got %d", len(bus.events))
	}

	// Retrying with the same correlation ID replays the result and
	// drains what the first attempt left behind.
	result, err := p.Handle(context.Background(), corrID, owner, CreateProject{Name: "checkout"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Status != "accepted" || result.ResourceID == "" {
		t.Fatalf("unexpected replayed result %+v", result)
	}
	if bus.countOf(domain.EventProjectCreated) != 1 {
		t.Fatalf("replay should deliver the stranded event, got %d", len(bus.events))
	}
}

func TestCreateProjectIdempotentReplay(t *testing.T) {
	p, bus := testProcessor(t)
	corrID := uuid.NewString()

	first, err := p.Handle(context.Background(), corrID, owner, CreateProject{Name: "checkout"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := p.Handle(context.Background(), corrID, owner, CreateProject{Name: "checkout"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first != second {
		t.Fatalf("replay must return the recorded result: %+v vs %+v", first, second)
	}
	if bus.countOf(domain.EventProjectCreated) != 1 {
		t.Fatalf("replay must not publish again, got %d events", len(bus.events))
	}
	projects, err := p.ListProjects(context.Background(), owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected a single project, got %d", len(projects))
	}
}

func TestCreateProjectNameTakenPerOwner(t *testing.T) {
	p, _ := testProcessor(t)
	createProject(t, p, "checkout")

	_, err := p.Handle(context.Background(), uuid.NewString(), owner, CreateProject{Name: "checkout"})
	if domain.RuleOf(err) != domain.RuleNameTaken {
		t.Fatalf("expected name_taken conflict, got %v", err)
	}

	// The same name under a different owner is fine.
	if _, err := p.Handle(context.Background(), uuid.NewString(), "owner-2", CreateProject{Name: "checkout"}); err != nil {
		t.Fatalf("different owner should reuse the name: %v", err)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")

	_, err := p.Handle(context.Background(), uuid.NewString(), "intruder", AddService{
		ProjectID: projectID, Name: "sneaky-api", Type: "API",
	})
	if domain.CodeOf(err) != domain.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := p.GetProject(context.Background(), "intruder", projectID); domain.CodeOf(err) != domain.CodeForbidden {
		t.Fatalf("reads are owner-scoped too, got %v", err)
	}
}

func TestCommandValidationRejectsBadPayloads(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")

	cases := []Command{
		AddService{ProjectID: projectID, Name: "Not_Kebab", Type: "API"},
		AddService{ProjectID: projectID, Name: "api", Type: "SIDECAR"},
		StartDeployment{ProjectID: projectID, Environment: "qa", Strategy: "rolling", Version: "v1"},
		EstablishRelationship{ProjectID: projectID, SourceServiceID: projectID, TargetServiceID: projectID, Type: "SYNC_API"},
	}
	for _, cmd := range cases {
		if _, err := p.Handle(context.Background(), uuid.NewString(), owner, cmd); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("%s should fail validation, got %v", cmd.Kind(), err)
		}
	}
}

func TestCircularDependencyRejected(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	a := addService(t, p, projectID, "svc-a")
	b := addService(t, p, projectID, "svc-b")

	handle(t, p, owner, EstablishRelationship{
		ProjectID: projectID, SourceServiceID: a, TargetServiceID: b, Type: "SYNC_API",
	})
	_, err := p.Handle(context.Background(), uuid.NewString(), owner, EstablishRelationship{
		ProjectID: projectID, SourceServiceID: b, TargetServiceID: a, Type: "SYNC_API",
	})
	if domain.RuleOf(err) != domain.RuleCircularDep {
		t.Fatalf("expected circular_dependency, got %v", err)
	}
}

func TestDeploymentRoundTrip(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")

	result := handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "rolling", Version: "v1.0.0",
	})
	deploymentID := result.ResourceID

	// A second deployment into the same environment conflicts.
	_, err := p.Handle(context.Background(), uuid.NewString(), owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "rolling", Version: "v1.0.1",
	})
	if domain.RuleOf(err) != domain.RuleActiveDeployment {
		t.Fatalf("expected active_deployment_exists, got %v", err)
	}

	// The executor reports each step with the shared-token identity.
	for _, step := range deploy.StepsFor(domain.StrategyRolling) {
		handle(t, p, "", ReportDeploymentStep{DeploymentID: deploymentID, Step: step, Status: "succeeded"})
	}

	dep, err := p.GetDeployment(context.Background(), owner, deploymentID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if dep.Status != domain.DeploymentSucceeded || dep.PercentComplete != 100 {
		t.Fatalf("expected succeeded at 100%%, got %s at %d%%", dep.Status, dep.PercentComplete)
	}
	agg, err := p.GetProject(context.Background(), owner, projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if agg.Project.Status != domain.ProjectDeployed {
		t.Fatalf("project should be deployed, got %s", agg.Project.Status)
	}
	if bus.countOf(domain.EventDeploymentSucceeded) != 1 {
		t.Fatalf("expected one DeploymentSucceeded event")
	}
	if got := bus.countOf(domain.EventDeploymentStepCompleted); got != len(deploy.StepsFor(domain.StrategyRolling)) {
		t.Fatalf("expected a step event per step, got %d", got)
	}
}

func TestProductionApprovalFlow(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")

	result := handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "production", Strategy: "blue-green", Version: "v2.0.0",
	})
	deploymentID := result.ResourceID

	dep, err := p.GetDeployment(context.Background(), owner, deploymentID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if dep.Status != domain.DeploymentPending || !dep.ApprovalRequired {
		t.Fatalf("production deployment should wait for approval, got %s", dep.Status)
	}

	firstStep := deploy.StepsFor(domain.StrategyBlueGreen)[0]
	if _, err := p.Handle(context.Background(), uuid.NewString(), "", ReportDeploymentStep{
		DeploymentID: deploymentID, Step: firstStep, Status: "succeeded",
	}); domain.CodeOf(err) != domain.CodeConflict {
		t.Fatalf("steps before approval should conflict, got %v", err)
	}

	handle(t, p, owner, ApproveDeployment{DeploymentID: deploymentID})
	dep, err = p.GetDeployment(context.Background(), owner, deploymentID)
	if err != nil {
		t.Fatalf("get deployment after approval: %v", err)
	}
	if dep.Status != domain.DeploymentRunning {
		t.Fatalf("approved deployment should run, got %s", dep.Status)
	}
	if bus.countOf(domain.EventDeploymentApproved) != 1 {
		t.Fatalf("expected DeploymentApproved event")
	}
}

func TestTimeoutPersistsOnLateReport(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")
	deploymentID := handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "recreate", Version: "v1",
	}).ResourceID

	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := p.Handle(context.Background(), uuid.NewString(), "", ReportDeploymentStep{
		DeploymentID: deploymentID, Step: "stop-current", Status: "succeeded",
	})
	if domain.CodeOf(err) != domain.CodeConflict {
		t.Fatalf("late report should conflict, got %v", err)
	}
	// The timeout transition committed despite the rejected command.
	p.now = time.Now
	dep, err := p.GetDeployment(context.Background(), owner, deploymentID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if dep.Status != domain.DeploymentTimeout {
		t.Fatalf("expected persisted timeout, got %s", dep.Status)
	}
	if bus.countOf(domain.EventDeploymentTimedOut) != 1 {
		t.Fatalf("expected DeploymentTimedOut event")
	}
}

func TestCheckTimeoutCommand(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")
	deploymentID := handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "recreate", Version: "v1",
	}).ResourceID

	result := handle(t, p, "", CheckDeploymentTimeout{DeploymentID: deploymentID})
	if result.Message != "deployment within bounds" {
		t.Fatalf("fresh deployment should be within bounds, got %q", result.Message)
	}

	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	result = handle(t, p, "", CheckDeploymentTimeout{DeploymentID: deploymentID})
	if result.Message != "deployment timed out" {
		t.Fatalf("expected timeout, got %q", result.Message)
	}
}

func TestArchiveCancelsInFlightDeployments(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")
	handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "rolling", Version: "v1",
	})

	handle(t, p, owner, DeleteProject{ProjectID: projectID})
	agg, err := p.GetProject(context.Background(), owner, projectID)
	if err != nil {
		t.Fatalf("archived projects stay readable until retention: %v", err)
	}
	if !agg.Project.IsArchived() {
		t.Fatalf("expected archived, got %s", agg.Project.Status)
	}
	if agg.Deployments[0].Status != domain.DeploymentCancelled {
		t.Fatalf("in-flight deployment should be cancelled, got %s", agg.Deployments[0].Status)
	}
	if bus.countOf(domain.EventDeploymentCancelled) != 1 || bus.countOf(domain.EventProjectDeleted) != 1 {
		t.Fatalf("expected cancellation and deletion events")
	}

	// The name is free for reuse after archival.
	if _, err := p.Handle(context.Background(), uuid.NewString(), owner, CreateProject{Name: "checkout"}); err != nil {
		t.Fatalf("name should be released on archive: %v", err)
	}

	// Archived projects reject further mutations.
	if _, err := p.Handle(context.Background(), uuid.NewString(), owner, AddService{
		ProjectID: projectID, Name: "late-api", Type: "API",
	}); domain.RuleOf(err) != domain.RuleProjectArchived {
		t.Fatalf("expected project_archived conflict, got %v", err)
	}
}

func TestUpdateCannotArchive(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")
	handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "rolling", Version: "v1",
	})

	// Archival carries retention, deployment cancellation, and name
	// release, so a plain status update must not reach it.
	archived := "archived"
	if _, err := p.Handle(context.Background(), uuid.NewString(), owner, UpdateProject{
		ProjectID: projectID, Status: &archived,
	}); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	agg, err := p.GetProject(context.Background(), owner, projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if agg.Project.IsArchived() {
		t.Fatalf("project must not be archived by an update")
	}
	if agg.Deployments[0].Status != domain.DeploymentRunning {
		t.Fatalf("deployment should be untouched, got %s", agg.Deployments[0].Status)
	}

	// Deletion still works and releases the name.
	handle(t, p, owner, DeleteProject{ProjectID: projectID})
	if _, err := p.Handle(context.Background(), uuid.NewString(), owner, CreateProject{Name: "checkout"}); err != nil {
		t.Fatalf("name should be released after deletion: %v", err)
	}
}

func TestRemovalGuardThroughProcessor(t *testing.T) {
	p, bus := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	a := addService(t, p, projectID, "svc-a")
	b := addService(t, p, projectID, "svc-b")
	handle(t, p, owner, EstablishRelationship{
		ProjectID: projectID, SourceServiceID: a, TargetServiceID: b, Type: "DATA_DEPENDENCY",
	})

	_, err := p.Handle(context.Background(), uuid.NewString(), owner, RemoveService{
		ProjectID: projectID, ServiceID: a,
	})
	if domain.RuleOf(err) != domain.RuleDependentsExist {
		t.Fatalf("expected dependents_exist, got %v", err)
	}

	handle(t, p, owner, RemoveService{ProjectID: projectID, ServiceID: a, Force: true})
	if bus.countOf(domain.EventRelationshipRemoved) != 1 {
		t.Fatalf("forced removal should emit an edge removal event")
	}
	agg, err := p.GetProject(context.Background(), owner, projectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if len(agg.Services) != 1 || len(agg.Relationships) != 0 {
		t.Fatalf("expected 1 service and no edges, got %d/%d", len(agg.Services), len(agg.Relationships))
	}
}

func TestLazyTimeoutOnReads(t *testing.T) {
	p, _ := testProcessor(t)
	projectID := createProject(t, p, "checkout")
	addService(t, p, projectID, "checkout-api")
	deploymentID := handle(t, p, owner, StartDeployment{
		ProjectID: projectID, Environment: "development", Strategy: "rolling", Version: "v1",
	}).ResourceID

	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	dep, err := p.GetDeployment(context.Background(), owner, deploymentID)
	if err != nil {
		t.Fatalf("get deployment: %v", err)
	}
	if dep.Status != domain.DeploymentTimeout {
		t.Fatalf("reads should present expired deployments as timed out, got %s", dep.Status)
	}
}
