package project

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

func testService() Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, config.APIConfig{ProjectRetention: 30 * 24 * time.Hour})
}

func TestCreateStartsInDraft(t *testing.T) {
	svc := testService()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	agg, events, err := svc.Create("owner-1", CreateInput{Name: "  checkout  ", Description: "payments"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if agg.Project.Status != domain.ProjectDraft {
		t.Fatalf("status = %s, want draft", agg.Project.Status)
	}
	if agg.Project.Name != "checkout" {
		t.Fatalf("name not trimmed: %q", agg.Project.Name)
	}
	if agg.Project.OwnerID != "owner-1" {
		t.Fatalf("owner = %q", agg.Project.OwnerID)
	}
	if len(events) != 1 || events[0].EventType != domain.EventProjectCreated {
		t.Fatalf("events = %+v, want single ProjectCreated", events)
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	svc := testService()
	if _, _, err := svc.Create("owner-1", CreateInput{Name: "   "}, time.Now()); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestUpdateEnforcesStatusTransitions(t *testing.T) {
	svc := testService()
	now := time.Now().UTC()
	agg, _, err := svc.Create("owner-1", CreateInput{Name: "checkout"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// draft cannot jump directly to deployed.
	deployed := domain.ProjectDeployed
	if _, err := svc.Update(agg, UpdateInput{Status: &deployed}, now); domain.RuleOf(err) != domain.RuleIllegalTransition {
		t.Fatalf("err = %v, want illegal_transition", err)
	}

	configuring := domain.ProjectConfiguring
	events, err := svc.Update(agg, UpdateInput{Status: &configuring}, now)
	if err != nil {
		t.Fatalf("Update to configuring: %v", err)
	}
	if agg.Project.Status != domain.ProjectConfiguring {
		t.Fatalf("status = %s", agg.Project.Status)
	}
	if len(events) != 1 || events[0].EventType != domain.EventProjectUpdated {
		t.Fatalf("events = %+v", events)
	}

	bogus := domain.ProjectStatus("launching")
	if _, err := svc.Update(agg, UpdateInput{Status: &bogus}, now); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestUpdateRejectsArchivedTarget(t *testing.T) {
	svc := testService()
	now := time.Now().UTC()
	agg, _, err := svc.Create("owner-1", CreateInput{Name: "checkout"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	archived := domain.ProjectArchived
	if _, err := svc.Update(agg, UpdateInput{Status: &archived}, now); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
	if agg.Project.IsArchived() {
		t.Fatalf("update must not archive; archival goes through Archive")
	}
	if agg.Project.RetentionUntil != nil {
		t.Fatalf("no retention deadline expected, got %v", agg.Project.RetentionUntil)
	}
}

func TestUpdateRejectsEmptyRename(t *testing.T) {
	svc := testService()
	now := time.Now().UTC()
	agg, _, err := svc.Create("owner-1", CreateInput{Name: "checkout"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	empty := " "
	if _, err := svc.Update(agg, UpdateInput{Name: &empty}, now); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestArchiveSetsRetentionAndCancelsDeployments(t *testing.T) {
	svc := testService()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	agg, _, err := svc.Create("owner-1", CreateInput{Name: "checkout"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	agg.Project.Status = domain.ProjectDeploying
	agg.Deployments = append(agg.Deployments, domain.Deployment{
		ID:     "dep-1",
		Status: domain.DeploymentRunning,
		Steps: []domain.DeploymentStep{
			{Name: "deploy-code", Status: domain.StepRunning},
			{Name: "health-check", Status: domain.StepPending},
		},
	})

	events, err := svc.Archive(agg, now)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !agg.Project.IsArchived() {
		t.Fatalf("status = %s, want archived", agg.Project.Status)
	}
	if agg.Project.RetentionUntil == nil || !agg.Project.RetentionUntil.Equal(now.Add(30*24*time.Hour)) {
		t.Fatalf("retentionUntil = %v", agg.Project.RetentionUntil)
	}
	dep := agg.DeploymentByID("dep-1")
	if dep.Status != domain.DeploymentCancelled {
		t.Fatalf("deployment status = %s, want cancelled", dep.Status)
	}
	for _, step := range dep.Steps {
		if step.Status != domain.StepSkipped {
			t.Fatalf("step %s status = %s, want skipped", step.Name, step.Status)
		}
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want cancellation plus deletion", len(events))
	}
	if events[0].EventType != domain.EventDeploymentCancelled || events[1].EventType != domain.EventProjectDeleted {
		t.Fatalf("event types = %s, %s", events[0].EventType, events[1].EventType)
	}
}

func TestArchiveTwiceConflicts(t *testing.T) {
	svc := testService()
	now := time.Now().UTC()
	agg, _, err := svc.Create("owner-1", CreateInput{Name: "checkout"}, now)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Archive(agg, now); err != nil {
		t.Fatalf("first Archive: %v", err)
	}
	if _, err := svc.Archive(agg, now); domain.RuleOf(err) != domain.RuleProjectArchived {
		t.Fatalf("err = %v, want project_archived", err)
	}
}
