package command

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/internal/store"
)

// GetProject returns the full aggregate for presentation. Deployments past
// their max duration are shown as timed out even before a mutation has
// persisted the transition.
func (p *Processor) GetProject(ctx context.Context, ownerID, projectID string) (*domain.ProjectAggregate, error) {
	var agg *domain.ProjectAggregate
	err := p.store.View(ctx, func(txn store.Txn) error {
		loaded, _, err := p.loadOwned(txn, projectID, ownerID)
		if err != nil {
			return err
		}
		agg = loaded
		return nil
	})
	if err != nil {
		return nil, p.classify(err)
	}
	now := p.now()
	for i := range agg.Deployments {
		presentTimeout(&agg.Deployments[i], now)
	}
	return agg, nil
}

// ListProjects returns the caller's non-archived projects sorted by creation
// time.
func (p *Processor) ListProjects(ctx context.Context, ownerID string) ([]domain.Project, error) {
	var projects []domain.Project
	err := p.store.View(ctx, func(txn store.Txn) error {
		return txn.Scan(store.KeyProjectPrefix, func(key string, value []byte) bool {
			var agg domain.ProjectAggregate
			if err := json.Unmarshal(value, &agg); err != nil {
				p.logger.Error("skipping undecodable aggregate", "key", key, "error", err)
				return true
			}
			if agg.Project.OwnerID != ownerID || agg.Project.IsArchived() {
				return true
			}
			projects = append(projects, agg.Project)
			return true
		})
	})
	if err != nil {
		return nil, p.classify(err)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	return projects, nil
}

// GetDeployment resolves a deployment through its project index and applies
// the lazy timeout view.
func (p *Processor) GetDeployment(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error) {
	var dep *domain.Deployment
	err := p.store.View(ctx, func(txn store.Txn) error {
		agg, _, err := p.loadByDeployment(txn, deploymentID, ownerID)
		if err != nil {
			return err
		}
		found := agg.DeploymentByID(deploymentID)
		if found == nil {
			return domain.NewNotFound("deployment", deploymentID)
		}
		copied := *found
		copied.Steps = append([]domain.DeploymentStep(nil), found.Steps...)
		dep = &copied
		return nil
	})
	if err != nil {
		return nil, p.classify(err)
	}
	presentTimeout(dep, p.now())
	return dep, nil
}

// ListDeployments returns a project's deployment history, newest first.
func (p *Processor) ListDeployments(ctx context.Context, ownerID, projectID string) ([]domain.Deployment, error) {
	var deployments []domain.Deployment
	err := p.store.View(ctx, func(txn store.Txn) error {
		agg, _, err := p.loadOwned(txn, projectID, ownerID)
		if err != nil {
			return err
		}
		deployments = append(deployments, agg.Deployments...)
		return nil
	})
	if err != nil {
		return nil, p.classify(err)
	}
	now := p.now()
	for i := range deployments {
		presentTimeout(&deployments[i], now)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	return deployments, nil
}

// Healthy reports store connectivity.
func (p *Processor) Healthy(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return domain.NewInternal(err, "store unreachable")
	}
	return nil
}

// presentTimeout rewrites an expired running deployment for display without
// touching stored state; the persisted transition happens on the next
// mutation or timeout check.
func presentTimeout(d *domain.Deployment, now time.Time) {
	if !d.TimedOut(now) {
		return
	}
	d.Status = domain.DeploymentTimeout
	d.FailureReason = "exceeded maximum duration"
	for i := range d.Steps {
		switch d.Steps[i].Status {
		case domain.StepPending, domain.StepRunning:
			d.Steps[i].Status = domain.StepSkipped
		}
	}
	d.EstimatedRemaining = 0
}
