package command

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	"github.com/Bikxs/Skafu-sub001/internal/domain"
	"github.com/Bikxs/Skafu-sub001/internal/eventbus"
	"github.com/Bikxs/Skafu-sub001/internal/service/deploy"
	"github.com/Bikxs/Skafu-sub001/internal/service/project"
	"github.com/Bikxs/Skafu-sub001/internal/service/registry"
	"github.com/Bikxs/Skafu-sub001/internal/store"
	"github.com/Bikxs/Skafu-sub001/internal/ws"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
)

// Processor serializes commands against aggregate state. It is stateless
// across requests: every command runs as one store transaction plus an
// outbox flush, so concurrent commands against the same project are
// arbitrated solely by the store's version check.
type Processor struct {
	store    store.Store
	bus      eventbus.Publisher
	hub      *ws.Hub
	logger   *slog.Logger
	cfg      config.APIConfig
	now      func() time.Time
	projects project.Service
	registry registry.Service
	deploy   deploy.Service
}

// NewProcessor wires the processor with its collaborators. hub may be nil
// when no websocket fan-out is wanted.
func NewProcessor(st store.Store, bus eventbus.Publisher, hub *ws.Hub, logger *slog.Logger, cfg config.APIConfig) *Processor {
	return &Processor{
		store:    st,
		bus:      eventbus.NewRetryingPublisher(bus, cfg.PublishAttempts, cfg.PublishBackoff),
		hub:      hub,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		projects: project.New(logger, cfg),
		registry: registry.New(logger, cfg),
		deploy:   deploy.New(logger, cfg),
	}
}

// Handle validates and applies one command. Duplicate correlation IDs replay
// the recorded result without reapplying side effects. ownerID is empty for
// executor-authenticated commands, which bypass the ownership check.
func (p *Processor) Handle(ctx context.Context, correlationID, ownerID string, cmd Command) (Result, error) {
	if correlationID == "" {
		return Result{}, domain.NewValidation("correlation id is required")
	}
	if err := Validate(cmd); err != nil {
		return Result{}, err
	}

	var (
		result   Result
		replayed bool
		opErr    error
	)
	txErr := p.store.Update(ctx, func(txn store.Txn) error {
		result, replayed, opErr = Result{}, false, nil

		if raw, _, err := txn.Get(store.CommandKey(correlationID)); err == nil {
			replayed = true
			return json.Unmarshal(raw, &result)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		res, events, err := p.apply(txn, correlationID, ownerID, cmd)
		if err != nil && len(events) == 0 {
			return err
		}
		// A lazily applied timeout can produce events alongside a
		// conflict; the transition still commits.
		opErr = err
		result = res
		for i := range events {
			events[i].CorrelationID = correlationID
			events[i].Source = p.cfg.EventSource
			raw, merr := json.Marshal(events[i])
			if merr != nil {
				return merr
			}
			if serr := txn.Set(store.OutboxKey(events[i].EventID), raw, 0); serr != nil {
				return serr
			}
		}
		if opErr == nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				return merr
			}
			if serr := txn.Set(store.CommandKey(correlationID), raw, 0); serr != nil {
				return serr
			}
		}
		return nil
	})
	if txErr != nil {
		return Result{}, p.classify(txErr)
	}
	if replayed {
		p.logger.Info("command replayed", "correlation_id", correlationID, "command", cmd.Kind())
		// A retry usually means the first attempt's post-commit flush
		// never reached the caller, so drain anything still staged.
		if err := p.FlushOutbox(ctx); err != nil {
			p.logger.Warn("outbox flush on replay failed", "error", err)
		}
		return result, nil
	}
	if err := p.FlushOutbox(ctx); err != nil {
		return Result{}, err
	}
	if opErr != nil {
		return Result{}, opErr
	}
	return result, nil
}

// classify maps store-level failures to the domain taxonomy.
func (p *Processor) classify(err error) error {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, store.ErrVersionMismatch) {
		return domain.NewConflict(domain.RuleVersionMismatch,
			"aggregate changed concurrently, retry with fresh state")
	}
	return domain.NewInternal(err, "store transaction failed")
}

func (p *Processor) apply(txn store.Txn, correlationID, ownerID string, cmd Command) (Result, []domain.Event, error) {
	now := p.now()
	switch c := cmd.(type) {
	case CreateProject:
		agg, events, err := p.projects.Create(ownerID, project.CreateInput{
			Name:        c.Name,
			Description: c.Description,
			Config:      c.Config,
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		nameKey := store.ProjectNameKey(ownerID, agg.Project.Name)
		if err := txn.Set(nameKey, []byte(agg.Project.ID), 0); err != nil {
			if errors.Is(err, store.ErrVersionMismatch) {
				return Result{}, nil, domain.NewConflict(domain.RuleNameTaken,
					"project name %q already exists for this owner", agg.Project.Name)
			}
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, 0); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "project created", agg.Project.ID), events, nil

	case UpdateProject:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		oldName := agg.Project.Name
		var status *domain.ProjectStatus
		if c.Status != nil {
			converted := domain.ProjectStatus(*c.Status)
			status = &converted
		}
		events, err := p.projects.Update(agg, project.UpdateInput{
			Name:        c.Name,
			Description: c.Description,
			Status:      status,
			Config:      c.Config,
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		if agg.Project.Name != oldName {
			newKey := store.ProjectNameKey(agg.Project.OwnerID, agg.Project.Name)
			if err := txn.Set(newKey, []byte(agg.Project.ID), 0); err != nil {
				if errors.Is(err, store.ErrVersionMismatch) {
					return Result{}, nil, domain.NewConflict(domain.RuleNameTaken,
						"project name %q already exists for this owner", agg.Project.Name)
				}
				return Result{}, nil, err
			}
			if err := txn.Delete(store.ProjectNameKey(agg.Project.OwnerID, oldName)); err != nil {
				return Result{}, nil, err
			}
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "project updated", agg.Project.ID), events, nil

	case DeleteProject:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, err := p.projects.Archive(agg, now)
		if err != nil {
			return Result{}, nil, err
		}
		// The name is released at archival; retention only governs how
		// long the snapshot survives before physical cleanup.
		if err := txn.Delete(store.ProjectNameKey(agg.Project.OwnerID, agg.Project.Name)); err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "project archived", agg.Project.ID), events, nil

	case AddService:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		svc, events, err := p.registry.AddService(agg, registry.AddServiceInput{
			Name:        c.Name,
			Type:        domain.ServiceType(c.Type),
			Description: c.Description,
			Config:      configInput(c.Config),
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "service added", svc.ID), events, nil

	case UpdateService:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		var status *domain.ServiceStatus
		if c.Status != nil {
			converted := domain.ServiceStatus(*c.Status)
			status = &converted
		}
		var cfg *registry.ConfigInput
		if c.Config != nil {
			converted := configInput(*c.Config)
			cfg = &converted
		}
		events, err := p.registry.UpdateService(agg, registry.UpdateServiceInput{
			ServiceID:   c.ServiceID,
			Description: c.Description,
			Status:      status,
			Config:      cfg,
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "service updated", c.ServiceID), events, nil

	case RemoveService:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, err := p.registry.RemoveService(agg, c.ServiceID, c.Reason, c.Force, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "service removed", c.ServiceID), events, nil

	case EstablishRelationship:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		rel, events, err := p.registry.EstablishRelationship(agg, registry.RelationshipInput{
			SourceServiceID: c.SourceServiceID,
			TargetServiceID: c.TargetServiceID,
			Type:            domain.RelationshipType(c.Type),
			Config:          c.Config,
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "relationship established", rel.ID), events, nil

	case RemoveRelationship:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, err := p.registry.RemoveRelationship(agg, c.RelationshipID, c.Reason, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "relationship removed", c.RelationshipID), events, nil

	case StartDeployment:
		agg, version, err := p.loadOwned(txn, c.ProjectID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		dep, events, err := p.deploy.Start(agg, deploy.StartInput{
			Environment: domain.Environment(c.Environment),
			Strategy:    domain.DeploymentStrategy(c.Strategy),
			Version:     c.Version,
			RequestedBy: ownerID,
		}, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := txn.Set(store.DeploymentIndexKey(dep.ID), []byte(agg.Project.ID), 0); err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		message := "deployment running"
		if dep.Status == domain.DeploymentPending {
			message = "deployment pending approval"
		}
		return accepted(correlationID, message, dep.ID), events, nil

	case ApproveDeployment:
		agg, version, err := p.loadByDeployment(txn, c.DeploymentID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, err := p.deploy.Approve(agg, c.DeploymentID, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "deployment approved", c.DeploymentID), events, nil

	case ReportDeploymentStep:
		agg, version, err := p.loadByDeployment(txn, c.DeploymentID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, opErr := p.deploy.ReportStep(agg, c.DeploymentID, deploy.StepReport{
			Name:    c.Step,
			Success: c.Status == "succeeded",
			Output:  c.Output,
		}, now)
		if opErr != nil && len(events) == 0 {
			return Result{}, nil, opErr
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "step recorded", c.DeploymentID), events, opErr

	case CancelDeployment:
		agg, version, err := p.loadByDeployment(txn, c.DeploymentID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, opErr := p.deploy.Cancel(agg, c.DeploymentID, c.Reason, now)
		if opErr != nil && len(events) == 0 {
			return Result{}, nil, opErr
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "deployment cancelled", c.DeploymentID), events, opErr

	case RollbackDeployment:
		agg, version, err := p.loadByDeployment(txn, c.DeploymentID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		events, err := p.deploy.Rollback(agg, c.DeploymentID, c.Reason, now)
		if err != nil {
			return Result{}, nil, err
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "deployment rolled back", c.DeploymentID), events, nil

	case CheckDeploymentTimeout:
		agg, version, err := p.loadByDeployment(txn, c.DeploymentID, ownerID)
		if err != nil {
			return Result{}, nil, err
		}
		expired, events, err := p.deploy.CheckTimeout(agg, c.DeploymentID, now)
		if err != nil {
			return Result{}, nil, err
		}
		if !expired {
			return accepted(correlationID, "deployment within bounds", c.DeploymentID), nil, nil
		}
		if err := saveAggregate(txn, agg, version); err != nil {
			return Result{}, nil, err
		}
		return accepted(correlationID, "deployment timed out", c.DeploymentID), events, nil

	default:
		return Result{}, nil, domain.NewValidation("unsupported command %q", cmd.Kind())
	}
}

// loadOwned fetches an aggregate and verifies the caller owns it. Executor
// commands carry an empty ownerID and skip the check.
func (p *Processor) loadOwned(txn store.Txn, projectID, ownerID string) (*domain.ProjectAggregate, uint64, error) {
	raw, version, err := txn.Get(store.ProjectKey(projectID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, domain.NewNotFound("project", projectID)
	}
	if err != nil {
		return nil, 0, err
	}
	var agg domain.ProjectAggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, 0, domain.NewInternal(err, "decode aggregate %s", projectID)
	}
	if ownerID != "" && agg.Project.OwnerID != ownerID {
		return nil, 0, domain.NewForbidden("project %s belongs to another owner", projectID)
	}
	return &agg, version, nil
}

func (p *Processor) loadByDeployment(txn store.Txn, deploymentID, ownerID string) (*domain.ProjectAggregate, uint64, error) {
	raw, _, err := txn.Get(store.DeploymentIndexKey(deploymentID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, domain.NewNotFound("deployment", deploymentID)
	}
	if err != nil {
		return nil, 0, err
	}
	return p.loadOwned(txn, string(raw), ownerID)
}

func saveAggregate(txn store.Txn, agg *domain.ProjectAggregate, expectedVersion uint64) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return txn.Set(store.ProjectKey(agg.Project.ID), raw, expectedVersion)
}

func configInput(c ServiceConfig) registry.ConfigInput {
	return registry.ConfigInput{
		Runtime:   c.Runtime,
		CPUMillis: c.CPUMillis,
		MemoryMB:  c.MemoryMB,
		Endpoints: c.Endpoints,
		Env:       c.Env,
	}
}
