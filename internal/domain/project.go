package domain

import "time"

// ProjectStatus tracks a project through its lifecycle.
type ProjectStatus string

// Project lifecycle states.
const (
	ProjectDraft       ProjectStatus = "draft"
	ProjectConfiguring ProjectStatus = "configuring"
	ProjectReady       ProjectStatus = "ready"
	ProjectDeploying   ProjectStatus = "deploying"
	ProjectDeployed    ProjectStatus = "deployed"
	ProjectFailed      ProjectStatus = "failed"
	ProjectArchived    ProjectStatus = "archived"
)

// ProjectConfig captures runtime selections for a project.
type ProjectConfig struct {
	Runtime  string            `json:"runtime,omitempty"`
	Region   string            `json:"region,omitempty"`
	Features []string          `json:"features,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Project is the aggregate root for services, relationships and deployments.
type Project struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Status         ProjectStatus `json:"status"`
	Config         ProjectConfig `json:"config"`
	RetentionUntil *time.Time    `json:"retentionUntil,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// projectTransitions enumerates legal status moves.
var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectDraft:       {ProjectConfiguring, ProjectArchived},
	ProjectConfiguring: {ProjectReady, ProjectDeploying, ProjectArchived},
	ProjectReady:       {ProjectConfiguring, ProjectDeploying, ProjectArchived},
	ProjectDeploying:   {ProjectDeployed, ProjectFailed, ProjectReady, ProjectArchived},
	ProjectDeployed:    {ProjectConfiguring, ProjectDeploying, ProjectArchived},
	ProjectFailed:      {ProjectConfiguring, ProjectDeploying, ProjectArchived},
	ProjectArchived:    {},
}

// CanTransition reports whether a project may move from one status to another.
func CanTransition(from, to ProjectStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range projectTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsArchived reports whether the project was soft deleted.
func (p Project) IsArchived() bool { return p.Status == ProjectArchived }

// ValidProjectStatus reports enum membership.
func ValidProjectStatus(status ProjectStatus) bool {
	_, ok := projectTransitions[status]
	return ok
}

// ProjectAggregate is the single consistency boundary persisted per project.
type ProjectAggregate struct {
	Project       Project        `json:"project"`
	Services      []Service      `json:"services,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Deployments   []Deployment   `json:"deployments,omitempty"`
}

// ServiceByID returns a pointer into the aggregate's service slice.
func (a *ProjectAggregate) ServiceByID(id string) *Service {
	for i := range a.Services {
		if a.Services[i].ID == id {
			return &a.Services[i]
		}
	}
	return nil
}

// ServiceByName performs the per-project name uniqueness lookup.
func (a *ProjectAggregate) ServiceByName(name string) *Service {
	for i := range a.Services {
		if a.Services[i].Name == name {
			return &a.Services[i]
		}
	}
	return nil
}

// RelationshipByID returns a pointer into the aggregate's edge slice.
func (a *ProjectAggregate) RelationshipByID(id string) *Relationship {
	for i := range a.Relationships {
		if a.Relationships[i].ID == id {
			return &a.Relationships[i]
		}
	}
	return nil
}

// DeploymentByID returns a pointer into the aggregate's deployment slice.
func (a *ProjectAggregate) DeploymentByID(id string) *Deployment {
	for i := range a.Deployments {
		if a.Deployments[i].ID == id {
			return &a.Deployments[i]
		}
	}
	return nil
}

// ActiveDeployment returns the pending or running deployment for an
// environment, if one exists.
func (a *ProjectAggregate) ActiveDeployment(env Environment) *Deployment {
	for i := range a.Deployments {
		d := &a.Deployments[i]
		if d.Environment == env && !d.Status.Terminal() {
			return d
		}
	}
	return nil
}

// Touch bumps the project's update timestamp.
func (a *ProjectAggregate) Touch(now time.Time) {
	a.Project.UpdatedAt = now.UTC()
}
