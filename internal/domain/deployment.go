package domain

import "time"

// Environment names a deployment target.
type Environment string

// Deployment environments.
const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// ValidEnvironment reports enum membership.
func ValidEnvironment(e Environment) bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}

// DeploymentStrategy selects the ordered step list for a deployment.
type DeploymentStrategy string

// Supported strategies.
const (
	StrategyBlueGreen DeploymentStrategy = "blue-green"
	StrategyRolling   DeploymentStrategy = "rolling"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyRecreate  DeploymentStrategy = "recreate"
)

// ValidStrategy reports enum membership.
func ValidStrategy(s DeploymentStrategy) bool {
	switch s {
	case StrategyBlueGreen, StrategyRolling, StrategyCanary, StrategyRecreate:
		return true
	}
	return false
}

// DeploymentStatus is the deployment state machine's current state.
type DeploymentStatus string

// Deployment states. Pending and running are the only non-terminal states.
const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed    DeploymentStatus = "failed"
	DeploymentCancelled DeploymentStatus = "cancelled"
	DeploymentTimeout   DeploymentStatus = "timeout"
	DeploymentRollback  DeploymentStatus = "rollback"
)

// Terminal reports whether no further transition is possible from s.
// Rollback counts as terminal: it is an end state reached from running or
// from the failure path, never a waypoint.
func (s DeploymentStatus) Terminal() bool {
	return s != DeploymentPending && s != DeploymentRunning
}

// StepStatus tracks one deployment step.
type StepStatus string

// Step states.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// DeploymentStep is one entry of a deployment's ordered step list.
type DeploymentStep struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      string     `json:"output,omitempty"`
}

// Deployment captures a single deployment attempt of a project into one
// environment.
type Deployment struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"projectId"`
	Environment        Environment        `json:"environment"`
	Status             DeploymentStatus   `json:"status"`
	Strategy           DeploymentStrategy `json:"strategy"`
	Version            string             `json:"version"`
	Steps              []DeploymentStep   `json:"steps"`
	CurrentStep        int                `json:"currentStep"`
	TotalSteps         int                `json:"totalSteps"`
	PercentComplete    int                `json:"percentComplete"`
	EstimatedRemaining time.Duration      `json:"estimatedRemaining"`
	ApprovalRequired   bool               `json:"approvalRequired"`
	Approved           bool               `json:"approved"`
	RequestedBy        string             `json:"requestedBy,omitempty"`
	MaxDuration        time.Duration      `json:"maxDuration"`
	FailureReason      string             `json:"failureReason,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	StartedAt          *time.Time         `json:"startedAt,omitempty"`
	CompletedAt        *time.Time         `json:"completedAt,omitempty"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// TimedOut reports whether a running deployment exceeded its max duration at
// instant now. Timeout is a pure function of the clock so it can be evaluated
// lazily on any read instead of by an in-process timer.
func (d *Deployment) TimedOut(now time.Time) bool {
	if d.Status != DeploymentRunning || d.StartedAt == nil || d.MaxDuration <= 0 {
		return false
	}
	return now.Sub(*d.StartedAt) > d.MaxDuration
}

// CompletedSteps counts steps that finished successfully.
func (d *Deployment) CompletedSteps() int {
	count := 0
	for _, step := range d.Steps {
		if step.Status == StepSucceeded {
			count++
		}
	}
	return count
}

// RecomputeProgress refreshes the derived progress counters from the step
// list. The remaining-time estimate extrapolates the mean duration of the
// completed steps.
func (d *Deployment) RecomputeProgress(now time.Time) {
	d.TotalSteps = len(d.Steps)
	completed := d.CompletedSteps()
	if d.TotalSteps == 0 {
		d.PercentComplete = 0
		d.EstimatedRemaining = 0
		return
	}
	d.PercentComplete = completed * 100 / d.TotalSteps
	d.CurrentStep = completed
	if d.CurrentStep > d.TotalSteps-1 && completed != d.TotalSteps {
		d.CurrentStep = d.TotalSteps - 1
	}

	if completed == 0 || completed == d.TotalSteps {
		d.EstimatedRemaining = 0
		return
	}
	var elapsed time.Duration
	for _, step := range d.Steps {
		if step.Status == StepSucceeded && step.StartedAt != nil && step.CompletedAt != nil {
			elapsed += step.CompletedAt.Sub(*step.StartedAt)
		}
	}
	if elapsed <= 0 {
		d.EstimatedRemaining = 0
		return
	}
	mean := elapsed / time.Duration(completed)
	d.EstimatedRemaining = mean * time.Duration(d.TotalSteps-completed)
}
