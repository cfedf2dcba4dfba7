package deploy

import "github.com/Bikxs/Skafu-sub001/internal/domain"

// stepPlans maps each strategy to its ordered step list. The orchestrator
// only validates step transitions; executing a step is the external
// executor's job.
var stepPlans = map[domain.DeploymentStrategy][]string{
	domain.StrategyBlueGreen: {
		"provision-target",
		"deploy-code",
		"health-check",
		"switch-traffic",
		"decommission-source",
	},
	domain.StrategyRolling: {
		"snapshot-baseline",
		"drain-batch",
		"deploy-batch",
		"health-check",
		"restore-capacity",
	},
	domain.StrategyCanary: {
		"provision-canary",
		"deploy-code",
		"shift-sample-traffic",
		"evaluate-metrics",
		"promote",
	},
	domain.StrategyRecreate: {
		"stop-current",
		"deploy-code",
		"start-replacement",
		"health-check",
	},
}

// StepsFor returns the ordered step names for a strategy.
func StepsFor(strategy domain.DeploymentStrategy) []string {
	plan := stepPlans[strategy]
	steps := make([]string, len(plan))
	copy(steps, plan)
	return steps
}

func newSteps(strategy domain.DeploymentStrategy) []domain.DeploymentStep {
	plan := stepPlans[strategy]
	steps := make([]domain.DeploymentStep, len(plan))
	for i, name := range plan {
		steps[i] = domain.DeploymentStep{Name: name, Status: domain.StepPending}
	}
	return steps
}
