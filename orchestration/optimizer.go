package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitalworks/waveflow/core"
)

// OptimizationStrategy selects how the optimizer adjusts an execution plan
type OptimizationStrategy string

const (
	StrategyCost     OptimizationStrategy = "cost"
	StrategySpeed    OptimizationStrategy = "speed"
	StrategyBalanced OptimizationStrategy = "balanced"
)

// Timeout bounds applied by the strategies. All adjustments are absolute
// caps and floors, which keeps the optimizer idempotent: applying the same
// strategy twice produces the same plan.
const (
	costTimeoutCap     = 60 * time.Second
	speedTimeoutFloor  = 2 * time.Minute
	balancedTimeoutCap = 90 * time.Second
)

// WorkflowOptimizer rewrites a workflow's execution plan for a strategy.
// Only step timeouts and priorities change; the optimizer is pure and
// always returns a new definition, never touching the caller's workflow.
type WorkflowOptimizer struct {
	predictor *CostPredictor
}

// NewWorkflowOptimizer creates an optimizer using the predictor to weigh
// steps under the balanced strategy
func NewWorkflowOptimizer(predictor *CostPredictor) *WorkflowOptimizer {
	return &WorkflowOptimizer{predictor: predictor}
}

// Optimize returns a new workflow adjusted for the strategy
func (o *WorkflowOptimizer) Optimize(ctx context.Context, workflow *WorkflowDefinition, strategy OptimizationStrategy) (*WorkflowDefinition, error) {
	plan := workflow.Clone()

	switch strategy {
	case StrategyCost:
		o.applyCost(plan)
	case StrategySpeed:
		o.applySpeed(plan)
	case StrategyBalanced:
		o.applyBalanced(ctx, plan)
	default:
		return nil, fmt.Errorf("optimization strategy %q: %w", strategy, core.ErrUnknownStrategy)
	}

	return plan, nil
}

// applyCost caps timeouts so expensive calls cannot run long, and demotes
// every non-critical step so cheap work yields to whatever matters
func (o *WorkflowOptimizer) applyCost(plan *WorkflowDefinition) {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Timeout > costTimeoutCap {
			step.Timeout = costTimeoutCap
		}
		if step.Priority != PriorityCritical {
			step.Priority = PriorityLow
		}
	}
}

// applySpeed extends timeouts so slow calls are not cut short, and promotes
// every non-critical step
func (o *WorkflowOptimizer) applySpeed(plan *WorkflowDefinition) {
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Timeout > 0 && step.Timeout < speedTimeoutFloor {
			step.Timeout = speedTimeoutFloor
		}
		if step.Priority != PriorityCritical {
			step.Priority = PriorityHigh
		}
	}
}

// applyBalanced blends both: steps predicted to cost well above the
// workflow mean get the cost treatment, steps well below it get the speed
// treatment. Predicted cost ignores timeout and priority, so reapplying the
// strategy classifies each step identically.
func (o *WorkflowOptimizer) applyBalanced(ctx context.Context, plan *WorkflowDefinition) {
	if len(plan.Steps) == 0 {
		return
	}

	costs := make([]float64, len(plan.Steps))
	var total float64
	for i, step := range plan.Steps {
		costs[i] = o.predictor.PredictStepCost(ctx, step)
		total += costs[i]
	}
	mean := total / float64(len(plan.Steps))

	for i := range plan.Steps {
		step := &plan.Steps[i]
		switch {
		case costs[i] > mean*1.25:
			if step.Timeout > balancedTimeoutCap {
				step.Timeout = balancedTimeoutCap
			}
			if step.Priority != PriorityCritical {
				step.Priority = PriorityNormal
			}
		case costs[i] < mean*0.75:
			if step.Timeout > 0 && step.Timeout < speedTimeoutFloor {
				step.Timeout = speedTimeoutFloor
			}
			if step.Priority != PriorityCritical {
				step.Priority = PriorityHigh
			}
		}
	}
}
