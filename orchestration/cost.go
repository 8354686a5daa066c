package orchestration

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/orbitalworks/waveflow/core"
)

// Base cost per invocation by service category, in dollars.
var defaultBaseCosts = map[core.ServiceCategory]float64{
	core.CategoryAIIntensive:    0.050,
	core.CategoryDataProcessing: 0.020,
	core.CategoryAPIService:     0.005,
}

// Action-name keywords that raise the complexity factor, checked in order
// so an action matching several keywords scores deterministically.
// Generation and analysis actions consume model tokens or heavy compute;
// plain lookups do not.
var complexityKeywords = []struct {
	keyword string
	weight  float64
}{
	{"generate", 0.50},
	{"create", 0.40},
	{"analyze", 0.35},
	{"optimize", 0.35},
	{"translate", 0.30},
	{"aggregate", 0.20},
	{"transform", 0.20},
}

// orchestrationOverhead is added on top of the summed step costs to account
// for scheduling and coordination.
const orchestrationOverhead = 0.05

// CostPredictor estimates the monetary cost of steps and workflows before
// they run. Prediction is deterministic and side-effect free: the service
// category comes from the configured registry, never from name matching.
type CostPredictor struct {
	registry  core.ServiceRegistry
	baseCosts map[core.ServiceCategory]float64
}

// NewCostPredictor creates a predictor backed by the given registry
func NewCostPredictor(registry core.ServiceRegistry) *CostPredictor {
	return &CostPredictor{
		registry:  registry,
		baseCosts: defaultBaseCosts,
	}
}

// PredictStepCost estimates the cost of a single step: the category base
// cost scaled by a complexity factor derived from the action name, the
// parameter payload volume, and the step's retry allowance.
func (p *CostPredictor) PredictStepCost(ctx context.Context, step StepDefinition) float64 {
	category := core.CategoryAPIService
	if ep, err := p.registry.Resolve(ctx, step.Service); err == nil {
		category = ep.Category
	}

	base, exists := p.baseCosts[category]
	if !exists {
		base = p.baseCosts[core.CategoryAPIService]
	}

	return base * p.complexityFactor(step)
}

// complexityFactor starts at 1.0 and grows with action complexity, payload
// volume, and retry allowance (retried calls are billed on every attempt in
// the worst case, weighted down because retries are the exception).
func (p *CostPredictor) complexityFactor(step StepDefinition) float64 {
	factor := 1.0

	action := strings.ToLower(step.Action)
	for _, kw := range complexityKeywords {
		if strings.Contains(action, kw.keyword) {
			factor += kw.weight
			break
		}
	}

	// Volume weight: 0.1 per KB of parameters, capped so one oversized
	// payload cannot dominate the estimate
	if len(step.Parameters) > 0 {
		if data, err := json.Marshal(step.Parameters); err == nil {
			volume := float64(len(data)) / 1024.0 * 0.1
			if volume > 1.0 {
				volume = 1.0
			}
			factor += volume
		}
	}

	// Retry weight
	factor += float64(step.Retries) * 0.05

	return factor
}

// WorkflowCostEstimate is the predicted spend for a whole workflow
type WorkflowCostEstimate struct {
	StepCosts map[string]float64 `json:"step_costs"`
	Subtotal  float64            `json:"subtotal"`
	Overhead  float64            `json:"overhead"`
	Total     float64            `json:"total"`

	// BudgetUtilization is Total as a percentage of the workflow's cost
	// budget; zero when no budget is set
	BudgetUtilization float64 `json:"budget_utilization"`
}

// PredictWorkflowCost estimates every step plus orchestration overhead
func (p *CostPredictor) PredictWorkflowCost(ctx context.Context, workflow *WorkflowDefinition) *WorkflowCostEstimate {
	estimate := &WorkflowCostEstimate{
		StepCosts: make(map[string]float64, len(workflow.Steps)),
	}

	for _, step := range workflow.Steps {
		cost := p.PredictStepCost(ctx, step)
		estimate.StepCosts[step.ID] = cost
		estimate.Subtotal += cost
	}

	estimate.Overhead = estimate.Subtotal * orchestrationOverhead
	estimate.Total = estimate.Subtotal + estimate.Overhead

	if workflow.CostBudget > 0 {
		estimate.BudgetUtilization = estimate.Total / workflow.CostBudget * 100
	}

	return estimate
}
