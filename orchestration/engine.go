package orchestration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/orbitalworks/waveflow/core"
	"github.com/orbitalworks/waveflow/telemetry"
)

// defaultWaveConcurrency bounds how many ready steps dispatch together
const defaultWaveConcurrency = 3

// ExecutionEngine turns a declarative workflow graph into a scheduled,
// fault-tolerant, cost-bounded execution. Steps whose dependencies are all
// satisfied dispatch together as a wave; the wave is joined before the next
// ready set is computed, which is the engine's sole ordering guarantee:
// strict dependency order across waves, none within a wave.
type ExecutionEngine struct {
	registry  core.ServiceRegistry
	predictor *CostPredictor
	optimizer *WorkflowOptimizer
	invoker   StepInvoker
	ledger    *ExecutionLedger
	logger    core.Logger
	metrics   *engineMetrics

	waveConcurrency int
}

// EngineOption configures an ExecutionEngine
type EngineOption func(*ExecutionEngine)

// WithWaveConcurrency overrides the wave dispatch bound
func WithWaveConcurrency(n int) EngineOption {
	return func(e *ExecutionEngine) {
		if n > 0 {
			e.waveConcurrency = n
		}
	}
}

// NewExecutionEngine creates an engine with explicit dependencies. Passing
// fakes for the predictor, optimizer, invoker, and ledger keeps unit tests
// isolated from the network.
func NewExecutionEngine(
	registry core.ServiceRegistry,
	predictor *CostPredictor,
	optimizer *WorkflowOptimizer,
	invoker StepInvoker,
	ledger *ExecutionLedger,
	logger core.Logger,
	opts ...EngineOption,
) *ExecutionEngine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	e := &ExecutionEngine{
		registry:        registry,
		predictor:       predictor,
		optimizer:       optimizer,
		invoker:         invoker,
		ledger:          ledger,
		logger:          logger,
		metrics:         newEngineMetrics(),
		waveConcurrency: defaultWaveConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteWorkflow runs a workflow to completion and returns its execution
// record. Expected failure modes - validation problems, step failures,
// critical aborts, cycles - are all communicated through the returned
// execution's Status and Errors, never as a returned error. The error
// return is reserved for programming mistakes such as a nil workflow.
func (e *ExecutionEngine) ExecuteWorkflow(ctx context.Context, workflow *WorkflowDefinition, strategy OptimizationStrategy) (*WorkflowExecution, error) {
	if workflow == nil {
		return nil, fmt.Errorf("engine.ExecuteWorkflow: workflow must not be nil")
	}
	if strategy == "" {
		strategy = StrategyBalanced
	}

	execution := &WorkflowExecution{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		Status:      ExecutionPending,
		StartedAt:   time.Now(),
		StepResults: make(map[string]*StepOutcome),
	}

	ctx, span := telemetry.StartSpan(ctx, "workflow.execute",
		attribute.String("waveflow.execution.id", execution.ID),
		attribute.String("waveflow.workflow.id", workflow.ID),
		attribute.Int("waveflow.workflow.step_count", len(workflow.Steps)),
		attribute.String("waveflow.strategy", string(strategy)),
	)
	defer span.End()

	e.logger.Info("Starting workflow execution", map[string]interface{}{
		"execution_id": execution.ID,
		"workflow_id":  workflow.ID,
		"step_count":   len(workflow.Steps),
		"strategy":     string(strategy),
	})

	// Validation failures abort immediately with a FAILED record; the
	// workflow never starts.
	if err := e.validateWorkflow(ctx, workflow); err != nil {
		telemetry.RecordSpanError(ctx, err)
		execution.Errors = append(execution.Errors, err.Error())
		e.finalize(ctx, execution)
		return execution, nil
	}

	// Cost prediction and the soft budget check. An overrun is a warning,
	// not a stop.
	estimate := e.predictor.PredictWorkflowCost(ctx, workflow)
	execution.CostEstimate = estimate
	if workflow.CostBudget > 0 && estimate.Total > workflow.CostBudget {
		telemetry.AddSpanEvent(ctx, "workflow_budget_exceeded",
			attribute.Float64("predicted_cost", estimate.Total),
			attribute.Float64("cost_budget", workflow.CostBudget),
		)
		e.logger.Warn("Predicted cost exceeds workflow budget", map[string]interface{}{
			"execution_id":       execution.ID,
			"workflow_id":        workflow.ID,
			"predicted_cost":     estimate.Total,
			"cost_budget":        workflow.CostBudget,
			"budget_utilization": estimate.BudgetUtilization,
		})
	}

	// Build the execution plan. The optimizer clones; the caller's workflow
	// is never touched.
	plan, err := e.optimizer.Optimize(ctx, workflow, strategy)
	if err != nil {
		telemetry.RecordSpanError(ctx, err)
		execution.Errors = append(execution.Errors, err.Error())
		e.finalize(ctx, execution)
		return execution, nil
	}

	execution.Status = ExecutionRunning
	e.ledger.RecordActive(execution)

	e.runWaves(ctx, execution, plan)

	e.finalize(ctx, execution)
	return execution, nil
}

// validateWorkflow checks structure and that every target service resolves
func (e *ExecutionEngine) validateWorkflow(ctx context.Context, workflow *WorkflowDefinition) error {
	if len(workflow.Steps) == 0 {
		return fmt.Errorf("workflow %s: %w", workflow.ID, core.ErrEmptyWorkflow)
	}

	seen := make(map[string]bool, len(workflow.Steps))
	for _, step := range workflow.Steps {
		if seen[step.ID] {
			return fmt.Errorf("workflow %s: step %q: %w", workflow.ID, step.ID, core.ErrDuplicateStep)
		}
		seen[step.ID] = true

		if _, err := e.registry.Resolve(ctx, step.Service); err != nil {
			return fmt.Errorf("workflow %s: step %q: %w", workflow.ID, step.ID, err)
		}
	}

	graph := newDependencyGraph(workflow.Steps)
	if err := graph.validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", workflow.ID, err)
	}
	return nil
}

// runWaves drives the wave loop until every step is terminal or the
// execution aborts. The loop is the sole mutator of the execution record.
func (e *ExecutionEngine) runWaves(ctx context.Context, execution *WorkflowExecution, plan *WorkflowDefinition) {
	graph := newDependencyGraph(plan.Steps)

	stepIndex := make(map[string]StepDefinition, len(plan.Steps))
	for _, step := range plan.Steps {
		stepIndex[step.ID] = step
	}

	wctx := WorkflowContext{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
	}

	waveNumber := 0
	for {
		ready := graph.readyNodes()
		if len(ready) == 0 {
			if graph.isComplete() {
				return
			}
			// No step can run and some are neither completed nor
			// unreachable: the remaining steps are deadlocked on each
			// other.
			stuck := graph.pendingNodes()
			msg := fmt.Sprintf("cycle detected: execution stalled on steps %s", strings.Join(stuck, ", "))
			execution.Errors = append(execution.Errors, msg)
			telemetry.AddSpanEvent(ctx, "workflow_cycle_detected",
				attribute.String("stuck_steps", strings.Join(stuck, ",")),
			)
			e.logger.Error("Workflow execution stalled", map[string]interface{}{
				"execution_id": execution.ID,
				"workflow_id":  execution.WorkflowID,
				"stuck_steps":  stuck,
			})
			return
		}

		// Priority ascending, step id as tiebreaker for a stable dispatch
		// order
		sort.Slice(ready, func(a, b int) bool {
			sa, sb := stepIndex[ready[a]], stepIndex[ready[b]]
			if sa.Priority != sb.Priority {
				return sa.Priority < sb.Priority
			}
			return sa.ID < sb.ID
		})

		wave := ready
		if len(wave) > e.waveConcurrency {
			wave = wave[:e.waveConcurrency]
		}
		waveNumber++

		telemetry.AddSpanEvent(ctx, "workflow_wave_dispatched",
			attribute.Int("wave", waveNumber),
			attribute.Int("size", len(wave)),
		)
		e.logger.Debug("Dispatching wave", map[string]interface{}{
			"execution_id": execution.ID,
			"wave":         waveNumber,
			"steps":        wave,
		})

		// Dispatch the wave and join it. A critical failure stops future
		// waves, but in-flight members always run to completion and their
		// results are recorded.
		outcomes := make([]*StepOutcome, len(wave))
		var wg sync.WaitGroup
		for idx, stepID := range wave {
			graph.markRunning(stepID)
			step := stepIndex[stepID]
			stepWctx := wctx
			stepWctx.StepID = stepID

			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = e.invoker.Invoke(ctx, stepWctx, step)
			}(idx)
		}
		wg.Wait()

		abort := false
		for _, outcome := range outcomes {
			step := stepIndex[outcome.StepID]
			e.metrics.recordStep(ctx, execution.WorkflowID, outcome)

			if outcome.Success {
				outcome.Cost = e.predictor.PredictStepCost(ctx, step)
				execution.StepResults[outcome.StepID] = outcome
				execution.TotalCost += outcome.Cost
				graph.markCompleted(outcome.StepID)
				continue
			}

			execution.Errors = append(execution.Errors,
				fmt.Sprintf("step %s failed after %d attempt(s): %s", outcome.StepID, outcome.Attempts, outcome.Error))
			graph.markFailed(outcome.StepID)

			if step.Priority == PriorityCritical {
				execution.Errors = append(execution.Errors,
					fmt.Sprintf("critical step %s failed, aborting workflow", outcome.StepID))
				telemetry.AddSpanEvent(ctx, "workflow_critical_abort",
					attribute.String("step_id", outcome.StepID),
				)
				e.logger.Error("Critical step failed, aborting workflow", map[string]interface{}{
					"execution_id": execution.ID,
					"workflow_id":  execution.WorkflowID,
					"step_id":      outcome.StepID,
				})
				abort = true
			}
		}

		if abort {
			return
		}
	}
}

// finalize stamps the terminal state exactly once and hands the record to
// the ledger. Status is COMPLETED iff no errors were recorded.
func (e *ExecutionEngine) finalize(ctx context.Context, execution *WorkflowExecution) {
	now := time.Now()
	execution.CompletedAt = &now
	execution.ExecutionTime = now.Sub(execution.StartedAt)

	if len(execution.Errors) == 0 {
		execution.Status = ExecutionCompleted
	} else {
		execution.Status = ExecutionFailed
	}

	e.ledger.Complete(execution)
	e.metrics.recordExecution(ctx, execution)

	telemetry.AddSpanEvent(ctx, "workflow_execution_finished",
		attribute.String("status", string(execution.Status)),
		attribute.Float64("total_cost", execution.TotalCost),
		attribute.Int64("duration_ms", execution.ExecutionTime.Milliseconds()),
	)
	e.logger.Info("Workflow execution finished", map[string]interface{}{
		"execution_id": execution.ID,
		"workflow_id":  execution.WorkflowID,
		"status":       string(execution.Status),
		"total_cost":   execution.TotalCost,
		"duration_ms":  execution.ExecutionTime.Milliseconds(),
		"errors":       len(execution.Errors),
	})
}

// Stats returns the ledger's aggregate statistics
func (e *ExecutionEngine) Stats() *OrchestrationStats {
	return e.ledger.Stats()
}
