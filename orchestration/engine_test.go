package orchestration

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orbitalworks/waveflow/core"
)

// fakeInvoker records dispatch order and timing and fails the steps it is
// told to fail.
type fakeInvoker struct {
	mu       sync.Mutex
	started  map[string]time.Time
	finished map[string]time.Time
	order    []string
	failures map[string]bool
	delays   map[string]time.Duration
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		started:  make(map[string]time.Time),
		finished: make(map[string]time.Time),
		failures: make(map[string]bool),
		delays:   make(map[string]time.Duration),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, wctx WorkflowContext, s StepDefinition) *StepOutcome {
	f.mu.Lock()
	f.started[s.ID] = time.Now()
	f.order = append(f.order, s.ID)
	delay := f.delays[s.ID]
	fail := f.failures[s.ID]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	outcome := &StepOutcome{
		StepID:   s.ID,
		Service:  s.Service,
		Attempts: 1,
	}
	if fail {
		outcome.Error = "simulated failure"
	} else {
		outcome.Success = true
		outcome.Output = map[string]interface{}{"success": true}
	}

	f.mu.Lock()
	f.finished[s.ID] = time.Now()
	f.mu.Unlock()
	return outcome
}

func (f *fakeInvoker) invoked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.started[id]
	return ok
}

func newTestEngine(invoker StepInvoker, opts ...EngineOption) (*ExecutionEngine, *ExecutionLedger) {
	registry := testRegistry()
	predictor := NewCostPredictor(registry)
	ledger := NewExecutionLedger(10, 10)
	engine := NewExecutionEngine(registry, predictor, NewWorkflowOptimizer(predictor), invoker, ledger, &core.NoOpLogger{}, opts...)
	return engine, ledger
}

func diamondWorkflow() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:   "diamond",
		Name: "diamond",
		Steps: []StepDefinition{
			{ID: "a", Service: "content-service", Action: "generate_outline", Priority: PriorityHigh},
			{ID: "b", Service: "seo-service", Action: "analyze_content", DependsOn: []string{"a"}, Priority: PriorityNormal},
			{ID: "c", Service: "analytics-service", Action: "aggregate_metrics", DependsOn: []string{"a"}, Priority: PriorityNormal},
		},
	}
}

func TestExecuteWorkflowWaves(t *testing.T) {
	invoker := newFakeInvoker()
	engine, _ := newTestEngine(invoker)

	execution, err := engine.ExecuteWorkflow(context.Background(), diamondWorkflow(), StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if execution.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", execution.Status, execution.Errors)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := execution.StepResults[id]; !ok {
			t.Errorf("missing result for step %s", id)
		}
	}

	// Wave 1 is [a] alone; b and c follow in wave 2
	if invoker.order[0] != "a" {
		t.Errorf("expected a dispatched first, got %v", invoker.order)
	}
	if len(invoker.order) != 3 {
		t.Fatalf("expected 3 dispatches, got %v", invoker.order)
	}
}

func TestExecuteWorkflowDependencyOrdering(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.delays["a"] = 100 * time.Millisecond
	engine, _ := newTestEngine(invoker)

	workflow := &WorkflowDefinition{
		ID: "ordered",
		Steps: []StepDefinition{
			{ID: "a", Service: "content-service", Action: "generate_outline", Priority: PriorityNormal},
			{ID: "b", Service: "seo-service", Action: "analyze_content", DependsOn: []string{"a"}, Priority: PriorityNormal},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}
	if execution.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s", execution.Status)
	}

	// b must not dispatch until a has finished
	if !invoker.started["b"].After(invoker.finished["a"]) {
		t.Errorf("b dispatched at %v before a completed at %v",
			invoker.started["b"], invoker.finished["a"])
	}
}

func TestExecuteWorkflowCycleFails(t *testing.T) {
	invoker := newFakeInvoker()
	engine, _ := newTestEngine(invoker)

	workflow := &WorkflowDefinition{
		ID: "cyclic",
		Steps: []StepDefinition{
			{ID: "a", Service: "content-service", Action: "x", DependsOn: []string{"b"}},
			{ID: "b", Service: "seo-service", Action: "y", DependsOn: []string{"a"}},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if execution.Status != ExecutionFailed {
		t.Fatalf("expected failed, got %s", execution.Status)
	}
	if len(execution.StepResults) != 0 {
		t.Errorf("no step should have run, got %v", execution.StepResults)
	}
	if len(execution.Errors) == 0 {
		t.Fatal("expected a recorded error")
	}
	msg := strings.Join(execution.Errors, "; ")
	if !strings.Contains(msg, "a") || !strings.Contains(msg, "b") {
		t.Errorf("error should name both cyclic steps: %q", msg)
	}
	if invoker.invoked("a") || invoker.invoked("b") {
		t.Error("cyclic steps must never be dispatched")
	}
}

func TestExecuteWorkflowUnknownServiceFails(t *testing.T) {
	invoker := newFakeInvoker()
	engine, _ := newTestEngine(invoker)

	workflow := &WorkflowDefinition{
		ID: "unknown-service",
		Steps: []StepDefinition{
			{ID: "a", Service: "no-such-service", Action: "x"},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}
	if execution.Status != ExecutionFailed {
		t.Fatalf("expected failed, got %s", execution.Status)
	}
	if invoker.invoked("a") {
		t.Error("step with unknown service must never be dispatched")
	}
}

func TestExecuteWorkflowCriticalFailureAborts(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.failures["gate"] = true
	engine, _ := newTestEngine(invoker)

	workflow := &WorkflowDefinition{
		ID: "critical",
		Steps: []StepDefinition{
			{ID: "gate", Service: "content-service", Action: "generate_outline", Priority: PriorityCritical},
			{ID: "free", Service: "seo-service", Action: "fetch", Priority: PriorityNormal},
			{ID: "after", Service: "analytics-service", Action: "aggregate_metrics", DependsOn: []string{"free"}, Priority: PriorityNormal},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if execution.Status != ExecutionFailed {
		t.Fatalf("expected failed, got %s", execution.Status)
	}

	// gate and free share wave 1; free runs to completion and its result is
	// kept. after belongs to the next wave and must never dispatch.
	if !invoker.invoked("free") {
		t.Error("in-flight wave member should finish")
	}
	if _, ok := execution.StepResults["free"]; !ok {
		t.Error("successful wave member result should be recorded")
	}
	if invoker.invoked("after") {
		t.Error("no step outside the dispatched wave may run after a critical failure")
	}

	found := false
	for _, msg := range execution.Errors {
		if strings.Contains(msg, "critical step gate failed") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected critical abort error, got %v", execution.Errors)
	}
}

func TestExecuteWorkflowPartialFailure(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.failures["b"] = true
	engine, _ := newTestEngine(invoker)

	workflow := &WorkflowDefinition{
		ID: "partial",
		Steps: []StepDefinition{
			{ID: "a", Service: "content-service", Action: "generate_outline", Priority: PriorityNormal},
			{ID: "b", Service: "seo-service", Action: "analyze_content", DependsOn: []string{"a"}, Priority: PriorityNormal},
			{ID: "c", Service: "analytics-service", Action: "aggregate_metrics", DependsOn: []string{"a"}, Priority: PriorityNormal},
			{ID: "d", Service: "seo-service", Action: "fetch", DependsOn: []string{"b"}, Priority: PriorityNormal},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if execution.Status != ExecutionFailed {
		t.Fatalf("expected failed, got %s", execution.Status)
	}

	// Completed work survives a partial failure
	for _, id := range []string{"a", "c"} {
		if _, ok := execution.StepResults[id]; !ok {
			t.Errorf("expected %s in step results", id)
		}
	}
	if _, ok := execution.StepResults["b"]; ok {
		t.Error("failed step must not appear in step results")
	}
	if invoker.invoked("d") {
		t.Error("dependent of a failed step must never be dispatched")
	}
}

func TestExecuteWorkflowCostAccounting(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.failures["b"] = true
	registry := testRegistry()
	predictor := NewCostPredictor(registry)
	ledger := NewExecutionLedger(10, 10)
	engine := NewExecutionEngine(registry, predictor, NewWorkflowOptimizer(predictor), invoker, ledger, &core.NoOpLogger{})

	workflow := diamondWorkflow()

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	// Total cost is exactly the predicted cost of the steps that succeeded
	var expected float64
	plan, _ := NewWorkflowOptimizer(predictor).Optimize(context.Background(), workflow, StrategyBalanced)
	for _, s := range plan.Steps {
		if _, ok := execution.StepResults[s.ID]; ok {
			expected += predictor.PredictStepCost(context.Background(), s)
		}
	}
	if math.Abs(execution.TotalCost-expected) > 1e-9 {
		t.Errorf("total cost %v, expected %v", execution.TotalCost, expected)
	}
}

func TestExecuteWorkflowBudgetWarningDoesNotStop(t *testing.T) {
	invoker := newFakeInvoker()
	engine, _ := newTestEngine(invoker)

	workflow := diamondWorkflow()
	workflow.CostBudget = 0.000001

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if execution.Status != ExecutionCompleted {
		t.Fatalf("budget overrun must not fail the run, got %s", execution.Status)
	}
	if execution.CostEstimate == nil || execution.CostEstimate.BudgetUtilization <= 100 {
		t.Errorf("expected utilization above 100%%, got %+v", execution.CostEstimate)
	}
}

func TestExecuteWorkflowWaveConcurrencyBound(t *testing.T) {
	invoker := newFakeInvoker()
	for _, id := range []string{"a", "b", "c", "d"} {
		invoker.delays[id] = 20 * time.Millisecond
	}
	engine, _ := newTestEngine(invoker, WithWaveConcurrency(2))

	workflow := &WorkflowDefinition{
		ID: "fanout",
		Steps: []StepDefinition{
			{ID: "a", Service: "seo-service", Action: "fetch", Priority: PriorityNormal},
			{ID: "b", Service: "seo-service", Action: "fetch", Priority: PriorityNormal},
			{ID: "c", Service: "seo-service", Action: "fetch", Priority: PriorityNormal},
			{ID: "d", Service: "seo-service", Action: "fetch", Priority: PriorityNormal},
		},
	}

	execution, err := engine.ExecuteWorkflow(context.Background(), workflow, StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}
	if execution.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s", execution.Status)
	}

	// With a bound of 2, the second pair must start after the first pair
	// has been joined.
	firstWaveEnd := invoker.finished[invoker.order[0]]
	if invoker.finished[invoker.order[1]].After(firstWaveEnd) {
		firstWaveEnd = invoker.finished[invoker.order[1]]
	}
	for _, id := range invoker.order[2:] {
		if invoker.started[id].Before(firstWaveEnd) {
			t.Errorf("step %s started before the first wave was joined", id)
		}
	}
}

func TestExecuteWorkflowMovesExecutionToHistory(t *testing.T) {
	invoker := newFakeInvoker()
	engine, ledger := newTestEngine(invoker)

	execution, err := engine.ExecuteWorkflow(context.Background(), diamondWorkflow(), StrategyBalanced)
	if err != nil {
		t.Fatal(err)
	}

	if ledger.ActiveCount() != 0 {
		t.Errorf("execution should leave the active map, %d remain", ledger.ActiveCount())
	}
	if ledger.CompletedCount() != 1 {
		t.Errorf("expected 1 completed execution, got %d", ledger.CompletedCount())
	}

	history := ledger.CostHistory("diamond")
	if len(history) != 1 || math.Abs(history[0]-execution.TotalCost) > 1e-9 {
		t.Errorf("cost history should record the run, got %v", history)
	}
}

func TestExecuteStandardWorkflowUnknownTemplate(t *testing.T) {
	invoker := newFakeInvoker()
	engine, _ := newTestEngine(invoker)

	_, err := engine.ExecuteStandardWorkflow(context.Background(), "no-such-template", nil, StrategyBalanced)
	if err == nil {
		t.Fatal("expected an error for unknown template")
	}
}
