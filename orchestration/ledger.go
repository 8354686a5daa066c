package orchestration

import (
	"fmt"
	"sync"
	"time"

	"github.com/orbitalworks/waveflow/core"
)

// statsWindow is how many recent completed executions feed the stats
// recommendations.
const statsWindow = 20

// ExecutionLedger is the bounded in-memory store of executions. Active
// executions are mutated only by their owning engine control loop; the
// ledger itself only moves records between collections, so a single mutex
// keeps eviction atomic when workflows finish concurrently.
type ExecutionLedger struct {
	mu          sync.Mutex
	active      map[string]*WorkflowExecution
	completed   []*WorkflowExecution
	costHistory map[string][]float64

	maxCompleted   int
	maxCostHistory int
}

// NewExecutionLedger creates a ledger with bounded retention. Sizes below 1
// fall back to defaults.
func NewExecutionLedger(maxCompleted, maxCostHistory int) *ExecutionLedger {
	if maxCompleted < 1 {
		maxCompleted = 200
	}
	if maxCostHistory < 1 {
		maxCostHistory = 100
	}
	return &ExecutionLedger{
		active:         make(map[string]*WorkflowExecution),
		completed:      make([]*WorkflowExecution, 0, maxCompleted),
		costHistory:    make(map[string][]float64),
		maxCompleted:   maxCompleted,
		maxCostHistory: maxCostHistory,
	}
}

// RecordActive registers a running execution
func (l *ExecutionLedger) RecordActive(execution *WorkflowExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[execution.ID] = execution
}

// Complete moves a terminal execution from the active map into the bounded
// completed history and appends its cost to the per-workflow cost history,
// evicting the oldest entries past the bounds.
func (l *ExecutionLedger) Complete(execution *WorkflowExecution) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.active, execution.ID)

	l.completed = append(l.completed, execution)
	if len(l.completed) > l.maxCompleted {
		l.completed = l.completed[len(l.completed)-l.maxCompleted:]
	}

	history := append(l.costHistory[execution.WorkflowID], execution.TotalCost)
	if len(history) > l.maxCostHistory {
		history = history[len(history)-l.maxCostHistory:]
	}
	l.costHistory[execution.WorkflowID] = history
}

// Active returns a running execution by id
func (l *ExecutionLedger) Active(id string) (*WorkflowExecution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	execution, exists := l.active[id]
	if !exists {
		return nil, fmt.Errorf("active execution %q: %w", id, core.ErrExecutionNotFound)
	}
	return execution, nil
}

// ActiveCount returns the number of running executions
func (l *ExecutionLedger) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// CompletedCount returns the number of retained completed executions
func (l *ExecutionLedger) CompletedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed)
}

// CostHistory returns a copy of the cost history for a workflow
func (l *ExecutionLedger) CostHistory(workflowID string) []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.costHistory[workflowID]
	cp := make([]float64, len(history))
	copy(cp, history)
	return cp
}

// OrchestrationStats is the JSON-serializable summary consumed by the
// operations dashboard.
type OrchestrationStats struct {
	ActiveExecutions    int            `json:"active_executions"`
	CompletedExecutions int            `json:"completed_executions"`
	SuccessRate         float64        `json:"success_rate"`
	AverageCost         float64        `json:"average_cost"`
	AverageExecutionMs  int64          `json:"average_execution_ms"`
	ServiceDistribution map[string]int `json:"service_distribution"`
	Recommendations     []string       `json:"recommendations,omitempty"`
	GeneratedAt         time.Time      `json:"generated_at"`
}

// Stats computes aggregate statistics and threshold-based recommendations
// over the most recent completed executions.
func (l *ExecutionLedger) Stats() *OrchestrationStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &OrchestrationStats{
		ActiveExecutions:    len(l.active),
		CompletedExecutions: len(l.completed),
		ServiceDistribution: make(map[string]int),
		GeneratedAt:         time.Now().UTC(),
	}

	recent := l.completed
	if len(recent) > statsWindow {
		recent = recent[len(recent)-statsWindow:]
	}
	if len(recent) == 0 {
		return stats
	}

	var succeeded int
	var totalCost float64
	var totalTime time.Duration
	for _, execution := range recent {
		if execution.Status == ExecutionCompleted {
			succeeded++
		}
		totalCost += execution.TotalCost
		totalTime += execution.ExecutionTime

		for _, outcome := range execution.StepResults {
			stats.ServiceDistribution[outcome.Service]++
		}
	}

	stats.SuccessRate = float64(succeeded) / float64(len(recent))
	stats.AverageCost = totalCost / float64(len(recent))
	stats.AverageExecutionMs = (totalTime / time.Duration(len(recent))).Milliseconds()
	stats.Recommendations = l.recommendations(recent, stats.SuccessRate)

	return stats
}

// recommendations applies simple thresholds over the recent executions.
// Caller must hold the mutex.
func (l *ExecutionLedger) recommendations(recent []*WorkflowExecution, successRate float64) []string {
	var recs []string

	if successRate < 0.8 {
		recs = append(recs, fmt.Sprintf(
			"failure rate elevated in recent executions (success rate %.0f%%); review step retry budgets and service health",
			successRate*100))
	}

	// Cost trend: compare the newer half of recent costs against the older
	// half
	if len(recent) >= 4 {
		half := len(recent) / 2
		var older, newer float64
		for _, e := range recent[:half] {
			older += e.TotalCost
		}
		for _, e := range recent[half:] {
			newer += e.TotalCost
		}
		olderAvg := older / float64(half)
		newerAvg := newer / float64(len(recent)-half)

		if olderAvg > 0 && newerAvg > olderAvg*1.2 {
			recs = append(recs, fmt.Sprintf(
				"cost trending upward (avg $%.4f -> $%.4f); consider the cost optimization strategy",
				olderAvg, newerAvg))
		}
	}

	return recs
}
