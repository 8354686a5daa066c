package orchestration

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "waveflow/orchestration"

// engineMetrics holds the engine's OpenTelemetry instruments. Instrument
// creation only fails on malformed names, so errors fall back to nil
// instruments and recording becomes a no-op.
type engineMetrics struct {
	executions   metric.Int64Counter
	executionMs  metric.Float64Histogram
	workflowCost metric.Float64Histogram
	stepMs       metric.Float64Histogram
	stepFailures metric.Int64Counter
}

func newEngineMetrics() *engineMetrics {
	meter := otel.Meter(meterName)
	m := &engineMetrics{}

	m.executions, _ = meter.Int64Counter("waveflow.workflow.executions",
		metric.WithDescription("Workflow executions by status"))
	m.executionMs, _ = meter.Float64Histogram("waveflow.workflow.duration_ms",
		metric.WithDescription("Workflow execution time in milliseconds"),
		metric.WithUnit("ms"))
	m.workflowCost, _ = meter.Float64Histogram("waveflow.workflow.cost",
		metric.WithDescription("Accumulated workflow cost in dollars"))
	m.stepMs, _ = meter.Float64Histogram("waveflow.step.duration_ms",
		metric.WithDescription("Individual step duration in milliseconds"),
		metric.WithUnit("ms"))
	m.stepFailures, _ = meter.Int64Counter("waveflow.step.failures",
		metric.WithDescription("Step failures by service"))

	return m
}

func (m *engineMetrics) recordExecution(ctx context.Context, execution *WorkflowExecution) {
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", execution.WorkflowID),
		attribute.String("status", string(execution.Status)),
	)
	if m.executions != nil {
		m.executions.Add(ctx, 1, attrs)
	}
	if m.executionMs != nil {
		m.executionMs.Record(ctx, float64(execution.ExecutionTime.Milliseconds()), attrs)
	}
	if m.workflowCost != nil {
		m.workflowCost.Record(ctx, execution.TotalCost, attrs)
	}
}

func (m *engineMetrics) recordStep(ctx context.Context, workflowID string, outcome *StepOutcome) {
	if m.stepMs != nil {
		m.stepMs.Record(ctx, float64(outcome.ExecutionTime.Milliseconds()), metric.WithAttributes(
			attribute.String("workflow_id", workflowID),
			attribute.String("service", outcome.Service),
		))
	}
	if !outcome.Success && m.stepFailures != nil {
		m.stepFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow_id", workflowID),
			attribute.String("service", outcome.Service),
			attribute.String("step_id", outcome.StepID),
		))
	}
}
