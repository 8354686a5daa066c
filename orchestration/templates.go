package orchestration

import (
	"context"
	"fmt"

	"github.com/orbitalworks/waveflow/core"
)

// Built-in workflow templates for the two standard pipelines. Overrides
// passed to ExecuteStandardWorkflow are merged into every step's parameter
// map, so shared inputs like brand or locale need to be set only once.

const contentGenerationTemplate = `
id: content_generation
name: Content generation pipeline
cost_budget: 2.50
max_execution_time: 10m
auto_retry: true
steps:
  - id: generate_outline
    service: content-service
    action: generate_outline
    priority: critical
    timeout: 60s
    retries: 2
    parameters:
      tone: professional
      max_sections: 6
  - id: generate_draft
    service: content-service
    action: generate_article
    depends_on: [generate_outline]
    priority: high
    timeout: 120s
    retries: 2
    parameters:
      tone: professional
  - id: seo_review
    service: seo-service
    action: analyze_content
    depends_on: [generate_draft]
    priority: normal
    timeout: 45s
    retries: 1
    parameters:
      depth: standard
  - id: readability_check
    service: seo-service
    action: score_readability
    depends_on: [generate_draft]
    priority: low
    timeout: 30s
    retries: 1
    parameters: {}
`

const analyticsProcessingTemplate = `
id: analytics_processing
name: Analytics processing pipeline
cost_budget: 1.00
max_execution_time: 15m
auto_retry: true
steps:
  - id: extract_events
    service: analytics-service
    action: extract_events
    priority: critical
    timeout: 90s
    retries: 3
    parameters:
      window: 24h
  - id: aggregate_metrics
    service: analytics-service
    action: aggregate_metrics
    depends_on: [extract_events]
    priority: high
    timeout: 120s
    retries: 2
    parameters:
      window: 24h
  - id: generate_report
    service: content-service
    action: generate_summary
    depends_on: [aggregate_metrics]
    priority: normal
    timeout: 60s
    retries: 1
    parameters:
      format: markdown
`

var builtinTemplates = map[string]string{
	"content_generation":   contentGenerationTemplate,
	"analytics_processing": analyticsProcessingTemplate,
}

// StandardWorkflowNames lists the available built-in templates
func StandardWorkflowNames() []string {
	return []string{"analytics_processing", "content_generation"}
}

// StandardWorkflow builds a WorkflowDefinition from a built-in template,
// merging the overrides into every step's parameters.
func StandardWorkflow(name string, overrides map[string]interface{}) (*WorkflowDefinition, error) {
	source, exists := builtinTemplates[name]
	if !exists {
		return nil, fmt.Errorf("template %q: %w", name, core.ErrUnknownTemplate)
	}

	workflow, err := ParseWorkflowYAML([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}

	if len(overrides) > 0 {
		for i := range workflow.Steps {
			step := &workflow.Steps[i]
			if step.Parameters == nil {
				step.Parameters = make(map[string]interface{}, len(overrides))
			}
			for k, v := range overrides {
				step.Parameters[k] = v
			}
		}
	}

	return workflow, nil
}

// ExecuteStandardWorkflow runs a built-in template. Unknown template names
// are a caller mistake and return an error rather than a failed execution.
func (e *ExecutionEngine) ExecuteStandardWorkflow(ctx context.Context, name string, overrides map[string]interface{}, strategy OptimizationStrategy) (*WorkflowExecution, error) {
	workflow, err := StandardWorkflow(name, overrides)
	if err != nil {
		return nil, err
	}
	return e.ExecuteWorkflow(ctx, workflow, strategy)
}
