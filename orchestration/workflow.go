package orchestration

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Priority orders steps within a wave; the lowest value dispatches first.
// PriorityCritical additionally triggers fail-fast: when a critical step
// fails, no further wave is scheduled.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// UnmarshalYAML accepts priority names in workflow definitions
func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "critical":
		*p = PriorityCritical
	case "high":
		*p = PriorityHigh
	case "normal", "":
		*p = PriorityNormal
	case "low":
		*p = PriorityLow
	default:
		return fmt.Errorf("unknown priority %q", name)
	}
	return nil
}

// MarshalYAML renders the priority name
func (p Priority) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// StepDefinition defines a single remote-service invocation within a
// workflow. Definitions are value types: the optimizer and engine never
// mutate a caller's definition, they work on clones.
type StepDefinition struct {
	ID         string                 `yaml:"id" json:"id"`
	Service    string                 `yaml:"service" json:"service"`
	Action     string                 `yaml:"action" json:"action"`
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`
	DependsOn  []string               `yaml:"depends_on" json:"depends_on,omitempty"`
	Timeout    time.Duration          `yaml:"-" json:"timeout"`
	Retries    int                    `yaml:"retries" json:"retries"`
	Priority   Priority               `yaml:"priority" json:"priority"`
}

// UnmarshalYAML decodes a step, parsing the timeout from a duration string
func (s *StepDefinition) UnmarshalYAML(value *yaml.Node) error {
	type rawStep struct {
		ID         string                 `yaml:"id"`
		Service    string                 `yaml:"service"`
		Action     string                 `yaml:"action"`
		Parameters map[string]interface{} `yaml:"parameters"`
		DependsOn  []string               `yaml:"depends_on"`
		Timeout    string                 `yaml:"timeout"`
		Retries    int                    `yaml:"retries"`
		Priority   Priority               `yaml:"priority"`
	}

	raw := rawStep{Priority: PriorityNormal}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	s.ID = raw.ID
	s.Service = raw.Service
	s.Action = raw.Action
	s.Parameters = raw.Parameters
	s.DependsOn = raw.DependsOn
	s.Retries = raw.Retries
	s.Priority = raw.Priority

	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("step %s: parsing timeout: %w", raw.ID, err)
		}
		s.Timeout = d
	}
	return nil
}

// Clone returns a deep copy of the step
func (s StepDefinition) Clone() StepDefinition {
	cp := s
	if s.Parameters != nil {
		cp.Parameters = make(map[string]interface{}, len(s.Parameters))
		for k, v := range s.Parameters {
			cp.Parameters[k] = v
		}
	}
	if s.DependsOn != nil {
		cp.DependsOn = make([]string, len(s.DependsOn))
		copy(cp.DependsOn, s.DependsOn)
	}
	return cp
}

// WorkflowDefinition defines a complete workflow. It is immutable once
// created; transformations produce new instances via Clone.
type WorkflowDefinition struct {
	ID    string           `yaml:"id" json:"id"`
	Name  string           `yaml:"name" json:"name"`
	Steps []StepDefinition `yaml:"steps" json:"steps"`

	// MaxExecutionTime is advisory only: it is surfaced in estimates and
	// stats but never used to preempt a running execution.
	MaxExecutionTime time.Duration `yaml:"-" json:"max_execution_time"`

	// CostBudget is a soft ceiling; a predicted overrun logs a warning and
	// execution proceeds.
	CostBudget float64 `yaml:"cost_budget" json:"cost_budget"`

	AutoRetry bool `yaml:"auto_retry" json:"auto_retry"`
}

// UnmarshalYAML decodes a workflow, parsing max_execution_time from a
// duration string
func (w *WorkflowDefinition) UnmarshalYAML(value *yaml.Node) error {
	type rawWorkflow struct {
		ID               string           `yaml:"id"`
		Name             string           `yaml:"name"`
		Steps            []StepDefinition `yaml:"steps"`
		MaxExecutionTime string           `yaml:"max_execution_time"`
		CostBudget       float64          `yaml:"cost_budget"`
		AutoRetry        bool             `yaml:"auto_retry"`
	}

	var raw rawWorkflow
	if err := value.Decode(&raw); err != nil {
		return err
	}

	w.ID = raw.ID
	w.Name = raw.Name
	w.Steps = raw.Steps
	w.CostBudget = raw.CostBudget
	w.AutoRetry = raw.AutoRetry

	if raw.MaxExecutionTime != "" {
		d, err := time.ParseDuration(raw.MaxExecutionTime)
		if err != nil {
			return fmt.Errorf("workflow %s: parsing max_execution_time: %w", raw.ID, err)
		}
		w.MaxExecutionTime = d
	}
	return nil
}

// Clone returns a deep copy of the workflow
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	cp := *w
	cp.Steps = make([]StepDefinition, len(w.Steps))
	for i, step := range w.Steps {
		cp.Steps[i] = step.Clone()
	}
	return &cp
}

// ParseWorkflowYAML parses a workflow definition from YAML. Structural
// validation happens at execution time, when the service registry is
// available.
func ParseWorkflowYAML(data []byte) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow YAML: %w", err)
	}
	return &def, nil
}

// ExecutionStatus represents workflow execution status
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepOutcome is the explicit success/failure result of one step
// invocation. Failures are data, not errors: the engine branches on
// Success instead of catching exceptions at call depth.
type StepOutcome struct {
	StepID        string                 `json:"step_id"`
	Service       string                 `json:"service"`
	Success       bool                   `json:"success"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Cost          float64                `json:"cost"`
	Attempts      int                    `json:"attempts"`
}

// WorkflowExecution records a single run of a workflow. It is mutated only
// by the engine's control loop while running; once terminal it never
// changes again and moves into the ledger's completed history.
type WorkflowExecution struct {
	ID            string                  `json:"id"`
	WorkflowID    string                  `json:"workflow_id"`
	Status        ExecutionStatus         `json:"status"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	StepResults   map[string]*StepOutcome `json:"step_results"`
	Errors        []string                `json:"errors,omitempty"`
	TotalCost     float64                 `json:"total_cost"`
	ExecutionTime time.Duration           `json:"execution_time"`
	CostEstimate  *WorkflowCostEstimate   `json:"cost_estimate,omitempty"`
}
