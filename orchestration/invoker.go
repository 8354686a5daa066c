package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/orbitalworks/waveflow/core"
	"github.com/orbitalworks/waveflow/resilience"
)

// StepInvoker executes a single step against its target service and reports
// the result as a StepOutcome. Implementations never return an error for
// expected failure modes; those are expressed in the outcome.
type StepInvoker interface {
	Invoke(ctx context.Context, wctx WorkflowContext, step StepDefinition) *StepOutcome
}

// WorkflowContext identifies the invocation to the callee, which uses it
// for correlation and idempotency.
type WorkflowContext struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	StepID      string `json:"step_id"`
}

// invocationRequest is the wire body of the service-mesh execute contract
type invocationRequest struct {
	Action          string                 `json:"action"`
	Parameters      map[string]interface{} `json:"parameters"`
	WorkflowContext WorkflowContext        `json:"workflow_context"`
}

// HTTPStepInvoker calls target services over the mesh's HTTP contract:
// POST {base_url}/execute with the step's action and parameters. Each call
// runs under the step's timeout, retries with exponential backoff, and goes
// through a circuit breaker keyed by target service.
type HTTPStepInvoker struct {
	registry  core.ServiceRegistry
	breakers  *resilience.BreakerGroup
	client    *http.Client
	authToken string
	logger    core.Logger
}

// NewHTTPStepInvoker creates an invoker from configuration. The HTTP
// transport is wrapped with otelhttp so every step call carries a client
// span.
func NewHTTPStepInvoker(registry core.ServiceRegistry, cfg *core.Config, logger core.Logger) *HTTPStepInvoker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	breakerConfig := resilience.DefaultConfig()
	breakerConfig.Logger = logger

	return &HTTPStepInvoker{
		registry: registry,
		breakers: resilience.NewBreakerGroup(breakerConfig, logger),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.HTTPTimeout,
		},
		authToken: cfg.AuthToken,
		logger:    logger,
	}
}

// BreakerStates exposes per-service circuit breaker states for diagnostics
func (i *HTTPStepInvoker) BreakerStates() map[string]string {
	return i.breakers.States()
}

// Invoke executes one step. Timeouts and non-success responses retry up to
// step.Retries times with 2^attempt-second backoff before the failure is
// surfaced in the outcome.
func (i *HTTPStepInvoker) Invoke(ctx context.Context, wctx WorkflowContext, step StepDefinition) *StepOutcome {
	start := time.Now()
	outcome := &StepOutcome{
		StepID:  step.ID,
		Service: step.Service,
	}

	endpoint, err := i.registry.Resolve(ctx, step.Service)
	if err != nil {
		outcome.Error = err.Error()
		outcome.ExecutionTime = time.Since(start)
		return outcome
	}

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:   step.Retries + 1,
		InitialDelay:  time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
	}

	breaker := i.breakers.Get(step.Service)

	var output map[string]interface{}
	err = resilience.RetryWithCircuitBreaker(ctx, retryConfig, breaker, func() error {
		outcome.Attempts++
		result, callErr := i.call(ctx, endpoint, step, wctx)
		if callErr != nil {
			i.logger.Warn("Step invocation attempt failed", map[string]interface{}{
				"operation":    "step_invoke_attempt",
				"execution_id": wctx.ExecutionID,
				"step_id":      step.ID,
				"service":      step.Service,
				"attempt":      outcome.Attempts,
				"error":        callErr.Error(),
			})
			return callErr
		}
		output = result
		return nil
	})

	outcome.ExecutionTime = time.Since(start)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Success = true
	outcome.Output = output
	return outcome
}

// call performs a single HTTP attempt under the step's timeout
func (i *HTTPStepInvoker) call(ctx context.Context, endpoint *core.ServiceEndpoint, step StepDefinition, wctx WorkflowContext) (map[string]interface{}, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(invocationRequest{
		Action:          step.Action,
		Parameters:      step.Parameters,
		WorkflowContext: wctx,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := endpoint.BaseURL + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if i.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+i.authToken)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("calling %s: %w", endpoint.Name, core.ErrTimeout)
		}
		return nil, fmt.Errorf("calling %s: %w: %v", endpoint.Name, core.ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("service %s returned status %d: %s: %w",
			endpoint.Name, resp.StatusCode, string(responseBody), core.ErrRequestFailed)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response from %s: %w", endpoint.Name, err)
	}

	// The contract requires a success/status indicator in the body; an
	// explicit failure there is retryable like a transport failure.
	if success, exists := result["success"].(bool); exists && !success {
		return nil, fmt.Errorf("service %s reported failure: %s: %w",
			endpoint.Name, string(responseBody), core.ErrRequestFailed)
	}
	if status, exists := result["status"].(string); exists && (status == "error" || status == "failed") {
		return nil, fmt.Errorf("service %s reported status %q: %w",
			endpoint.Name, status, core.ErrRequestFailed)
	}

	return result, nil
}
