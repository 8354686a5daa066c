package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Workflow validation errors
	ErrServiceNotFound    = errors.New("service not found")
	ErrDuplicateStep      = errors.New("duplicate step id")
	ErrDanglingDependency = errors.New("dependency references unknown step")
	ErrCyclicDependency   = errors.New("workflow contains cyclic dependencies")
	ErrEmptyWorkflow      = errors.New("workflow has no steps")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Invocation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrRequestFailed      = errors.New("request failed")
	ErrConnectionFailed   = errors.New("connection failed")

	// Ledger errors
	ErrExecutionNotFound = errors.New("execution not found")

	// Template errors
	ErrUnknownTemplate = errors.New("unknown workflow template")

	// Optimizer errors
	ErrUnknownStrategy = errors.New("unknown optimization strategy")
)

// OrchestrationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OrchestrationError struct {
	Op      string // Operation that failed (e.g., "engine.ExecuteWorkflow")
	Kind    string // Error kind (e.g., "validation", "invocation", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewOrchestrationError creates a new OrchestrationError
func NewOrchestrationError(op, kind string, err error) *OrchestrationError {
	return &OrchestrationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsValidationError checks if an error indicates a malformed workflow.
// Validation errors are terminal: the workflow never starts.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrDuplicateStep) ||
		errors.Is(err, ErrDanglingDependency) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrEmptyWorkflow)
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRequestFailed)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
