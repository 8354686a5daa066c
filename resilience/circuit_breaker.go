package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orbitalworks/waveflow/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

// String returns the string representation of the state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrorClassifier determines which errors should count toward circuit breaker thresholds
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors, not caller errors
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Validation errors - DON'T count (caller error)
	if core.IsValidationError(err) {
		return false
	}

	// Configuration errors - DON'T count (caller error)
	if core.IsConfigurationError(err) {
		return false
	}

	// Context cancellation - DON'T count (client gave up)
	if errors.Is(err, context.Canceled) {
		return false
	}

	// All other errors count as failures (network, timeout, connection issues)
	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker, typically the target service
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int

	// SleepWindow is how long to wait before entering half-open state
	SleepWindow time.Duration

	// HalfOpenRequests is the number of test requests in half-open state
	HalfOpenRequests int

	// SuccessThreshold is the success rate needed to close from half-open
	SuccessThreshold float64

	// ErrorClassifier determines which errors count as failures
	ErrorClassifier ErrorClassifier

	// Logger for circuit breaker events
	Logger core.Logger
}

// DefaultConfig returns a production-ready default configuration
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		FailureThreshold: 5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
	}
}

// Validate checks the configuration for invalid values
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1: %w", core.ErrInvalidConfiguration)
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("sleep window must be positive: %w", core.ErrInvalidConfiguration)
	}
	if c.SuccessThreshold < 0 || c.SuccessThreshold > 1 {
		return fmt.Errorf("success threshold must be in [0,1]: %w", core.ErrInvalidConfiguration)
	}
	return nil
}

// CircuitBreaker is a per-target failure-tracking gate. Repeated failures to
// one target short-circuit further calls to it until the sleep window
// elapses, without affecting other targets.
//
// One breaker exists per target service and is shared by every workflow in
// the process, so all state transitions happen under the mutex.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	stateChangedAt      time.Time
	consecutiveFailures int

	// Half-open bookkeeping
	halfOpenAllowed   int
	halfOpenSuccesses int
	halfOpenFailures  int

	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a circuit breaker from the given configuration
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}

	// Apply defaults for missing values
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 3
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 0.6
	}

	return &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}, nil
}

// OnStateChange registers a listener invoked after every state transition
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, fn)
}

// CanExecute reports whether a request may proceed. In the open state it
// transitions to half-open once the sleep window has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.stateChangedAt) >= cb.config.SleepWindow {
			cb.transition(StateHalfOpen)
			cb.halfOpenAllowed = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenAllowed < cb.config.HalfOpenRequests {
			cb.halfOpenAllowed++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		cb.evaluateHalfOpen()
	}
}

// RecordFailure records a failed call. Errors the classifier rejects are
// ignored so caller mistakes never trip the breaker.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.config.ErrorClassifier(err) {
		// Return the half-open permit, otherwise ignored errors starve the
		// probe quota and the breaker wedges half-open.
		if cb.state == StateHalfOpen && cb.halfOpenAllowed > 0 {
			cb.halfOpenAllowed--
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenFailures++
		cb.evaluateHalfOpen()
	}
}

// evaluateHalfOpen decides whether to close or re-open once all half-open
// test requests have reported. Caller must hold the mutex.
func (cb *CircuitBreaker) evaluateHalfOpen() {
	total := cb.halfOpenSuccesses + cb.halfOpenFailures
	if total < cb.config.HalfOpenRequests {
		return
	}

	rate := float64(cb.halfOpenSuccesses) / float64(total)
	if rate >= cb.config.SuccessThreshold {
		cb.transition(StateClosed)
	} else {
		cb.transition(StateOpen)
	}
}

// transition moves to a new state and notifies listeners.
// Caller must hold the mutex.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.stateChangedAt = time.Now()
	cb.consecutiveFailures = 0
	cb.halfOpenAllowed = 0
	cb.halfOpenSuccesses = 0
	cb.halfOpenFailures = 0

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"operation": "circuit_breaker_transition",
		"name":      cb.config.Name,
		"from":      from.String(),
		"to":        to.String(),
	})

	for _, fn := range cb.listeners {
		fn(cb.config.Name, from, to)
	}
}

// Execute runs the given function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !cb.CanExecute() {
		cb.config.Logger.Warn("Circuit breaker rejected execution", map[string]interface{}{
			"operation": "circuit_breaker_reject",
			"name":      cb.config.Name,
			"state":     cb.GetState(),
		})
		return fmt.Errorf("circuit breaker %q: %w", cb.config.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	if err != nil {
		cb.RecordFailure(err)
		return err
	}

	cb.RecordSuccess()
	return nil
}

// GetState returns the current state as a string
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// Reset forces the breaker back to closed, clearing all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// ForceOpen opens the breaker regardless of recorded outcomes
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateOpen)
}
