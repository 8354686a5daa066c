package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orbitalworks/waveflow/core"
)

func testBreaker(t *testing.T, mutate func(*CircuitBreakerConfig)) *CircuitBreaker {
	t.Helper()
	config := DefaultConfig()
	config.FailureThreshold = 3
	config.SleepWindow = 50 * time.Millisecond
	if mutate != nil {
		mutate(config)
	}
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatal(err)
	}
	return cb
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("connection refused")

	for i := 0; i < 2; i++ {
		cb.RecordFailure(failure)
		if cb.GetState() != "closed" {
			t.Fatalf("breaker opened after %d failures", i+1)
		}
	}

	cb.RecordFailure(failure)
	if cb.GetState() != "open" {
		t.Fatalf("expected open after threshold, got %s", cb.GetState())
	}
	if cb.CanExecute() {
		t.Error("open breaker must reject requests")
	}
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("boom")

	cb.RecordFailure(failure)
	cb.RecordFailure(failure)
	cb.RecordSuccess()
	cb.RecordFailure(failure)
	cb.RecordFailure(failure)

	if cb.GetState() != "closed" {
		t.Fatalf("non-consecutive failures should not open the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.RecordFailure(failure)
	}
	if cb.GetState() != "open" {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	time.Sleep(60 * time.Millisecond)

	// First request after the sleep window transitions to half-open
	if !cb.CanExecute() {
		t.Fatal("expected a probe request after the sleep window")
	}
	if cb.GetState() != "half-open" {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}

	// Enough successful probes close the breaker
	cb.RecordSuccess()
	cb.CanExecute()
	cb.RecordSuccess()
	cb.CanExecute()
	cb.RecordSuccess()

	if cb.GetState() != "closed" {
		t.Fatalf("expected closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenReopens(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.RecordFailure(failure)
	}
	time.Sleep(60 * time.Millisecond)

	cb.CanExecute()
	cb.RecordFailure(failure)
	cb.CanExecute()
	cb.RecordFailure(failure)
	cb.CanExecute()
	cb.RecordFailure(failure)

	if cb.GetState() != "open" {
		t.Fatalf("failed probes should reopen the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerHalfOpenIgnoredErrorsReturnPermit(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("boom")

	for i := 0; i < 3; i++ {
		cb.RecordFailure(failure)
	}
	time.Sleep(60 * time.Millisecond)

	// Burn through more than the probe quota with errors the classifier
	// ignores; each permit must be returned so the breaker never wedges.
	for i := 0; i < 5; i++ {
		if !cb.CanExecute() {
			t.Fatalf("probe %d rejected after ignored errors", i+1)
		}
		cb.RecordFailure(context.Canceled)
	}
	if cb.GetState() != "half-open" {
		t.Fatalf("expected half-open, got %s", cb.GetState())
	}

	// Real probes still close the breaker
	cb.RecordSuccess()
	cb.CanExecute()
	cb.RecordSuccess()
	cb.CanExecute()
	cb.RecordSuccess()

	if cb.GetState() != "closed" {
		t.Fatalf("expected closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreakerClassifierIgnoresCallerErrors(t *testing.T) {
	cb := testBreaker(t, nil)

	for i := 0; i < 10; i++ {
		cb.RecordFailure(fmt.Errorf("bad workflow: %w", core.ErrCyclicDependency))
		cb.RecordFailure(fmt.Errorf("bad config: %w", core.ErrInvalidConfiguration))
		cb.RecordFailure(context.Canceled)
	}

	if cb.GetState() != "closed" {
		t.Fatalf("caller errors must not trip the breaker, got %s", cb.GetState())
	}
}

func TestCircuitBreakerExecute(t *testing.T) {
	cb := testBreaker(t, nil)
	failure := errors.New("boom")

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error { return failure })
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Fatalf("expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreakerExecuteHonorsContext(t *testing.T) {
	cb := testBreaker(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerForceOpenAndReset(t *testing.T) {
	cb := testBreaker(t, nil)

	cb.ForceOpen()
	if cb.GetState() != "open" {
		t.Fatalf("expected open, got %s", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != "closed" {
		t.Fatalf("expected closed after reset, got %s", cb.GetState())
	}
	if !cb.CanExecute() {
		t.Error("reset breaker must allow requests")
	}
}

func TestCircuitBreakerStateChangeListener(t *testing.T) {
	cb := testBreaker(t, nil)

	var transitions []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
	})

	failure := errors.New("boom")
	for i := 0; i < 3; i++ {
		cb.RecordFailure(failure)
	}
	cb.Reset()

	if len(transitions) != 2 || transitions[0] != "closed->open" || transitions[1] != "open->closed" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestCircuitBreakerConfigValidation(t *testing.T) {
	bad := DefaultConfig()
	bad.FailureThreshold = 0
	if _, err := NewCircuitBreaker(bad); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	bad = DefaultConfig()
	bad.SuccessThreshold = 1.5
	if _, err := NewCircuitBreaker(bad); !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestBreakerGroupIsolation(t *testing.T) {
	group := NewBreakerGroup(&CircuitBreakerConfig{
		FailureThreshold: 2,
		SleepWindow:      time.Minute,
		HalfOpenRequests: 3,
		SuccessThreshold: 0.6,
	}, &core.NoOpLogger{})

	failure := errors.New("boom")
	content := group.Get("content-service")
	content.RecordFailure(failure)
	content.RecordFailure(failure)

	if content.GetState() != "open" {
		t.Fatalf("expected content-service breaker open, got %s", content.GetState())
	}
	if seo := group.Get("seo-service"); seo.GetState() != "closed" {
		t.Fatal("failures against one service must not affect another")
	}

	states := group.States()
	if states["content-service"] != "open" || states["seo-service"] != "closed" {
		t.Fatalf("unexpected states: %v", states)
	}
}

func TestBreakerGroupReturnsSameBreaker(t *testing.T) {
	group := NewBreakerGroup(nil, nil)

	if group.Get("svc") != group.Get("svc") {
		t.Fatal("repeated Get must return the same breaker instance")
	}
}
