package resilience

import (
	"sync"

	"github.com/orbitalworks/waveflow/core"
)

// BreakerGroup lazily creates one circuit breaker per target service, so
// repeated failures against one service never short-circuit calls to
// another. Breakers are shared by every workflow running in the process and
// the group is safe for concurrent access.
type BreakerGroup struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	base     *CircuitBreakerConfig
	logger   core.Logger
}

// NewBreakerGroup creates a group using the given config as the template for
// each per-service breaker. A nil config uses DefaultConfig.
func NewBreakerGroup(base *CircuitBreakerConfig, logger core.Logger) *BreakerGroup {
	if base == nil {
		base = DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &BreakerGroup{
		breakers: make(map[string]*CircuitBreaker),
		base:     base,
		logger:   logger,
	}
}

// Get returns the breaker for a target service, creating it on first use
func (g *BreakerGroup) Get(service string) *CircuitBreaker {
	g.mu.RLock()
	cb, exists := g.breakers[service]
	g.mu.RUnlock()
	if exists {
		return cb
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Re-check under the write lock
	if cb, exists := g.breakers[service]; exists {
		return cb
	}

	config := *g.base
	config.Name = service
	if config.Logger == nil {
		config.Logger = g.logger
	}

	cb, err := NewCircuitBreaker(&config)
	if err != nil {
		// The base config was validated when the first breaker was built;
		// fall back to defaults rather than fail the call path.
		g.logger.Error("Falling back to default circuit breaker config", map[string]interface{}{
			"operation": "breaker_group_fallback",
			"service":   service,
			"error":     err.Error(),
		})
		fallback := DefaultConfig()
		fallback.Name = service
		fallback.Logger = g.logger
		cb, _ = NewCircuitBreaker(fallback)
	}

	g.breakers[service] = cb
	return cb
}

// States returns the current state of every breaker in the group
func (g *BreakerGroup) States() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make(map[string]string, len(g.breakers))
	for service, cb := range g.breakers {
		states[service] = cb.GetState()
	}
	return states
}
