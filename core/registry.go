package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StaticRegistry is an in-process ServiceRegistry backed by a map. It is the
// default registry for single-binary deployments and tests.
type StaticRegistry struct {
	mu       sync.RWMutex
	services map[string]*ServiceEndpoint
}

// NewStaticRegistry creates a registry pre-populated with the given endpoints.
func NewStaticRegistry(endpoints ...*ServiceEndpoint) *StaticRegistry {
	r := &StaticRegistry{
		services: make(map[string]*ServiceEndpoint),
	}
	for _, ep := range endpoints {
		r.services[ep.Name] = ep
	}
	return r
}

// Register adds or replaces a service endpoint
func (r *StaticRegistry) Register(ep *ServiceEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[ep.Name] = ep
}

// Resolve returns the endpoint for a service name
func (r *StaticRegistry) Resolve(ctx context.Context, name string) (*ServiceEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("resolving service %q: %w", name, ErrServiceNotFound)
	}

	// Copy so callers cannot mutate registry state
	cp := *ep
	return &cp, nil
}

// List returns all registered endpoints sorted by name
func (r *StaticRegistry) List(ctx context.Context) ([]*ServiceEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make([]*ServiceEndpoint, 0, len(r.services))
	for _, ep := range r.services {
		cp := *ep
		endpoints = append(endpoints, &cp)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Name < endpoints[j].Name
	})
	return endpoints, nil
}
