package core

import (
	"context"
)

// Logger interface - minimal structured logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ServiceCategory classifies a target service for cost prediction.
// Categories are assigned at registration time, never inferred from
// service names.
type ServiceCategory string

const (
	CategoryAIIntensive    ServiceCategory = "ai-intensive"
	CategoryDataProcessing ServiceCategory = "data-processing"
	CategoryAPIService     ServiceCategory = "api-service"
)

// ServiceEndpoint describes a callable target service.
type ServiceEndpoint struct {
	Name     string          `json:"name"`
	BaseURL  string          `json:"base_url"`
	Category ServiceCategory `json:"category"`
}

// ServiceRegistry resolves target services by name. Implementations must be
// safe for concurrent use; the registry is shared by every workflow running
// in the process.
type ServiceRegistry interface {
	Resolve(ctx context.Context, name string) (*ServiceEndpoint, error)
	List(ctx context.Context) ([]*ServiceEndpoint, error)
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
