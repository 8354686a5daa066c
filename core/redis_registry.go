package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisRegistry provides a Redis-backed ServiceRegistry so the service
// catalog can be shared across orchestrator replicas. Endpoints are stored
// as JSON under "{namespace}:services:{name}".
type RedisRegistry struct {
	client    *redis.Client
	namespace string
}

// NewRedisRegistry creates a Redis registry client from a redis:// URL.
func NewRedisRegistry(redisURL string) (*RedisRegistry, error) {
	return NewRedisRegistryWithNamespace(redisURL, "waveflow")
}

// NewRedisRegistryWithNamespace creates a Redis registry client with a custom namespace
func NewRedisRegistryWithNamespace(redisURL, namespace string) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w: %v", ErrConnectionFailed, err)
	}

	return &RedisRegistry{
		client:    client,
		namespace: namespace,
	}, nil
}

func (r *RedisRegistry) serviceKey(name string) string {
	return fmt.Sprintf("%s:services:%s", r.namespace, name)
}

// Register stores or replaces a service endpoint
func (r *RedisRegistry) Register(ctx context.Context, ep *ServiceEndpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("marshaling endpoint %s: %w", ep.Name, err)
	}

	if err := r.client.Set(ctx, r.serviceKey(ep.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("registering service %s: %w", ep.Name, err)
	}
	return nil
}

// Unregister removes a service endpoint
func (r *RedisRegistry) Unregister(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.serviceKey(name)).Err(); err != nil {
		return fmt.Errorf("unregistering service %s: %w", name, err)
	}
	return nil
}

// Resolve returns the endpoint for a service name
func (r *RedisRegistry) Resolve(ctx context.Context, name string) (*ServiceEndpoint, error) {
	data, err := r.client.Get(ctx, r.serviceKey(name)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("resolving service %q: %w", name, ErrServiceNotFound)
		}
		return nil, fmt.Errorf("resolving service %q: %w", name, err)
	}

	var ep ServiceEndpoint
	if err := json.Unmarshal([]byte(data), &ep); err != nil {
		return nil, fmt.Errorf("decoding service %q: %w", name, err)
	}
	return &ep, nil
}

// List returns all registered endpoints
func (r *RedisRegistry) List(ctx context.Context) ([]*ServiceEndpoint, error) {
	pattern := fmt.Sprintf("%s:services:*", r.namespace)
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}

	var endpoints []*ServiceEndpoint
	for _, key := range keys {
		data, err := r.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				// Deleted between Keys and Get, skip
				continue
			}
			return nil, fmt.Errorf("listing services: %w", err)
		}

		var ep ServiceEndpoint
		if err := json.Unmarshal([]byte(data), &ep); err != nil {
			// Skip malformed entries
			continue
		}
		endpoints = append(endpoints, &ep)
	}
	return endpoints, nil
}

// Close releases the Redis connection
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
