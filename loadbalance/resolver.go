package loadbalance

import (
	"context"
	"fmt"

	"mini-socket/registry"

	"go.uber.org/zap"
)

// Resolver turns a service name into the socket URI a session should connect to.
type Resolver struct {
	registry registry.Registry
	balancer Balancer
	ring     *ConsistentHashBalancer // set for affinity resolvers
	logger   *zap.Logger
}

// NewResolver picks among discovered endpoints with balancer.
func NewResolver(reg registry.Registry, balancer Balancer, logger *zap.Logger) *Resolver {
	if balancer == nil {
		balancer = &RoundRobinBalancer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{registry: reg, balancer: balancer, logger: logger}
}

// NewAffinityResolver pins each key to one endpoint with a consistent hash ring.
func NewAffinityResolver(reg registry.Registry, logger *zap.Logger) *Resolver {
	r := NewResolver(reg, nil, logger)
	r.ring = NewConsistentHashBalancer()
	return r
}

// Resolve discovers the endpoints of service and picks one. key is only used by affinity resolvers.
func (r *Resolver) Resolve(ctx context.Context, service, key string) (string, error) {
	endpoints, err := r.registry.Discover(ctx, service)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", service, err)
	}

	var picked *registry.Endpoint
	strategy := r.balancer.Name()
	if r.ring != nil {
		strategy = r.ring.Name()
		r.ring.Sync(endpoints)
		picked, err = r.ring.Pick(key)
	} else {
		picked, err = r.balancer.Pick(endpoints)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", service, err)
	}

	r.logger.Debug("resolved endpoint",
		zap.String("service", service),
		zap.String("uri", picked.URI),
		zap.String("strategy", strategy),
	)
	return picked.URI, nil
}
