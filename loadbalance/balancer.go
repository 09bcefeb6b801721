// Package loadbalance picks the socket endpoint a session connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless servers, equal-capacity endpoints
//   - WeightedRandom:  heterogeneous endpoints (different CPU/memory)
//   - ConsistentHash:  session affinity, the same session key lands on the same endpoint
package loadbalance

import (
	"errors"

	"mini-socket/registry"
)

var ErrNoInstances = errors.New("no endpoints available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one endpoint from the available list.
	// Must be goroutine-safe.
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
