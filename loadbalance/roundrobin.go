package loadbalance

import (
	"sync/atomic"

	"mini-socket/registry"
)

// RoundRobinBalancer hands out endpoints in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoInstances
	}
	index := (atomic.AddInt64(&b.counter, 1) - 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
