// Package registry is the phonebook of socket endpoints, keyed by service name.
package registry

import (
	"context"
)

// Endpoint is one reachable socket server.
type Endpoint struct {
	URI     string `json:"uri"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, service string, endpoint Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, uri string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx ends.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}
