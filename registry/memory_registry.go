package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, service string, endpoint Endpoint, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.services[service] == nil {
		r.services[service] = make(map[string]Endpoint)
	}
	r.services[service][endpoint.URI] = endpoint
	r.notify(service)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, service string, uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.services[service], uri)
	r.notify(service)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(service), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[service]
		for i, w := range watchers {
			if w == ch {
				r.watchers[service] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list copies the endpoints of service. Caller holds r.mu.
func (r *MemoryRegistry) list(service string) []Endpoint {
	endpoints := make([]Endpoint, 0, len(r.services[service]))
	for _, e := range r.services[service] {
		endpoints = append(endpoints, e)
	}
	return endpoints
}

// notify pushes the latest list to watchers, replacing a snapshot nobody read yet. Caller holds r.mu.
func (r *MemoryRegistry) notify(service string) {
	snapshot := r.list(service)
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
