// Package registry provides the etcd-based implementation of the Registry interface.
//
// Servers announce themselves under a per-service prefix:
//
//	Key:   /mini-socket/{service}/{uri}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/mini-socket/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]registration // key → live registration
}

type registration struct {
	lease clientv3.LeaseID
	stop  context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]registration)}, nil
}

func serviceKey(service string) string {
	return keyPrefix + service + "/"
}

// Register adds an endpoint with a TTL lease and keeps the lease alive until Deregister or Close.
//
// leaseID is tracked per key, not on the struct, so several servers can share one registry.
func (r *EtcdRegistry) Register(ctx context.Context, service string, endpoint Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	key := serviceKey(service) + endpoint.URI
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// the renewal outlives the registering call
	keepCtx, stop := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		stop()
		return err
	}

	r.mu.Lock()
	if prev, ok := r.leases[key]; ok {
		prev.stop()
	}
	r.leases[key] = registration{lease: lease.ID, stop: stop}
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()
	return nil
}

// Deregister removes an endpoint from etcd and stops renewing its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, uri string) error {
	key := serviceKey(service) + uri

	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		reg.stop()
		if _, err := r.client.Revoke(ctx, reg.lease); err != nil {
			r.logger.Warn("revoke lease", zap.String("key", key), zap.Error(err))
		}
	}

	_, err := r.client.Delete(ctx, key)
	return err
}

// Watch monitors the service prefix and emits the re-fetched endpoint list on every change.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, serviceKey(service), clientv3.WithPrefix())
		for range watchChan {
			// re-fetching is simpler than applying individual events
			endpoints, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("discover after watch event", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered endpoints for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, serviceKey(service), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var endpoint Endpoint
		if err := json.Unmarshal(kv.Value, &endpoint); err != nil {
			r.logger.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

// Close stops every lease renewal and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, reg := range r.leases {
		reg.stop()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
