package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"mini-socket/registry"
)

// ConsistentHashBalancer maps keys to endpoints using a hash ring.
// The same key always maps to the same endpoint until the ring changes, so a
// reconnecting session returns to the server that already knows it.
//
// Each real endpoint is mapped to 100 virtual nodes so a few endpoints
// do not cluster together on the ring.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu      sync.RWMutex
	ring    []uint32                      // Sorted hash values on the ring
	nodes   map[uint32]*registry.Endpoint // Hash value → endpoint mapping
	members map[string]struct{}           // URIs on the ring
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Endpoint),
		members:  make(map[string]struct{}),
	}
}

// Add places an endpoint onto the ring. Adding a URI twice is a no-op.
func (b *ConsistentHashBalancer) Add(endpoint registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(endpoint)
	b.sortRing()
}

// Sync replaces the ring's members with endpoints.
func (b *ConsistentHashBalancer) Sync(endpoints []registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(endpoints) == len(b.members) {
		same := true
		for _, e := range endpoints {
			if _, ok := b.members[e.URI]; !ok {
				same = false
				break
			}
		}
		if same {
			return
		}
	}

	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.Endpoint)
	b.members = make(map[string]struct{})
	for _, e := range endpoints {
		b.add(e)
	}
	b.sortRing()
}

// Pick finds the endpoint responsible for key: the first virtual node clockwise from its hash.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})

	// Wrap around: if key's hash > all nodes, go to the first node
	if idx == len(b.ring) {
		idx = 0
	}

	e := *b.nodes[b.ring[idx]]
	return &e, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

// add hashes "{uri}#{i}" for every virtual node. Caller holds b.mu.
func (b *ConsistentHashBalancer) add(endpoint registry.Endpoint) {
	if _, ok := b.members[endpoint.URI]; ok {
		return
	}
	b.members[endpoint.URI] = struct{}{}
	e := endpoint
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", endpoint.URI, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = &e
	}
}

// sortRing keeps the ring ordered for binary search in Pick. Caller holds b.mu.
func (b *ConsistentHashBalancer) sortRing() {
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}
