// Package pending tracks outstanding server round trips by request identifier.
//
// Every request that wants a reply is registered under its identifier before it is written
// to the socket. Replies are routed back by identifier only, so they may arrive in any order:
//
//	Register(0) ──┐
//	Register(1) ──┼──→ socket ──→ peer
//	Register(2) ──┘
//
//	reply(requestId=1) → Settle(1) → future 1 resolves, 0 and 2 keep waiting
//
// An entry leaves the registry the moment it settles. Cancelled identifiers leave a tombstone
// so the late reply can be recognised and swallowed. At most TombstoneLimit tombstones are kept,
// oldest evicted first, since a peer that honours CANCEL_REQUEST never replies.
// A connection close drains everything.
package pending

import (
	"errors"
	"fmt"
	"sync"

	"mini-socket/message"
)

var (
	ErrDuplicateIdentifier = errors.New("request identifier already outstanding")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrRequestCancelled    = errors.New("request cancelled")
)

// Outcome reports what Settle did with a reply.
type Outcome int

const (
	OutcomeUnknown   Outcome = iota // no outstanding request with that id
	OutcomeResolved                 // request resolved with the reply
	OutcomeRejected                 // request rejected with a *ReplyError
	OutcomeSwallowed                // late reply to a cancelled request
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "unknown"
	case OutcomeResolved:
		return "resolved"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSwallowed:
		return "swallowed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// TombstoneLimit bounds the cancelled identifiers remembered per registry.
const TombstoneLimit = 1024

type entry struct {
	future    *Future
	completed bool
}

// Registry maps request identifiers to outstanding futures.
// No caller code runs while the registry lock is held.
type Registry struct {
	mu        sync.Mutex
	entries   map[int64]*entry
	cancelled map[int64]uint64 // id -> tombstone seq
	graves    []tombstone      // burial order, may hold stale slots
	buried    uint64
	limit     int
	onCancel  func(id int64) // notifies the peer; called outside the lock
}

type tombstone struct {
	id  int64
	seq uint64
}

// NewRegistry creates an empty registry. onCancel, if non-nil, is invoked after a
// successful cancellation so the caller can tell the remote side.
func NewRegistry(onCancel func(id int64)) *Registry {
	return &Registry{
		entries:   make(map[int64]*entry),
		cancelled: make(map[int64]uint64),
		limit:     TombstoneLimit,
		onCancel:  onCancel,
	}
}

// Register creates the outstanding request for id.
func (r *Registry) Register(id int64) (*Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateIdentifier, id)
	}
	delete(r.cancelled, id)

	f := newFuture(id, r)
	r.entries[id] = &entry{future: f}
	return f, nil
}

// Resolve settles id with value. It is a no-op for unknown or completed ids.
func (r *Registry) Resolve(id int64, value message.Message) bool {
	return r.settle(id, value, nil)
}

// Reject settles id with reason. It is a no-op for unknown or completed ids.
func (r *Registry) Reject(id int64, reason error) bool {
	return r.settle(id, nil, reason)
}

// Settle routes an inbound reply. failed selects rejection with a *ReplyError carrying reply.
func (r *Registry) Settle(id int64, reply message.Message, failed bool) Outcome {
	r.mu.Lock()
	if _, ok := r.cancelled[id]; ok {
		delete(r.cancelled, id)
		r.mu.Unlock()
		return OutcomeSwallowed
	}
	e := r.take(id)
	r.mu.Unlock()

	if e == nil {
		return OutcomeUnknown
	}
	if failed {
		e.future.settle(reply, &ReplyError{Reply: reply})
		return OutcomeRejected
	}
	e.future.settle(reply, nil)
	return OutcomeResolved
}

// Cancel rejects id with ErrRequestCancelled and notifies the peer.
// Returns false when id is unknown or already settled; the earlier result stands.
func (r *Registry) Cancel(id int64) bool {
	return r.CancelCause(id, nil)
}

// CancelCause is Cancel with cause wrapped into the rejection.
func (r *Registry) CancelCause(id int64, cause error) bool {
	r.mu.Lock()
	e := r.take(id)
	if e != nil {
		r.bury(id)
	}
	r.mu.Unlock()

	if e == nil {
		return false
	}

	// the peer is told before the caller observes the rejection
	if r.onCancel != nil {
		r.onCancel(id)
	}

	reason := ErrRequestCancelled
	if cause != nil {
		reason = fmt.Errorf("%w: %w", ErrRequestCancelled, cause)
	}
	e.future.settle(nil, reason)
	return true
}

// DrainOnClose rejects every outstanding request with ErrConnectionClosed and empties the registry.
// Returns the number of requests rejected.
func (r *Registry) DrainOnClose() int {
	r.mu.Lock()
	drained := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.completed {
			e.completed = true
			drained = append(drained, e)
		}
	}
	r.entries = make(map[int64]*entry)
	r.cancelled = make(map[int64]uint64)
	r.graves = nil
	r.mu.Unlock()

	for _, e := range drained {
		e.future.settle(nil, ErrConnectionClosed)
	}
	return len(drained)
}

// Lookup reports whether id is outstanding.
func (r *Registry) Lookup(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) settle(id int64, value message.Message, reason error) bool {
	r.mu.Lock()
	e := r.take(id)
	r.mu.Unlock()

	if e == nil {
		return false
	}
	e.future.settle(value, reason)
	return true
}

// take removes and marks completed the entry for id. Caller holds r.mu.
func (r *Registry) take(id int64) *entry {
	e, ok := r.entries[id]
	if !ok || e.completed {
		return nil
	}
	e.completed = true
	delete(r.entries, id)
	return e
}

// bury records a tombstone for id and evicts the oldest ones past the limit. Caller holds r.mu.
func (r *Registry) bury(id int64) {
	r.buried++
	r.cancelled[id] = r.buried
	r.graves = append(r.graves, tombstone{id: id, seq: r.buried})

	for len(r.cancelled) > r.limit && len(r.graves) > 0 {
		oldest := r.graves[0]
		r.graves = r.graves[1:]
		if r.cancelled[oldest.id] == oldest.seq {
			delete(r.cancelled, oldest.id)
		}
	}

	// slots of tombstones consumed by a reply or a re-register linger until compacted
	if len(r.graves) > 2*r.limit {
		live := make([]tombstone, 0, len(r.cancelled))
		for _, g := range r.graves {
			if seq, ok := r.cancelled[g.id]; ok && seq == g.seq {
				live = append(live, g)
			}
		}
		r.graves = live
	}
}
