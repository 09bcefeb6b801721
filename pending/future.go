package pending

import (
	"context"
	"fmt"

	"mini-socket/message"
)

// ReplyError is the rejection reason of a request whose reply was flagged as a failure.
// The reply itself is kept so callers can inspect the server's payload.
type ReplyError struct {
	Reply message.Message
}

func (e *ReplyError) Error() string {
	if t := e.Reply.Type(); t != "" {
		return fmt.Sprintf("request failed: %s", t)
	}
	return "request failed"
}

// Future is the pending handle of one server round trip.
// It settles exactly once: resolved with the reply, or rejected with a reason.
type Future struct {
	id       int64
	registry *Registry
	done     chan struct{}

	// written once before done is closed
	value message.Message
	err   error
}

func newFuture(id int64, r *Registry) *Future {
	return &Future{id: id, registry: r, done: make(chan struct{})}
}

// ID returns the request identifier the future is registered under.
func (f *Future) ID() int64 {
	return f.id
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the future settles or ctx ends.
// If ctx ends first the request is cancelled; the error then matches both
// ErrRequestCancelled and ctx's error. A failure reply returns the reply
// together with a *ReplyError.
func (f *Future) Await(ctx context.Context) (message.Message, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		// loses against a concurrent settlement, whose result is kept
		f.CancelCause(ctx.Err())
		<-f.done
	}
	return f.value, f.err
}

// Result returns the settled outcome without blocking. settled is false while pending.
func (f *Future) Result() (value message.Message, err error, settled bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return nil, nil, false
	}
}

// Cancel gives up on the request. It has no effect once the future settled.
func (f *Future) Cancel() {
	f.CancelCause(nil)
}

// CancelCause is Cancel with an extra reason attached to ErrRequestCancelled.
func (f *Future) CancelCause(cause error) {
	f.registry.CancelCause(f.id, cause)
}

func (f *Future) settle(value message.Message, err error) {
	f.value = value
	f.err = err
	close(f.done)
}
