// Package interceptor correlates server-bound actions with inbound socket replies.
//
// The interceptor sits in the dispatch pipeline as a middleware. It owns the current
// connection adapter, the request identifier counter and the pending registry:
//
//	Send     ──→ assign requestId ──→ Register (if promise) ──→ adapter.Send ──→ next(Outgoing)
//	Connect  ──→ new adapter generation, old one retired     ──→ next(Connect)
//	Close    ──→ adapter.Close                               ──→ next(Close)
//
// Socket events come back through a per-generation handler and are re-dispatched:
//
//	opened   ──→ Opened
//	message  ──→ Settle(requestId) ──→ Incoming (unless the request was cancelled)
//	error    ──→ Error
//	closed   ──→ DrainOnClose ──→ Closed
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mini-socket/action"
	"mini-socket/codec"
	"mini-socket/metrics"
	"mini-socket/middleware"
	"mini-socket/pending"
	"mini-socket/protocol"
	"mini-socket/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoEndpoint   = errors.New("connect action has neither uri nor resolvable service")
)

// Dispatcher re-enters the full pipeline with actions produced from socket events.
type Dispatcher interface {
	Dispatch(ctx context.Context, act action.Action) (*pending.Future, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, act action.Action) (*pending.Future, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, act action.Action) (*pending.Future, error) {
	return f(ctx, act)
}

// Resolver maps a service name to a socket URI. key lets affinity balancers pin a session.
type Resolver interface {
	Resolve(ctx context.Context, service, key string) (string, error)
}

// Option configures an Interceptor.
type Option func(*Interceptor)

func WithCodec(c codec.Codec) Option {
	return func(in *Interceptor) {
		if c != nil {
			in.codec = c
		}
	}
}

func WithErrorPolicy(p protocol.ErrorPolicy) Option {
	return func(in *Interceptor) {
		in.policy = p
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(in *Interceptor) {
		if logger != nil {
			in.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Interceptor) {
		in.metrics = m
	}
}

func WithResolver(r Resolver) Option {
	return func(in *Interceptor) {
		in.resolver = r
	}
}

// WithReconnectDelay sets the delay adapters wait before reconnecting after an unclean close.
func WithReconnectDelay(d time.Duration) Option {
	return func(in *Interceptor) {
		in.reconnectDelay = d
	}
}

// Interceptor is one connection session: its counter and registry live and die with it.
type Interceptor struct {
	dialer         transport.Dialer
	dispatcher     Dispatcher
	codec          codec.Codec
	policy         protocol.ErrorPolicy
	logger         *zap.Logger
	metrics        *metrics.Metrics
	resolver       Resolver
	reconnectDelay time.Duration
	session        string

	registry *pending.Registry

	mu      sync.Mutex
	adapter *transport.Adapter
	gen     uint64
	nextID  int64
}

// New creates an interceptor that dials through dialer and re-dispatches socket events to dispatcher.
func New(dialer transport.Dialer, dispatcher Dispatcher, opts ...Option) *Interceptor {
	in := &Interceptor{
		dialer:     dialer,
		dispatcher: dispatcher,
		codec:      codec.GetCodec(codec.CodecTypeJSON),
		policy:     protocol.DefaultErrorPolicy(),
		logger:     zap.NewNop(),
		session:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = in.logger.With(zap.String("session", in.session))
	in.registry = pending.NewRegistry(in.sendCancel)
	return in
}

// Session returns the session identifier used in logs and for endpoint affinity.
func (in *Interceptor) Session() string {
	return in.session
}

// Pending returns the number of requests waiting for a reply.
func (in *Interceptor) Pending() int {
	return in.registry.Len()
}

// State returns the state of the current adapter, or StateDisconnected when there is none.
func (in *Interceptor) State() transport.State {
	in.mu.Lock()
	adapter := in.adapter
	in.mu.Unlock()

	if adapter == nil {
		return transport.StateDisconnected
	}
	return adapter.State()
}

// Middleware returns the interceptor as a pipeline stage.
func (in *Interceptor) Middleware() middleware.Middleware {
	return func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, act action.Action) (*pending.Future, error) {
			switch a := act.(type) {
			case action.Send:
				return in.send(ctx, a, next)
			case action.Connect:
				if err := in.connect(ctx, a); err != nil {
					return nil, err
				}
			case action.Close:
				if err := in.close(); err != nil {
					return nil, err
				}
			}
			return next(ctx, act)
		}
	}
}

func (in *Interceptor) send(ctx context.Context, a action.Send, next middleware.HandlerFunc) (*pending.Future, error) {
	in.mu.Lock()
	adapter := in.adapter
	if adapter == nil || adapter.Closed() {
		in.mu.Unlock()
		return nil, ErrNotConnected
	}
	var id int64
	if a.RequestID != nil {
		id = *a.RequestID
	} else {
		// skip ids still outstanding under a caller-supplied requestId
		for in.registry.Lookup(in.nextID) {
			in.nextID++
		}
		id = in.nextID
		in.nextID++
	}

	var future *pending.Future
	if a.WantsPromise {
		f, err := in.registry.Register(id)
		if err != nil {
			in.mu.Unlock()
			return nil, err
		}
		future = f
	}
	in.mu.Unlock()

	msg := a.Message.WithRequestID(id)

	data, err := in.codec.Encode(msg)
	if err != nil {
		if future != nil {
			in.registry.Reject(id, err)
		}
		return nil, fmt.Errorf("encode request %d: %w", id, err)
	}

	in.logger.Debug("send",
		zap.Int64("requestId", id),
		zap.String("type", msg.Type()),
		zap.Bool("promise", a.WantsPromise),
	)
	adapter.Send(string(data))
	in.metrics.RecordRequest(a.WantsPromise)
	in.metrics.SetPending(in.registry.Len())

	if _, err := next(ctx, action.Outgoing{Message: msg}); err != nil {
		if future != nil {
			future.CancelCause(err)
		}
		return nil, err
	}
	return future, nil
}

func (in *Interceptor) connect(ctx context.Context, a action.Connect) error {
	uri := a.URI
	if uri == "" {
		if a.Service == "" || in.resolver == nil {
			return ErrNoEndpoint
		}
		resolved, err := in.resolver.Resolve(ctx, a.Service, in.session)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoEndpoint, err)
		}
		uri = resolved
	}

	in.mu.Lock()
	in.gen++
	handler := &sessionHandler{in: in, gen: in.gen}
	adapter := transport.NewAdapter(in.dialer, handler,
		transport.WithReconnectDelay(in.reconnectDelay),
		transport.WithAdapterLogger(in.logger.With(zap.Uint64("generation", handler.gen))),
	)
	old := in.adapter
	in.adapter = adapter
	in.mu.Unlock()

	// retired adapters' events are ignored by generation; their requests stay registered
	if old != nil {
		old.Close()
	}
	in.metrics.RecordConnectionEvent("connect")
	adapter.Open(uri)
	return nil
}

func (in *Interceptor) close() error {
	in.mu.Lock()
	adapter := in.adapter
	in.mu.Unlock()

	if adapter == nil {
		return ErrNotConnected
	}
	adapter.Close()
	return nil
}

// sendCancel tells the peer that id was abandoned.
func (in *Interceptor) sendCancel(id int64) {
	in.mu.Lock()
	adapter := in.adapter
	in.mu.Unlock()

	in.metrics.RecordSettled("cancelled", 1)
	in.metrics.SetPending(in.registry.Len())

	if adapter == nil || adapter.Closed() {
		in.logger.Debug("cancel not sent, no connection", zap.Int64("requestId", id))
		return
	}
	data, err := in.codec.Encode(protocol.CancelRequest(id))
	if err != nil {
		in.logger.Warn("encode cancel request", zap.Int64("requestId", id), zap.Error(err))
		return
	}
	in.logger.Debug("cancel", zap.Int64("requestId", id))
	adapter.Send(string(data))
}

func (in *Interceptor) current(gen uint64) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.gen == gen
}

func (in *Interceptor) dispatch(act action.Action) {
	if _, err := in.dispatcher.Dispatch(context.Background(), act); err != nil {
		in.logger.Warn("re-dispatch failed", zap.String("action", act.Type()), zap.Error(err))
	}
}

func (in *Interceptor) opened() {
	in.metrics.RecordConnectionEvent("opened")
	in.dispatch(action.Opened{})
}

func (in *Interceptor) message(text string) {
	in.metrics.RecordInbound()

	msg, err := codec.DecodeMessage(in.codec, []byte(text))
	if err != nil {
		in.metrics.RecordMalformed()
		in.logger.Warn("dropping malformed message", zap.Error(err))
		return
	}

	if id, ok := msg.RequestID(); ok {
		outcome := in.registry.Settle(id, msg, in.policy.IsFailure(msg))
		switch outcome {
		case pending.OutcomeSwallowed:
			in.logger.Debug("dropping reply to cancelled request", zap.Int64("requestId", id))
			return
		case pending.OutcomeResolved, pending.OutcomeRejected:
			in.metrics.RecordSettled(outcome.String(), 1)
			in.metrics.SetPending(in.registry.Len())
		}
	}

	in.dispatch(action.Incoming{Message: msg})
}

func (in *Interceptor) transportError(code int, text string) {
	in.metrics.RecordConnectionEvent("error")
	in.logger.Warn("socket error", zap.Int("code", code), zap.String("message", text))
	in.dispatch(action.Error{Code: code, Message: text})
}

func (in *Interceptor) closed(wasClean bool, code int, reason string) {
	drained := in.registry.DrainOnClose()
	in.metrics.RecordSettled("drained", drained)
	in.metrics.SetPending(0)
	in.metrics.RecordConnectionEvent("closed")
	if drained > 0 {
		in.logger.Info("rejected outstanding requests on close", zap.Int("count", drained))
	}
	in.dispatch(action.Closed{WasClean: wasClean, Code: code, Reason: reason})
}

// sessionHandler binds one adapter generation to the interceptor.
type sessionHandler struct {
	in  *Interceptor
	gen uint64
}

func (h *sessionHandler) Opened() {
	if h.in.current(h.gen) {
		h.in.opened()
	}
}

func (h *sessionHandler) Message(text string) {
	if h.in.current(h.gen) {
		h.in.message(text)
	}
}

func (h *sessionHandler) Error(code int, text string) {
	if h.in.current(h.gen) {
		h.in.transportError(code, text)
	}
}

func (h *sessionHandler) Closed(wasClean bool, code int, reason string) {
	if h.in.current(h.gen) {
		h.in.closed(wasClean, code, reason)
	}
}

var _ transport.Handler = (*sessionHandler)(nil)
