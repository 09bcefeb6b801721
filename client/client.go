// Package client is the application-facing side of mini-socket: a dispatch pipeline that
// ends in a small connection-state reducer, with the interceptor as its innermost middleware.
//
//	Dispatch ──→ user middlewares ──→ interceptor ──→ reduce ──→ listeners
//
// Actions produced by the socket (opened, closed, error, incoming messages) re-enter at the top.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"mini-socket/action"
	"mini-socket/interceptor"
	"mini-socket/message"
	"mini-socket/middleware"
	"mini-socket/pending"
	"mini-socket/transport"

	"go.uber.org/zap"
)

// State mirrors whether the socket is open.
type State struct {
	Connected bool
}

// Reduce returns the state after act.
func Reduce(state State, act action.Action) State {
	switch act.(type) {
	case action.Opened:
		state.Connected = true
	case action.Closed:
		state.Connected = false
	}
	return state
}

// Listener observes every action that reached the end of the pipeline, with the state it produced.
// Listeners run outside the client's lock and may dispatch.
type Listener func(act action.Action, state State)

// Option configures a Client.
type Option func(*Client)

// WithMiddleware adds outer pipeline stages, applied in order before the interceptor.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, mws...)
	}
}

// WithInterceptorOptions configures the interceptor.
func WithInterceptorOptions(opts ...interceptor.Option) Option {
	return func(c *Client) {
		c.interceptorOpts = append(c.interceptorOpts, opts...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Client struct {
	interceptor     *interceptor.Interceptor
	handler         middleware.HandlerFunc
	middlewares     []middleware.Middleware
	interceptorOpts []interceptor.Option
	logger          *zap.Logger

	mu        sync.Mutex
	state     State
	listeners []subscription
	nextSub   int
}

type subscription struct {
	id int
	l  Listener
}

// New builds a client that opens sockets through dialer. Nothing is dialed until Connect.
func New(dialer transport.Dialer, opts ...Option) *Client {
	c := &Client{
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	iopts := append([]interceptor.Option{interceptor.WithLogger(c.logger)}, c.interceptorOpts...)
	c.interceptor = interceptor.New(dialer, interceptor.DispatcherFunc(c.Dispatch), iopts...)

	stages := append(append([]middleware.Middleware{}, c.middlewares...), c.interceptor.Middleware())
	c.handler = middleware.Chain(stages...)(c.reduce)
	return c
}

// Dispatch runs act through the pipeline. Server-bound requests that want a reply return their Future.
func (c *Client) Dispatch(ctx context.Context, act action.Action) (*pending.Future, error) {
	return c.handler(ctx, act)
}

// DispatchObject decodes a dynamic action object, e.g. {"sendToServer": true, "promise": true, ...}, and dispatches it.
func (c *Client) DispatchObject(ctx context.Context, obj map[string]any) (*pending.Future, error) {
	return c.Dispatch(ctx, action.Decode(obj))
}

// Connect opens a connection to uri, replacing any current one. It returns before the socket is open.
func (c *Client) Connect(ctx context.Context, uri string) error {
	_, err := c.Dispatch(ctx, action.SocketConnect(uri))
	return err
}

// ConnectService resolves service through discovery and connects to the picked endpoint.
func (c *Client) ConnectService(ctx context.Context, service string) error {
	_, err := c.Dispatch(ctx, action.Connect{Service: service})
	return err
}

// Close shuts the connection down. Outstanding requests are rejected once the close completes.
func (c *Client) Close(ctx context.Context) error {
	_, err := c.Dispatch(ctx, action.SocketClose())
	return err
}

// Send writes a fire-and-forget message.
func (c *Client) Send(ctx context.Context, msg message.Message) error {
	_, err := c.Dispatch(ctx, action.Notify(msg))
	return err
}

// Request writes msg and returns the pending reply.
func (c *Client) Request(ctx context.Context, msg message.Message) (*pending.Future, error) {
	return c.Dispatch(ctx, action.Request(msg))
}

// Call writes msg and waits for the reply. If ctx ends first the request is cancelled.
func (c *Client) Call(ctx context.Context, msg message.Message) (message.Message, error) {
	future, err := c.Request(ctx, msg)
	if err != nil {
		return nil, err
	}
	if future == nil {
		return nil, errors.New("request produced no pending reply")
	}
	return future.Await(ctx)
}

// CallMethod calls a reflective server method, e.g. "Arith.Add": args travel as the request
// payload and the reply payload is decoded into reply.
func (c *Client) CallMethod(ctx context.Context, serviceMethod string, args any, reply any) error {
	resp, err := c.Call(ctx, message.Message{
		message.FieldType:   serviceMethod,
		action.FieldPayload: args,
	})
	if err != nil {
		var replyErr *pending.ReplyError
		if errors.As(err, &replyErr) {
			return fmt.Errorf("server error: %v", replyErr.Reply["message"])
		}
		return err
	}

	raw, err := json.Marshal(resp[action.FieldPayload])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, reply)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool {
	return c.State().Connected
}

// Subscribe registers l and returns a function that removes it. Listeners run in subscription order.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners = append(c.listeners, subscription{id: id, l: l})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.listeners {
			if sub.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Interceptor exposes the session for inspection.
func (c *Client) Interceptor() *interceptor.Interceptor {
	return c.interceptor
}

// reduce is the end of the pipeline.
func (c *Client) reduce(ctx context.Context, act action.Action) (*pending.Future, error) {
	c.mu.Lock()
	c.state = Reduce(c.state, act)
	state := c.state
	listeners := c.listeners
	c.mu.Unlock()

	for _, sub := range listeners {
		sub.l(act, state)
	}
	return nil, nil
}
