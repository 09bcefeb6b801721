// Package server implements a websocket responder speaking the mini-socket wire protocol.
//
// Request processing pipeline:
//
//	Upgrade → serveConn (single goroutine reads frames)
//	  → CANCEL_REQUEST: cancel the matching in-flight request, no reply
//	  → anything else: go handleRequest (parallel processing)
//	    → Codec.Decode → handler by "type" → Codec.Encode → write reply carrying the same requestId
//
// Replies are correlated by requestId only, so a slow request never holds back a fast one.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mini-socket/codec"
	"mini-socket/message"
	"mini-socket/protocol"
	"mini-socket/registry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FieldPayload carries handler arguments and results.
const FieldPayload = "payload"

// Time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// HandlerFunc answers one request. A nil reply with a nil error sends nothing.
type HandlerFunc func(ctx context.Context, req message.Message) (message.Message, error)

// ResultType is the reply type of reflective service methods, e.g. "Arith.Add_RESULT".
func ResultType(requestType string) string {
	return requestType + "_RESULT"
}

// Option configures a Server.
type Option func(*Server)

func WithCodec(c codec.Codec) Option {
	return func(s *Server) {
		if c != nil {
			s.codec = c
		}
	}
}

func WithErrorPolicy(p protocol.ErrorPolicy) Option {
	return func(s *Server) {
		s.policy = p
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry announces the server under service at advertiseURI while it serves.
// advertiseURI differs from the listen address because peers need a routable ws:// URL.
func WithRegistry(reg registry.Registry, service, advertiseURI string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseURI = advertiseURI
		s.ttl = ttl
	}
}

// Server dispatches inbound messages to handlers keyed by message type.
type Server struct {
	codec    codec.Codec
	policy   protocol.ErrorPolicy
	logger   *zap.Logger
	upgrader websocket.Upgrader

	registry     registry.Registry // nil if not using discovery
	service      string
	advertiseURI string
	ttl          int64

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[*conn]struct{}

	httpServer *http.Server
	wg         sync.WaitGroup // tracks in-flight requests for graceful shutdown
	shutdown   atomic.Bool
}

// NewServer creates a server with no handlers.
func NewServer(opts ...Option) *Server {
	s := &Server{
		codec:    codec.GetCodec(codec.CodecTypeJSON),
		policy:   protocol.DefaultErrorPolicy(),
		logger:   zap.NewNop(),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*conn]struct{}),
		ttl:      10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle routes messages of type typ to h.
func (s *Server) Handle(typ string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = h
}

// Register exposes the methods of a receiver (e.g. &Arith{}) as handlers of type "Arith.Add" and so on.
func (s *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	for name, m := range svc.method {
		s.Handle(svc.name+"."+name, svc.handler(name, m))
	}
	return nil
}

// Broadcast pushes msg to every connected peer.
func (s *Server) Broadcast(msg message.Message) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.write(data)
	}
	return nil
}

// Serve listens on addr, serving websocket upgrades on path, and announces itself if a registry is set.
// It returns nil after Shutdown.
func (s *Server) Serve(addr, path string, extra ...func(*http.ServeMux)) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	for _, register := range extra {
		register(mux)
	}
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	if s.registry != nil {
		endpoint := registry.Endpoint{URI: s.advertiseURI, Weight: 1}
		if err := s.registry.Register(context.Background(), s.service, endpoint, s.ttl); err != nil {
			return fmt.Errorf("register %s: %w", s.service, err)
		}
		s.logger.Info("registered", zap.String("service", s.service), zap.String("uri", s.advertiseURI))
	}

	s.logger.Info("serving", zap.String("addr", addr), zap.String("path", path))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) && s.shutdown.Load() {
		return nil
	}
	return err
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop resolving this server
//  2. Stop accepting and close every connection
//  3. Wait for in-flight requests to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		if err := s.registry.Deregister(context.Background(), s.service, s.advertiseURI); err != nil {
			s.logger.Warn("deregister", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}

	s.mu.RLock()
	for c := range s.conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.shutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		ws:       ws,
		server:   s,
		logger:   s.logger.With(zap.String("remote", r.RemoteAddr)),
		inflight: make(map[int64]*inflight),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.serve()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) lookup(typ string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[typ]
	return h, ok
}

// errorReply builds a failure reply the client's error policy recognises by type and by flag.
func (s *Server) errorReply(err error) message.Message {
	reply := message.Message{"message": err.Error()}
	if s.policy.Type != "" {
		reply[message.FieldType] = s.policy.Type
	}
	if s.policy.Field != "" {
		reply[s.policy.Field] = true
	}
	return reply
}

// conn is one peer. Reads happen on the serve goroutine; writes are serialized by writeMu.
type conn struct {
	ws     *websocket.Conn
	server *Server
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[int64]*inflight
}

type inflight struct {
	cancel context.CancelFunc
}

func (c *conn) serve() {
	defer c.ws.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read", zap.Error(err))
			}
			return
		}

		req, err := codec.DecodeMessage(c.server.codec, data)
		if err != nil {
			c.logger.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		if req.Type() == protocol.TypeCancelRequest {
			if id, ok := req.RequestID(); ok {
				c.cancel(id)
			}
			continue
		}

		// registered before the handler starts so a CANCEL_REQUEST right behind it is not missed
		reqCtx, reqCancel := context.WithCancel(ctx)
		entry := &inflight{cancel: reqCancel}
		if id, ok := req.RequestID(); ok {
			c.mu.Lock()
			c.inflight[id] = entry
			c.mu.Unlock()
		}

		// without `go`, a slow handler would block every later request on this connection
		c.server.wg.Add(1)
		go c.handleRequest(reqCtx, entry, req)
	}
}

func (c *conn) handleRequest(ctx context.Context, entry *inflight, req message.Message) {
	defer c.server.wg.Done()
	defer entry.cancel()

	id, hasID := req.RequestID()
	if hasID {
		defer c.forget(id, entry)
	}

	var reply message.Message
	var err error
	if h, ok := c.server.lookup(req.Type()); ok {
		reply, err = h(ctx, req)
	} else {
		err = fmt.Errorf("unknown message type %q", req.Type())
	}

	// the client gave up; it drops anything we would send
	if ctx.Err() != nil {
		c.logger.Debug("request cancelled by peer", zap.Int64("requestId", id))
		return
	}

	if err != nil {
		c.logger.Warn("handler failed", zap.String("type", req.Type()), zap.Error(err))
		reply = c.server.errorReply(err)
	}
	if reply == nil {
		return
	}
	if hasID {
		reply = reply.WithRequestID(id)
	}

	data, err := c.server.codec.Encode(reply)
	if err != nil {
		c.logger.Warn("encode reply", zap.Error(err))
		return
	}
	c.write(data)
}

// forget removes id's entry unless a newer request reused the id.
func (c *conn) forget(id int64, entry *inflight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[id] == entry {
		delete(c.inflight, id)
	}
}

func (c *conn) cancel(id int64) {
	c.mu.Lock()
	entry, ok := c.inflight[id]
	c.mu.Unlock()

	if ok {
		c.logger.Debug("cancel", zap.Int64("requestId", id))
		entry.cancel()
	}
}

func (c *conn) write(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("write", zap.Error(err))
	}
}

func (c *conn) close(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("write close", zap.Error(err))
	}
	c.ws.Close()
}
