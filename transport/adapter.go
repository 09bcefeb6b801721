package transport

import (
	"sync"
	"time"

	"mini-socket/protocol"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the wait between an unclean close and the reconnect attempt.
const DefaultReconnectDelay = 1000 * time.Millisecond

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithReconnectDelay overrides DefaultReconnectDelay.
func WithReconnectDelay(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.reconnectDelay = d
		}
	}
}

// WithAdapterLogger sets the adapter's logger.
func WithAdapterLogger(logger *zap.Logger) AdapterOption {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter wraps one Socket for its owner.
type Adapter struct {
	dialer         Dialer
	handler        Handler
	reconnectDelay time.Duration
	logger         *zap.Logger

	mu        sync.Mutex // guards everything below; held while flushing so writes stay in order
	uri       string
	socket    Socket
	seq       uint64 // bumped by every Open; identifies the socket events belong to
	state     State
	closed    bool     // Close was called; final
	queue     []string // writes waiting for the socket to open
	reconnect *time.Timer
}

// NewAdapter creates an idle adapter. Call Open to connect.
func NewAdapter(dialer Dialer, handler Handler, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		dialer:         dialer,
		handler:        handler,
		reconnectDelay: DefaultReconnectDelay,
		logger:         zap.NewNop(),
		state:          StateDisconnected,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open starts an asynchronous connect to uri, superseding any socket the adapter held.
// Failures, including a malformed uri, are reported through the handler's Error and Closed signals.
func (a *Adapter) Open(uri string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	if a.socket != nil {
		a.stopReconnect()
		if err := a.socket.Close(); err != nil {
			a.logger.Debug("closing superseded socket", zap.Error(err))
		}
	}

	a.seq++
	a.uri = uri
	a.state = StateConnecting
	a.logger.Info("connecting", zap.String("uri", uri))
	// events arrive on the socket's goroutine and wait for mu, so they see the new seq and socket
	a.socket = a.dialer.Dial(uri, &socketEvents{a: a, seq: a.seq})
}

// Send writes text once the socket is open. Until then it is queued in submission order.
// After Close the text is dropped; refusing sends is the owner's job.
func (a *Adapter) Send(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.closed:
		a.logger.Warn("dropping write on closed adapter")
	case a.state == StateOpen:
		a.write(text)
	default:
		a.queue = append(a.queue, text)
	}
}

// Close requests an orderly shutdown. Queued writes are dropped and no reconnect follows.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.state = StateClosing
	a.queue = nil
	a.stopReconnect()
	socket := a.socket
	a.mu.Unlock()

	a.logger.Info("closing", zap.String("uri", a.URI()))
	if socket != nil {
		if err := socket.Close(); err != nil {
			a.logger.Warn("close socket", zap.Error(err))
		}
	}
}

// State returns the current session state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// URI returns the address the adapter connects to.
func (a *Adapter) URI() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uri
}

// Queued returns the number of writes waiting for the socket to open.
func (a *Adapter) Queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// socketEvents binds one dialed socket to its adapter. Events of a socket that Open
// has since superseded are dropped.
type socketEvents struct {
	a   *Adapter
	seq uint64
}

func (e *socketEvents) OnOpen()               { e.a.onOpen(e.seq) }
func (e *socketEvents) OnMessage(text string) { e.a.onMessage(e.seq, text) }
func (e *socketEvents) OnError(code int)      { e.a.onError(e.seq, code) }
func (e *socketEvents) OnClose(wasClean bool, code int, reason string) {
	e.a.onClose(e.seq, wasClean, code, reason)
}

var _ SocketEvents = (*socketEvents)(nil)

// current reports whether seq is the socket the adapter holds.
func (a *Adapter) current(seq uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq == seq
}

func (a *Adapter) onOpen(seq uint64) {
	a.mu.Lock()
	if a.closed || a.seq != seq {
		a.mu.Unlock()
		return
	}
	a.state = StateOpen
	queued := a.queue
	a.queue = nil
	for _, text := range queued {
		a.write(text)
	}
	uri := a.uri
	a.mu.Unlock()

	a.logger.Info("connected", zap.String("uri", uri), zap.Int("flushed", len(queued)))
	a.handler.Opened()
}

func (a *Adapter) onMessage(seq uint64, text string) {
	if a.current(seq) {
		a.handler.Message(text)
	}
}

func (a *Adapter) onError(seq uint64, code int) {
	if a.current(seq) {
		a.handler.Error(code, protocol.CloseText(code))
	}
}

func (a *Adapter) onClose(seq uint64, wasClean bool, code int, reason string) {
	a.mu.Lock()
	if a.seq != seq {
		a.mu.Unlock()
		a.logger.Debug("superseded socket closed", zap.Int("code", code))
		return
	}
	closing := a.closed
	a.state = StateDisconnected
	a.mu.Unlock()

	a.handler.Closed(wasClean, code, reason)

	if wasClean || closing {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.seq != seq {
		return
	}
	a.logger.Info("connection lost, reconnecting",
		zap.Int("code", code),
		zap.String("reason", reason),
		zap.Duration("delay", a.reconnectDelay),
	)
	a.stopReconnect()
	socket := a.socket
	a.reconnect = time.AfterFunc(a.reconnectDelay, func() {
		a.mu.Lock()
		if a.closed || a.seq != seq {
			a.mu.Unlock()
			return
		}
		a.state = StateConnecting
		a.mu.Unlock()
		socket.Reconnect()
	})
}

// write sends text on the socket. Caller holds a.mu.
func (a *Adapter) write(text string) {
	if err := a.socket.Send(text); err != nil {
		a.logger.Warn("write failed", zap.Error(err))
	}
}

// stopReconnect cancels a scheduled reconnect. Caller holds a.mu.
func (a *Adapter) stopReconnect() {
	if a.reconnect != nil {
		a.reconnect.Stop()
		a.reconnect = nil
	}
}
