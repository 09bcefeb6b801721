package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"mini-socket/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// DefaultHandshakeTimeout bounds the opening handshake.
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultPingInterval is the heartbeat period keeping idle connections alive.
	DefaultPingInterval = 30 * time.Second

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer our close frame.
	closeWait = 2 * time.Second
)

// WSDialer dials gorilla/websocket connections.
type WSDialer struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // <= 0 disables the heartbeat
	Header           http.Header
	Logger           *zap.Logger
}

// NewWSDialer returns a dialer with the default timeouts.
func NewWSDialer(logger *zap.Logger) *WSDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSDialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		PingInterval:     DefaultPingInterval,
		Logger:           logger,
	}
}

// Dial implements Dialer. The connection is established on a background goroutine
// that holds its first event until Dial is returning.
func (d *WSDialer) Dial(uri string, events SocketEvents) Socket {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ready := make(chan struct{})
	defer close(ready)

	s := &wsSocket{
		dialer: d,
		uri:    uri,
		events: events,
		logger: logger.With(zap.String("uri", uri)),
	}
	s.running = true
	go func() {
		<-ready
		s.run()
	}()
	return s
}

// wsSocket is one reconnectable websocket. All events come from the run goroutine,
// and at most one run goroutine is alive at a time.
type wsSocket struct {
	dialer *WSDialer
	uri    string
	events SocketEvents
	logger *zap.Logger

	mu      sync.Mutex // guards conn, closed, running
	conn    *websocket.Conn
	closed  bool
	running bool

	sending sync.Mutex // gorilla allows one concurrent writer
}

func (s *wsSocket) run() {
	conn, err := s.dial()
	if err != nil {
		s.logger.Warn("dial failed", zap.Error(err))
		s.finish()
		s.events.OnError(protocol.CloseAbnormalClosure)
		s.events.OnClose(false, protocol.CloseAbnormalClosure, err.Error())
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		s.finish()
		s.events.OnClose(true, protocol.CloseNormalClosure, "")
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.events.OnOpen()

	done := make(chan struct{})
	go s.heartbeatLoop(conn, done)

	var readErr error
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			s.events.OnMessage(string(data))
		}
	}
	close(done)
	conn.Close()

	s.mu.Lock()
	s.conn = nil
	closedByUs := s.closed
	s.mu.Unlock()
	s.finish()

	clean, code, reason := closeStatus(readErr, closedByUs)
	if !clean {
		s.logger.Warn("connection lost", zap.Int("code", code), zap.Error(readErr))
		s.events.OnError(code)
	}
	s.events.OnClose(clean, code, reason)
}

func (s *wsSocket) dial() (*websocket.Conn, error) {
	timeout := s.dialer.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, s.uri, s.dialer.Header)
	return conn, err
}

func (s *wsSocket) finish() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// heartbeatLoop sends pings so that dead peers are detected and idle proxies keep the connection.
func (s *wsSocket) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	if s.dialer.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.dialer.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Send implements Socket.
func (s *wsSocket) Send(text string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrSocketNotOpen
	}

	s.sending.Lock()
	defer s.sending.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close implements Socket. It starts the close handshake; the run goroutine reports OnClose.
func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	// unblock the reader if the peer never answers
	_ = conn.SetReadDeadline(time.Now().Add(closeWait))
	return err
}

// Reconnect implements Socket.
func (s *wsSocket) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.running {
		return
	}
	s.running = true
	s.logger.Info("reconnecting")
	go s.run()
}

// closeStatus classifies how the read loop ended.
func closeStatus(err error, closedByUs bool) (clean bool, code int, reason string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return closedByUs || ce.Code == websocket.CloseNormalClosure, ce.Code, ce.Text
	}
	if closedByUs {
		return true, protocol.CloseNormalClosure, ""
	}
	if err != nil {
		return false, protocol.CloseAbnormalClosure, err.Error()
	}
	return false, protocol.CloseAbnormalClosure, ""
}
