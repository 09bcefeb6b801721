// Package transport implements the connection adapter that sits between the dispatch
// interceptor and a concrete socket.
//
// The adapter owns exactly one socket at a time and normalizes its events into four
// signals delivered to a Handler, in the order they happen:
//
//	Dialer.Dial ──→ Socket ──OnOpen/OnMessage/OnError/OnClose──→ Adapter ──Opened/Message/Error/Closed──→ Handler
//
// Writes issued before the socket is open are queued and flushed in submission order once it opens.
// An unclean close schedules a reconnect of the same socket after a fixed delay.
package transport

import (
	"errors"
	"fmt"
)

// ErrSocketNotOpen is returned by Socket.Send when no connection is established.
var ErrSocketNotOpen = errors.New("socket not open")

// SocketEvents receives raw events from a Socket. Events are delivered one at a time.
type SocketEvents interface {
	OnOpen()
	OnMessage(text string)
	OnError(code int)
	OnClose(wasClean bool, code int, reason string)
}

// Socket is one underlying, reconnectable connection.
type Socket interface {
	Send(text string) error
	Close() error
	// Reconnect re-establishes the connection to the same URI after a close.
	Reconnect()
}

// Dialer creates sockets. Dial never fails synchronously: a bad URI or an unreachable peer
// is reported through events. Dial never calls events itself; they arrive on another goroutine
// once Dial is returning, so a caller may hold a lock across Dial that its event handlers take.
type Dialer interface {
	Dial(uri string, events SocketEvents) Socket
}

// Handler is the owner of an Adapter.
type Handler interface {
	Opened()
	Message(text string)
	Error(code int, message string)
	Closed(wasClean bool, code int, reason string)
}

// State is the connection session state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}
