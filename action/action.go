// Package action defines the actions flowing through the dispatch pipeline.
//
// Actions are a closed set of variants, decoded once at the boundary:
//
//	Connect   {type: SOCKET_CONNECT, payload: {uri}}          connection control
//	Close     {type: SOCKET_CLOSE}                            connection control
//	Send      {sendToServer: true, promise?, requestId?, ...} server-bound request
//	Plain     anything else                                   passes through
//
// and the variants the interceptor produces:
//
//	Outgoing  a Send after it was written to the wire (markers stripped, id assigned)
//	Incoming  one decoded inbound message
//	Opened / Closed / Error   connection lifecycle events
package action

import (
	"mini-socket/message"
)

// Action types of the connection lifecycle.
const (
	TypeConnect = "SOCKET_CONNECT"
	TypeClose   = "SOCKET_CLOSE"
	TypeOpened  = "SOCKET_OPENED"
	TypeClosed  = "SOCKET_CLOSED"
	TypeError   = "SOCKET_ERROR"
)

// Markers recognised on dynamic actions.
const (
	FieldSendToServer = "sendToServer"
	FieldPromise      = "promise"
	FieldPayload      = "payload"
)

// Action is anything dispatched through the pipeline.
type Action interface {
	Type() string
}

// Plain is an application action the socket layer does not handle.
type Plain struct {
	Kind    string
	Payload map[string]any
}

func (a Plain) Type() string { return a.Kind }

// Connect asks for a new connection. Service is resolved to a URI through discovery when URI is empty.
type Connect struct {
	URI     string
	Service string
}

func (Connect) Type() string { return TypeConnect }

// Close asks for an orderly shutdown of the current connection.
type Close struct{}

func (Close) Type() string { return TypeClose }

// Send is a server-bound message. RequestID, when set, is used verbatim instead of the next counter value.
type Send struct {
	Message      message.Message
	WantsPromise bool
	RequestID    *int64
}

func (a Send) Type() string { return a.Message.Type() }

// Outgoing is a message that was written to the socket.
type Outgoing struct {
	Message message.Message
}

func (a Outgoing) Type() string { return a.Message.Type() }

// Incoming is one message received from the socket, re-dispatched verbatim.
type Incoming struct {
	Message message.Message
}

func (a Incoming) Type() string { return a.Message.Type() }

// Opened reports that the socket finished opening.
type Opened struct{}

func (Opened) Type() string { return TypeOpened }

// Closed reports that the socket closed. Outstanding requests were already rejected.
type Closed struct {
	WasClean bool
	Code     int
	Reason   string
}

func (Closed) Type() string { return TypeClosed }

// Error reports a transport error. It does not settle any request by itself.
type Error struct {
	Code    int
	Message string
}

func (Error) Type() string { return TypeError }

// SocketConnect builds a Connect action.
func SocketConnect(uri string) Connect {
	return Connect{URI: uri}
}

// SocketClose builds a Close action.
func SocketClose() Close {
	return Close{}
}

// Request builds a server-bound action that wants a reply.
func Request(msg message.Message) Send {
	return Send{Message: msg, WantsPromise: true}
}

// Notify builds a fire-and-forget server-bound action.
func Notify(msg message.Message) Send {
	return Send{Message: msg}
}

// WithID returns a copy of a carrying an explicit request identifier.
func (a Send) WithID(id int64) Send {
	a.RequestID = &id
	return a
}
