// Package protocol holds the wire-level conventions shared by the client and the reference server.
//
// Frames are UTF-8 text, one JSON object per frame. Besides arbitrary payload messages the
// protocol reserves one control message:
//
//	{"type": "CANCEL_REQUEST", "requestId": 9}
//
// sent by a client that gave up on request 9. A reply may still arrive afterwards; the client drops it.
//
// A reply is a failure when either its "type" equals the configured error type or its
// configured boolean error field is true:
//
//	{"type": "ERROR", "requestId": 3}
//	{"type": "GET_RESULT", "requestId": 3, "error": true}
package protocol

import (
	"mini-socket/message"
)

// TypeCancelRequest is the control message a client sends when it cancels a request.
const TypeCancelRequest = "CANCEL_REQUEST"

// Defaults for the error discriminator.
const (
	DefaultErrorType  = "ERROR"
	DefaultErrorField = "error"
)

// CancelRequest builds the control message that tells the peer request id was abandoned.
func CancelRequest(id int64) message.Message {
	return message.Message{
		message.FieldType:      TypeCancelRequest,
		message.FieldRequestID: id,
	}
}

// ErrorPolicy decides whether an inbound message reports a request failure.
type ErrorPolicy struct {
	Type  string // value of the "type" field marking a failure; "" disables the check
	Field string // boolean field marking a failure when true; "" disables the check
}

// DefaultErrorPolicy returns the policy {Type: "ERROR", Field: "error"}.
func DefaultErrorPolicy() ErrorPolicy {
	return ErrorPolicy{Type: DefaultErrorType, Field: DefaultErrorField}
}

// IsFailure reports whether msg signals a failed request.
func (p ErrorPolicy) IsFailure(msg message.Message) bool {
	if p.Type != "" && msg.Type() == p.Type {
		return true
	}
	if p.Field != "" {
		if flag, ok := msg[p.Field].(bool); ok && flag {
			return true
		}
	}
	return false
}
