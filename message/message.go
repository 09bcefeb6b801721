// Package message defines the decoded form of a wire message exchanged over the socket.
//
// A Message is the JSON object carried by one text frame. Only two fields mean anything
// to the multiplexer:
//
//   - "type":      discriminator, re-used as the action type when the message is re-dispatched
//   - "requestId": correlation identifier linking a reply to the request that caused it
//
// Everything else is payload and travels through untouched.
package message

import (
	"encoding/json"
	"math"
)

// Field names with meaning to the multiplexer.
const (
	FieldType      = "type"
	FieldRequestID = "requestId"
)

// Message is one decoded JSON object.
type Message map[string]any

// Type returns the "type" field, or "" when absent or not a string.
func (m Message) Type() string {
	s, _ := m[FieldType].(string)
	return s
}

// RequestID returns the correlation identifier if the message carries a valid one.
// Valid means a non-negative integer; fractional or negative numbers are ignored.
func (m Message) RequestID() (int64, bool) {
	v, ok := m[FieldRequestID]
	if !ok {
		return 0, false
	}
	return ToID(v)
}

// WithRequestID returns a copy of m with "requestId" set to id.
func (m Message) WithRequestID(id int64) Message {
	c := m.Clone()
	c[FieldRequestID] = id
	return c
}

// Clone returns a shallow copy. Nested values are shared.
func (m Message) Clone() Message {
	c := make(Message, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Without returns a copy of m with the given keys removed.
func (m Message) Without(keys ...string) Message {
	c := m.Clone()
	for _, k := range keys {
		delete(c, k)
	}
	return c
}

// ToID converts a decoded JSON number (or a Go integer) into a request identifier.
func ToID(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, i >= 0
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatID(f)
	case float64:
		return floatID(n)
	case float32:
		return floatID(float64(n))
	case int:
		return int64(n), n >= 0
	case int8:
		return int64(n), n >= 0
	case int16:
		return int64(n), n >= 0
	case int32:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func floatID(f float64) (int64, bool) {
	if f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
