package protocol

import (
	"testing"

	"mini-socket/message"

	"github.com/stretchr/testify/assert"
)

func TestCloseTextCoversStandardCodes(t *testing.T) {
	for code := 1000; code <= 1015; code++ {
		assert.NotEqual(t, UnknownCloseReason, CloseText(code), "code %d", code)
	}
}

func TestCloseTextUnknown(t *testing.T) {
	assert.Equal(t, UnknownCloseReason, CloseText(999))
	assert.Equal(t, UnknownCloseReason, CloseText(1016))
	assert.Equal(t, UnknownCloseReason, CloseText(4000))
}

func TestCancelRequest(t *testing.T) {
	msg := CancelRequest(9)

	assert.Equal(t, TypeCancelRequest, msg.Type())
	id, ok := msg.RequestID()
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestErrorPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy ErrorPolicy
		msg    message.Message
		want   bool
	}{
		{"type match", DefaultErrorPolicy(), message.Message{"type": "ERROR"}, true},
		{"flag set", DefaultErrorPolicy(), message.Message{"type": "OK", "error": true}, true},
		{"flag false", DefaultErrorPolicy(), message.Message{"type": "OK", "error": false}, false},
		{"flag not bool", DefaultErrorPolicy(), message.Message{"type": "OK", "error": "yes"}, false},
		{"plain reply", DefaultErrorPolicy(), message.Message{"type": "OK"}, false},
		{"custom type", ErrorPolicy{Type: "FAILED"}, message.Message{"type": "FAILED"}, true},
		{"custom type ignores default", ErrorPolicy{Type: "FAILED"}, message.Message{"type": "ERROR", "error": true}, false},
		{"field only", ErrorPolicy{Field: "failed"}, message.Message{"failed": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.IsFailure(tt.msg))
		})
	}
}
