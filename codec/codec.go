// Package codec serializes wire messages to and from text frames.
//
// Two interchangeable implementations are provided:
//   - JSONCodec:  encoding/json, the reference behaviour
//   - SonicCodec: bytedance/sonic, a faster JIT-backed encoder for hot paths
//
// Both keep numbers as json.Number on decode so request identifiers survive without float rounding.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"mini-socket/message"
)

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeSonic CodecType = 1
)

// ErrMalformedMessage is returned when an inbound frame is not a JSON object.
var ErrMalformedMessage = errors.New("malformed message")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Sonic
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeSonic {
		return NewSonicCodec()
	}

	return &JSONCodec{}
}

// ParseCodecType maps a configuration value ("json", "sonic") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "sonic":
		return CodecTypeSonic, nil
	}
	return CodecTypeJSON, fmt.Errorf("unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeSonic:
		return "sonic"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// DecodeMessage decodes one text frame into a Message.
// Anything that is not a JSON object (including null) is reported as ErrMalformedMessage.
func DecodeMessage(c Codec, data []byte) (message.Message, error) {
	var raw map[string]any
	if err := c.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}
	return message.Message(raw), nil
}
