package codec

import (
	"github.com/bytedance/sonic"
)

// SonicCodec encodes with bytedance/sonic configured for encoding/json compatible output.
type SonicCodec struct {
	api sonic.API
}

func NewSonicCodec() *SonicCodec {
	return &SonicCodec{
		api: sonic.Config{
			EscapeHTML:       true,
			CompactMarshaler: true,
			UseNumber:        true,
		}.Froze(),
	}
}

func (c *SonicCodec) Encode(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c *SonicCodec) Decode(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}

func (c *SonicCodec) Type() CodecType {
	return CodecTypeSonic
}
