package stream

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the daswire codec.
const CodecName = "daswire"

// Codec encodes StreamRequest and Frame with protowire.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *StreamRequest:
		return m.marshal(), nil
	case *Frame:
		return m.marshal(), nil
	}
	return nil, fmt.Errorf("daswire: cannot marshal %T", v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *StreamRequest:
		return m.unmarshal(data)
	case *Frame:
		return m.unmarshal(data)
	}
	return fmt.Errorf("daswire: cannot unmarshal into %T", v)
}
