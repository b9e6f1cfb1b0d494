package l1blocks

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// ErrMalformedFrame is returned for bytes that do not parse as a Frame.
var ErrMalformedFrame = errors.New("l1blocks: malformed block frame")

// DefaultMaxFrameSize bounds a single delimited frame read from a stream.
const DefaultMaxFrameSize = 16 << 20

// Frame field numbers.
const (
	fieldSeq            protowire.Number = 1
	fieldLines          protowire.Number = 2
	fieldSamplesPerLine protowire.Number = 3
	fieldPayload        protowire.Number = 4
	fieldUnixNanos      protowire.Number = 5
)

// Frame carries one block on the wire. Payload holds little-endian float32
// samples, exactly what a driver callback would deliver.
type Frame struct {
	Seq            uint64
	Lines          int
	SamplesPerLine int
	Payload        []byte
	UnixNanos      int64
}

// FrameFromBlock encodes a decoded block back into a frame.
func FrameFromBlock(b das.RawBlock) Frame {
	return Frame{
		Seq:            b.Seq,
		Lines:          b.Lines,
		SamplesPerLine: b.SamplesPerLine,
		Payload:        EncodeSamples(make([]byte, 0, len(b.Data)*bytesPerSample), b.Data),
		UnixNanos:      b.Received.UnixNano(),
	}
}

// AppendFrame appends the protowire encoding of f to b.
func AppendFrame(b []byte, f Frame) []byte {
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Seq)
	b = protowire.AppendTag(b, fieldLines, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Lines))
	b = protowire.AppendTag(b, fieldSamplesPerLine, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.SamplesPerLine))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	if f.UnixNanos != 0 {
		b = protowire.AppendTag(b, fieldUnixNanos, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.UnixNanos))
	}
	return b
}

// MarshalFrame returns the encoding of f.
func MarshalFrame(f Frame) []byte {
	return AppendFrame(make([]byte, 0, len(f.Payload)+32), f)
}

// UnmarshalFrame parses b. The returned Payload aliases b. Unknown fields are
// skipped.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	var sawPayload bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: payload: %v", ErrMalformedFrame, protowire.ParseError(m))
			}
			f.Payload = v
			sawPayload = true
			b = b[m:]
		case typ == protowire.VarintType && num >= fieldSeq && num <= fieldUnixNanos:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			switch num {
			case fieldSeq:
				f.Seq = v
			case fieldLines:
				f.Lines = int(v)
			case fieldSamplesPerLine:
				f.SamplesPerLine = int(v)
			case fieldUnixNanos:
				f.UnixNanos = int64(v)
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Frame{}, fmt.Errorf("%w: field %d: %v", ErrMalformedFrame, num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if !sawPayload {
		return Frame{}, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	return f, nil
}

// WriteDelimited writes f prefixed by its uvarint length, the framing used on
// byte streams such as serial links.
func WriteDelimited(w io.Writer, f Frame) error {
	body := MarshalFrame(f)
	buf := binary.AppendUvarint(make([]byte, 0, len(body)+binary.MaxVarintLen64), uint64(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadDelimited reads one length-prefixed frame. Frames larger than maxSize
// are rejected without being buffered; maxSize <= 0 selects
// DefaultMaxFrameSize. The returned Payload is freshly allocated.
func ReadDelimited(r *bufio.Reader, maxSize int) (Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return Frame{}, err
	}
	if size == 0 || size > uint64(maxSize) {
		return Frame{}, fmt.Errorf("%w: frame length %d outside (0, %d]", ErrMalformedFrame, size, maxSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return UnmarshalFrame(body)
}
