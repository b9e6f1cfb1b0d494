package stream

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
)

// StreamRequest opens a frame stream.
type StreamRequest struct {
	// MaxRows limits each frame to the newest rows; 0 sends all.
	MaxRows uint32
}

// Frame is one waterfall snapshot. Pixels holds Rows rows of Width bytes,
// oldest first.
type Frame struct {
	Generation uint64
	Width      uint32
	Rows       uint32
	LastSeq    uint64
	Low        float64
	High       float64
	Pixels     []byte
	UnixNanos  int64
}

const (
	reqMaxRows protowire.Number = 1

	frameGeneration protowire.Number = 1
	frameWidth      protowire.Number = 2
	frameRows       protowire.Number = 3
	frameLastSeq    protowire.Number = 4
	frameLow        protowire.Number = 5
	frameHigh       protowire.Number = 6
	framePixels     protowire.Number = 7
	frameUnixNanos  protowire.Number = 8
)

var errMalformed = errors.New("daswire: malformed message")

// FrameFromNotification copies the newest maxRows rows (all when 0) of n.
func FrameFromNotification(n pipeline.Notification, maxRows uint32) *Frame {
	snap := n.Snapshot
	rows := snap.Len()
	if maxRows > 0 && int(maxRows) < rows {
		rows = int(maxRows)
	}
	start := (snap.Len() - rows) * snap.Width
	return &Frame{
		Generation: n.Generation,
		Width:      uint32(snap.Width),
		Rows:       uint32(rows),
		LastSeq:    snap.LastSeq,
		Low:        n.Params.Low,
		High:       n.Params.High,
		Pixels:     snap.Pixels[start:],
		UnixNanos:  n.At.UnixNano(),
	}
}

func (r *StreamRequest) marshal() []byte {
	var b []byte
	if r.MaxRows != 0 {
		b = protowire.AppendTag(b, reqMaxRows, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.MaxRows))
	}
	return b
}

func (r *StreamRequest) unmarshal(b []byte) error {
	*r = StreamRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == reqMaxRows && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			r.MaxRows = uint32(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (f *Frame) marshal() []byte {
	b := make([]byte, 0, len(f.Pixels)+64)
	b = protowire.AppendTag(b, frameGeneration, protowire.VarintType)
	b = protowire.AppendVarint(b, f.Generation)
	b = protowire.AppendTag(b, frameWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Width))
	b = protowire.AppendTag(b, frameRows, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Rows))
	b = protowire.AppendTag(b, frameLastSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, f.LastSeq)
	b = protowire.AppendTag(b, frameLow, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(f.Low))
	b = protowire.AppendTag(b, frameHigh, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(f.High))
	b = protowire.AppendTag(b, framePixels, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Pixels)
	b = protowire.AppendTag(b, frameUnixNanos, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.UnixNanos))
	return b
}

func (f *Frame) unmarshal(b []byte) error {
	*f = Frame{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.VarintType && num != framePixels:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case frameGeneration:
				f.Generation = v
			case frameWidth:
				f.Width = uint32(v)
			case frameRows:
				f.Rows = uint32(v)
			case frameLastSeq:
				f.LastSeq = v
			case frameUnixNanos:
				f.UnixNanos = int64(v)
			}
			return n, nil
		case typ == protowire.Fixed64Type && (num == frameLow || num == frameHigh):
			v, n := protowire.ConsumeFixed64(b)
			if num == frameLow {
				f.Low = math.Float64frombits(v)
			} else {
				f.High = math.Float64frombits(v)
			}
			return n, nil
		case typ == protowire.BytesType && num == framePixels:
			v, n := protowire.ConsumeBytes(b)
			f.Pixels = append([]byte(nil), v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return err
	}
	if uint64(len(f.Pixels)) != uint64(f.Width)*uint64(f.Rows) {
		return fmt.Errorf("%w: %d pixel bytes for %dx%d", errMalformed, len(f.Pixels), f.Rows, f.Width)
	}
	return nil
}

// walk calls field for every field in b. field returns the length it
// consumed, negative on a protowire error.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
