package l1blocks

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// bytesPerSample is the size of one little-endian float32 sample.
const bytesPerSample = 4

// Shape is the block geometry the device was configured with.
type Shape struct {
	Lines          int `json:"lines"`
	SamplesPerLine int `json:"samples_per_line"`
}

// Validate rejects non-positive dimensions.
func (s Shape) Validate() error {
	if s.Lines <= 0 || s.SamplesPerLine <= 0 {
		return fmt.Errorf("%w: block shape %dx%d", das.ErrInvalidParameter, s.Lines, s.SamplesPerLine)
	}
	return nil
}

// BlockBytes is the byte length of exactly one block.
func (s Shape) BlockBytes() int {
	return s.Lines * s.SamplesPerLine * bytesPerSample
}

// Decoder converts driver buffers into RawBlocks. Decode is called from the
// producer context only; Reconfigure and Reset must not race with Decode and
// are called by the session while no producer is active.
type Decoder struct {
	shape atomic.Pointer[Shape]
	next  atomic.Uint64
	clock timeutil.Clock
}

// NewDecoder returns a decoder for blocks of the given shape.
func NewDecoder(shape Shape, clock timeutil.Clock) (*Decoder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	d := &Decoder{clock: clock}
	d.shape.Store(&shape)
	return d, nil
}

// Shape returns the configured geometry.
func (d *Decoder) Shape() Shape {
	return *d.shape.Load()
}

// Reconfigure installs a new geometry and resets the sequence counter.
func (d *Decoder) Reconfigure(shape Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	d.shape.Store(&shape)
	d.Reset()
	return nil
}

// Reset restarts sequence numbering at zero for a new session.
func (d *Decoder) Reset() {
	d.next.Store(0)
}

// NextSeq is the sequence number the next successful decode will receive.
func (d *Decoder) NextSeq() uint64 {
	return d.next.Load()
}

// Decode copies buf into an owned RawBlock. buf may be reused by the caller
// as soon as Decode returns.
//
// A buffer holding k whole blocks (k > 1 when the device reads several blocks
// per callback) decodes into one RawBlock of k*Lines lines. Sequence numbers
// are consumed only by successful decodes.
func (d *Decoder) Decode(buf []byte) (das.RawBlock, error) {
	if len(buf) == 0 {
		return das.RawBlock{}, das.ErrInvalidHandle
	}
	shape := d.shape.Load()
	blockBytes := shape.BlockBytes()
	if len(buf)%blockBytes != 0 {
		return das.RawBlock{}, fmt.Errorf("%w: %d bytes is not a multiple of %d (%dx%d float32)",
			das.ErrShapeMismatch, len(buf), blockBytes, shape.Lines, shape.SamplesPerLine)
	}

	n := len(buf) / bytesPerSample
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:]))
	}

	return das.RawBlock{
		Seq:            d.next.Add(1) - 1,
		Lines:          shape.Lines * (len(buf) / blockBytes),
		SamplesPerLine: shape.SamplesPerLine,
		Data:           data,
		Received:       d.clock.Now(),
	}, nil
}

// EncodeSamples appends samples to dst in the little-endian float32 layout
// Decode expects.
func EncodeSamples(dst []byte, samples []float32) []byte {
	for _, v := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
