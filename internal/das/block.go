package das

import (
	"fmt"
	"math"
	"time"
)

// RawBlock is one decoded delivery from the instrument: Lines rows of
// SamplesPerLine float32 samples, stored row-major. A RawBlock owns Data and
// is never mutated after decode.
type RawBlock struct {
	Seq            uint64
	Lines          int
	SamplesPerLine int
	Data           []float32
	// Received is when the producer callback delivered the buffer.
	Received time.Time
}

// Line returns row i of the block. The slice aliases Data and must be treated
// as read-only.
func (b RawBlock) Line(i int) []float32 {
	off := i * b.SamplesPerLine
	return b.Data[off : off+b.SamplesPerLine : off+b.SamplesPerLine]
}

// Validate checks the shape invariants.
func (b RawBlock) Validate() error {
	if b.Lines <= 0 || b.SamplesPerLine <= 0 {
		return fmt.Errorf("%w: lines=%d samples_per_line=%d", ErrShapeMismatch, b.Lines, b.SamplesPerLine)
	}
	if len(b.Data) != b.Lines*b.SamplesPerLine {
		return fmt.Errorf("%w: %d samples for %dx%d block", ErrShapeMismatch, len(b.Data), b.Lines, b.SamplesPerLine)
	}
	return nil
}

// ScaledBlock is a RawBlock mapped to 8-bit intensities, same shape.
type ScaledBlock struct {
	Seq            uint64
	Lines          int
	SamplesPerLine int
	Pixels         []uint8
}

// Row returns row i of the scaled block, aliasing Pixels.
func (b ScaledBlock) Row(i int) []uint8 {
	off := i * b.SamplesPerLine
	return b.Pixels[off : off+b.SamplesPerLine : off+b.SamplesPerLine]
}

// MidGray is the intensity emitted when the scaling range collapses.
const MidGray uint8 = 128

// ScalingParameters are the clip bounds used to map raw samples onto 0..255.
// Values are immutable; replace the whole value to update.
type ScalingParameters struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
	// Samples is how many finite values the bounds were computed from.
	Samples int `json:"samples"`
	// ComputedAt is the clock time of the recompute.
	ComputedAt time.Time `json:"computed_at"`
}

// NewScalingParameters returns bounds after checking Low <= High and that
// both are finite.
func NewScalingParameters(low, high float64) (ScalingParameters, error) {
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return ScalingParameters{}, fmt.Errorf("%w: non-finite scaling bounds (%v, %v)", ErrInvalidParameter, low, high)
	}
	if low > high {
		return ScalingParameters{}, fmt.Errorf("%w: low bound %v above high bound %v", ErrInvalidParameter, low, high)
	}
	return ScalingParameters{Low: low, High: high}, nil
}

// Degenerate reports whether the range has zero width; scaling then outputs
// MidGray everywhere.
func (p ScalingParameters) Degenerate() bool {
	return p.Low == p.High
}
