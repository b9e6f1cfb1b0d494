package l4waterfall

import (
	"fmt"
	"sync"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// Buffer holds the most recent MaxRows rows in acquisition order. The row
// width is fixed by the first appended block; changing width requires Reset.
type Buffer struct {
	mu       sync.RWMutex
	maxRows  int
	width    int
	pix      []uint8 // maxRows*width, allocated on first append
	head     int     // ring index of the oldest row
	rows     int
	lastSeq  uint64
	blocks   uint64
	appended uint64
}

// New returns an empty buffer of maxRows rows.
func New(maxRows int) (*Buffer, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("%w: waterfall rows %d", das.ErrInvalidParameter, maxRows)
	}
	return &Buffer{maxRows: maxRows}, nil
}

// Append adds each line of sb as one row, oldest line first, evicting the
// oldest rows once MaxRows is exceeded.
func (b *Buffer) Append(sb das.ScaledBlock) error {
	if sb.Lines <= 0 || sb.SamplesPerLine <= 0 || len(sb.Pixels) != sb.Lines*sb.SamplesPerLine {
		return fmt.Errorf("%w: scaled block %dx%d with %d pixels", das.ErrShapeMismatch,
			sb.Lines, sb.SamplesPerLine, len(sb.Pixels))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.width == 0 {
		b.width = sb.SamplesPerLine
		b.pix = make([]uint8, b.maxRows*b.width)
	} else if sb.SamplesPerLine != b.width {
		return fmt.Errorf("%w: block has %d samples per line, waterfall is %d wide",
			das.ErrWidthMismatch, sb.SamplesPerLine, b.width)
	}

	// Only the last maxRows lines of an oversized block can survive.
	first := 0
	if sb.Lines > b.maxRows {
		first = sb.Lines - b.maxRows
	}
	for l := first; l < sb.Lines; l++ {
		var slot int
		if b.rows < b.maxRows {
			slot = (b.head + b.rows) % b.maxRows
			b.rows++
		} else {
			slot = b.head
			b.head = (b.head + 1) % b.maxRows
		}
		copy(b.pix[slot*b.width:(slot+1)*b.width], sb.Row(l))
	}
	b.lastSeq = sb.Seq
	b.blocks++
	b.appended += uint64(sb.Lines)
	return nil
}

// Reset discards all rows and unlocks the width.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.width = 0
	b.pix = nil
	b.head, b.rows = 0, 0
	b.lastSeq, b.blocks, b.appended = 0, 0, 0
}

// Len returns the number of rows held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rows
}

// Width returns the row width, or 0 before the first append.
func (b *Buffer) Width() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width
}

// MaxRows returns the fixed capacity.
func (b *Buffer) MaxRows() int { return b.maxRows }

// Snapshot is a point-in-time copy of the buffer. It shares no memory with
// the Buffer and may be read from any goroutine; it must not be modified when
// handed to more than one reader.
type Snapshot struct {
	// Rows are oldest first; each aliases Pixels.
	Rows    [][]uint8
	Pixels  []uint8
	Width   int
	MaxRows int
	// LastSeq is the sequence number of the newest appended block.
	LastSeq uint64
	// Blocks and TotalRows count appends since the last Reset.
	Blocks    uint64
	TotalRows uint64
}

// Len returns the number of rows in the snapshot.
func (s Snapshot) Len() int { return len(s.Rows) }

// Snapshot copies the current rows under the read lock.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{
		Width:     b.width,
		MaxRows:   b.maxRows,
		LastSeq:   b.lastSeq,
		Blocks:    b.blocks,
		TotalRows: b.appended,
	}
	if b.rows == 0 {
		return s
	}
	s.Pixels = make([]uint8, b.rows*b.width)
	// The ring is at most two contiguous runs.
	tail := b.head + b.rows
	if tail <= b.maxRows {
		copy(s.Pixels, b.pix[b.head*b.width:tail*b.width])
	} else {
		n := copy(s.Pixels, b.pix[b.head*b.width:])
		copy(s.Pixels[n:], b.pix[:(tail-b.maxRows)*b.width])
	}
	s.Rows = make([][]uint8, b.rows)
	for i := range s.Rows {
		s.Rows[i] = s.Pixels[i*b.width : (i+1)*b.width : (i+1)*b.width]
	}
	return s
}
