package l4waterfall

import (
	"bytes"
	"image/png"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// scaled builds a block whose every pixel in line l equals base+l.
func scaled(seq uint64, lines, width int, base uint8) das.ScaledBlock {
	pix := make([]uint8, lines*width)
	for l := 0; l < lines; l++ {
		for s := 0; s < width; s++ {
			pix[l*width+s] = base + uint8(l)
		}
	}
	return das.ScaledBlock{Seq: seq, Lines: lines, SamplesPerLine: width, Pixels: pix}
}

func firstPixels(s Snapshot) []uint8 {
	out := make([]uint8, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = r[0]
	}
	return out
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
}

func TestAppend_EvictsOldestInOrder(t *testing.T) {
	t.Parallel()
	b, err := New(5)
	require.NoError(t, err)

	require.NoError(t, b.Append(scaled(0, 3, 2, 10))) // rows 10 11 12
	require.NoError(t, b.Append(scaled(1, 3, 2, 20))) // rows 20 21 22
	assert.Equal(t, 5, b.Len())

	s := b.Snapshot()
	assert.Equal(t, []uint8{11, 12, 20, 21, 22}, firstPixels(s))
	assert.Equal(t, uint64(1), s.LastSeq)
	assert.Equal(t, uint64(6), s.TotalRows)
	assert.Equal(t, uint64(2), s.Blocks)

	require.NoError(t, b.Append(scaled(2, 4, 2, 30)))
	assert.Equal(t, []uint8{22, 30, 31, 32, 33}, firstPixels(b.Snapshot()))
}

func TestAppend_OversizedBlockKeepsTail(t *testing.T) {
	t.Parallel()
	b, _ := New(3)
	require.NoError(t, b.Append(scaled(0, 1, 1, 5)))
	require.NoError(t, b.Append(scaled(1, 7, 1, 100)))
	assert.Equal(t, []uint8{104, 105, 106}, firstPixels(b.Snapshot()))
}

func TestAppend_ManyBlocksExactlyMaxRows(t *testing.T) {
	t.Parallel()
	const maxRows = 37
	b, _ := New(maxRows)
	var want []uint8
	for i := 0; i < 25; i++ {
		blk := scaled(uint64(i), 3, 4, uint8(i*3))
		require.NoError(t, b.Append(blk))
		for l := 0; l < 3; l++ {
			want = append(want, uint8(i*3+l))
		}
	}
	want = want[len(want)-maxRows:]
	s := b.Snapshot()
	require.Equal(t, maxRows, s.Len())
	if diff := cmp.Diff(want, firstPixels(s)); diff != "" {
		t.Errorf("rows (-want +got):\n%s", diff)
	}
}

func TestAppend_WidthLocked(t *testing.T) {
	t.Parallel()
	b, _ := New(4)
	require.NoError(t, b.Append(scaled(0, 1, 3, 0)))
	assert.Equal(t, 3, b.Width())
	assert.ErrorIs(t, b.Append(scaled(1, 1, 4, 0)), das.ErrWidthMismatch)
	assert.Equal(t, 1, b.Len())

	b.Reset()
	assert.Zero(t, b.Width())
	assert.Zero(t, b.Len())
	require.NoError(t, b.Append(scaled(0, 1, 4, 0)))
	assert.Equal(t, 4, b.Width())
}

func TestAppend_BadShape(t *testing.T) {
	t.Parallel()
	b, _ := New(4)
	err := b.Append(das.ScaledBlock{Lines: 2, SamplesPerLine: 2, Pixels: []uint8{1}})
	assert.ErrorIs(t, err, das.ErrShapeMismatch)
}

func TestSnapshot_IsACopy(t *testing.T) {
	t.Parallel()
	b, _ := New(2)
	require.NoError(t, b.Append(scaled(0, 2, 2, 1)))
	s := b.Snapshot()
	require.NoError(t, b.Append(scaled(1, 2, 2, 50)))
	assert.Equal(t, []uint8{1, 2}, firstPixels(s))

	empty, _ := New(2)
	assert.Zero(t, empty.Snapshot().Len())
}

func TestSnapshot_ConcurrentWithAppend(t *testing.T) {
	t.Parallel()
	b, _ := New(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = b.Append(scaled(uint64(i), 2, 8, uint8(i)))
		}
	}()
	for i := 0; i < 200; i++ {
		s := b.Snapshot()
		for _, r := range s.Rows {
			require.Len(t, r, 8)
			for _, p := range r[1:] {
				require.Equal(t, r[0], p, "torn row")
			}
		}
	}
	wg.Wait()
}

func TestImageAndPNG(t *testing.T) {
	t.Parallel()
	b, _ := New(4)
	require.NoError(t, b.Append(scaled(0, 2, 3, 200)))
	s := b.Snapshot()

	img := s.Image()
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y, "unfilled rows are black")
	assert.Equal(t, uint8(200), img.GrayAt(2, 2).Y)
	assert.Equal(t, uint8(201), img.GrayAt(0, 3).Y, "newest row at the bottom")

	var buf bytes.Buffer
	require.NoError(t, s.EncodePNG(&buf))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}
