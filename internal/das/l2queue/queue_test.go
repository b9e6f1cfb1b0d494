package l2queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/das-waterfall/internal/das"
)

func block(seq uint64) das.RawBlock {
	return das.RawBlock{Seq: seq, Lines: 1, SamplesPerLine: 1, Data: []float32{float32(seq)}}
}

func seqs(blocks []das.RawBlock) []uint64 {
	out := make([]uint64, len(blocks))
	for i, b := range blocks {
		out[i] = b.Seq
	}
	return out
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(0, DropOldest)
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
	_, err = New(4, Policy(9))
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": DropOldest, "drop-oldest": DropOldest, "Reject": Reject} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePolicy("block")
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
	assert.Equal(t, "drop-oldest", DropOldest.String())
	assert.Equal(t, "reject", Reject.String())
}

func TestCapacityForRate(t *testing.T) {
	assert.Equal(t, 40, CapacityForRate(40, 4))
	assert.Equal(t, 41, CapacityForRate(40.2, 4))
	assert.Equal(t, 4, CapacityForRate(0.5, 4))
}

func TestDropOldest_CountsExactlyOverflow(t *testing.T) {
	t.Parallel()
	const capacity, extra = 5, 7
	q, err := New(capacity, DropOldest)
	require.NoError(t, err)

	for i := uint64(0); i < capacity+extra; i++ {
		require.True(t, q.Push(block(i)))
		require.LessOrEqual(t, q.Len(), capacity)
	}
	assert.Equal(t, uint64(extra), q.Drops())
	assert.Equal(t, uint64(capacity+extra), q.Pushed())
	assert.Equal(t, []uint64{7, 8, 9, 10, 11}, seqs(q.Drain(0)))
	assert.Nil(t, q.Drain(0))
}

func TestReject_LeavesQueueUnchanged(t *testing.T) {
	t.Parallel()
	q, err := New(2, Reject)
	require.NoError(t, err)
	require.NoError(t, q.TryPush(block(0)))
	require.NoError(t, q.TryPush(block(1)))

	assert.False(t, q.Push(block(2)))
	assert.ErrorIs(t, q.TryPush(block(3)), das.ErrQueueFull)
	assert.Equal(t, uint64(2), q.Rejected())
	assert.Zero(t, q.Drops())
	assert.Equal(t, []uint64{0, 1}, seqs(q.Drain(0)))
}

func TestDrain_MaxItemsAndWrap(t *testing.T) {
	t.Parallel()
	q, err := New(4, DropOldest)
	require.NoError(t, err)
	for i := uint64(0); i < 3; i++ {
		q.Push(block(i))
	}
	assert.Equal(t, []uint64{0, 1}, seqs(q.Drain(2)))

	// Head is now mid-ring; fill across the wrap point.
	for i := uint64(3); i < 6; i++ {
		q.Push(block(i))
	}
	assert.Equal(t, 4, q.Len())
	buf := make([]das.RawBlock, 0, 8)
	buf = q.DrainInto(buf, 0)
	assert.Equal(t, []uint64{2, 3, 4, 5}, seqs(buf))
	assert.Zero(t, q.Len())
}

func TestClear(t *testing.T) {
	t.Parallel()
	q, err := New(3, DropOldest)
	require.NoError(t, err)
	for i := uint64(0); i < 5; i++ {
		q.Push(block(i))
	}
	assert.Equal(t, 3, q.Clear())
	assert.Zero(t, q.Len())
	assert.Equal(t, uint64(2), q.Drops(), "clear is not a drop")

	q.ResetCounters()
	assert.Zero(t, q.Drops())
	assert.Zero(t, q.Pushed())

	q.Push(block(10))
	assert.Equal(t, []uint64{10}, seqs(q.Drain(0)))
}

// One producer and one consumer run concurrently; the consumer must observe
// strictly ascending sequence numbers, and received + dropped must equal
// pushed.
func TestConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()
	const total = 20000
	q, err := New(16, DropOldest)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < total; i++ {
			q.Push(block(i))
		}
	}()

	var received []uint64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			received = append(received, seqs(q.Drain(0))...)
			for i := 1; i < len(received); i++ {
				if received[i] <= received[i-1] {
					t.Fatalf("out of order at %d: %d after %d", i, received[i], received[i-1])
				}
			}
			assert.Equal(t, uint64(total), uint64(len(received))+q.Drops())
			assert.Equal(t, uint64(total-1), received[len(received)-1])
			return
		default:
			received = append(received, seqs(q.Drain(4))...)
		}
	}
}
