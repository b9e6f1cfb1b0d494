package l2queue

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// Policy selects what Push does when the queue is full.
type Policy int

const (
	// DropOldest evicts the oldest pending block and accepts the new one.
	DropOldest Policy = iota
	// Reject refuses the new block and leaves the queue unchanged.
	Reject
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts "drop-oldest" (or "") and "reject".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop-oldest", "drop_oldest":
		return DropOldest, nil
	case "reject":
		return Reject, nil
	default:
		return 0, fmt.Errorf("%w: unknown queue policy %q", das.ErrInvalidParameter, s)
	}
}

// CapacityForRate sizes a queue to hold about one second of blocks at the
// given arrival rate, never less than minCap.
func CapacityForRate(blocksPerSecond float64, minCap int) int {
	c := int(math.Ceil(blocksPerSecond))
	if c < minCap {
		return minCap
	}
	return c
}

// Queue is a fixed-capacity FIFO of RawBlocks. One producer and one consumer
// may use it concurrently.
type Queue struct {
	mu     sync.Mutex
	ring   []das.RawBlock
	head   int // index of the oldest pending block
	size   int
	policy Policy

	pushed   atomic.Uint64
	drops    atomic.Uint64
	rejected atomic.Uint64
}

// New returns an empty queue holding at most capacity blocks.
func New(capacity int, policy Policy) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: queue capacity %d", das.ErrInvalidParameter, capacity)
	}
	if policy != DropOldest && policy != Reject {
		return nil, fmt.Errorf("%w: queue policy %v", das.ErrInvalidParameter, policy)
	}
	return &Queue{ring: make([]das.RawBlock, capacity), policy: policy}, nil
}

// Push enqueues b. Under DropOldest it always returns true, evicting and
// counting the oldest block when full. Under Reject it returns false when
// full and leaves the queue untouched.
func (q *Queue) Push(b das.RawBlock) bool {
	q.mu.Lock()
	if q.size == len(q.ring) {
		if q.policy == Reject {
			q.mu.Unlock()
			q.rejected.Add(1)
			return false
		}
		q.ring[q.head] = b
		q.head = (q.head + 1) % len(q.ring)
		q.mu.Unlock()
		q.drops.Add(1)
		q.pushed.Add(1)
		return true
	}
	q.ring[(q.head+q.size)%len(q.ring)] = b
	q.size++
	q.mu.Unlock()
	q.pushed.Add(1)
	return true
}

// TryPush is Push reporting refusal as das.ErrQueueFull.
func (q *Queue) TryPush(b das.RawBlock) error {
	if !q.Push(b) {
		return das.ErrQueueFull
	}
	return nil
}

// Drain removes up to maxItems pending blocks (all when maxItems <= 0) in
// FIFO order. It returns nil when the queue is empty.
func (q *Queue) Drain(maxItems int) []das.RawBlock {
	return q.DrainInto(nil, maxItems)
}

// DrainInto is Drain appending to dst, letting the consumer reuse a slice
// across ticks.
func (q *Queue) DrainInto(dst []das.RawBlock, maxItems int) []das.RawBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	if maxItems > 0 && maxItems < n {
		n = maxItems
	}
	for i := 0; i < n; i++ {
		dst = append(dst, q.ring[q.head])
		q.ring[q.head] = das.RawBlock{}
		q.head = (q.head + 1) % len(q.ring)
	}
	q.size -= n
	return dst
}

// Clear discards every pending block and returns how many were discarded.
// Discards are not counted as drops.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	for i := range q.ring {
		q.ring[i] = das.RawBlock{}
	}
	q.head, q.size = 0, 0
	return n
}

// ResetCounters zeroes the pushed, drop and reject counters.
func (q *Queue) ResetCounters() {
	q.pushed.Store(0)
	q.drops.Store(0)
	q.rejected.Store(0)
}

// Len returns the number of pending blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Capacity() int  { return len(q.ring) }
func (q *Queue) Policy() Policy { return q.policy }

// Pushed counts accepted blocks, including those later evicted.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Drops counts blocks evicted under DropOldest.
func (q *Queue) Drops() uint64 { return q.drops.Load() }

// Rejected counts blocks refused under Reject.
func (q *Queue) Rejected() uint64 { return q.rejected.Load() }
