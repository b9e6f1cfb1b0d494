package l1blocks

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// Stats tracks producer-side counters: buffers seen, bytes, and decode
// failures by kind. Interval counters are read-and-reset by GetAndReset;
// totals accumulate for the life of the Stats.
type Stats struct {
	mu        sync.Mutex
	clock     timeutil.Clock
	interval  Counts
	total     Counts
	lastReset time.Time
}

// Counts is a copy of the counters.
type Counts struct {
	Buffers  int64            `json:"buffers"`
	Bytes    int64            `json:"bytes"`
	Decoded  int64            `json:"decoded"`
	Failures map[string]int64 `json:"failures,omitempty"`
}

// FailureTotal sums failures across kinds.
func (c Counts) FailureTotal() int64 {
	var n int64
	for _, v := range c.Failures {
		n += v
	}
	return n
}

func (c Counts) clone() Counts {
	out := c
	if c.Failures != nil {
		out.Failures = make(map[string]int64, len(c.Failures))
		for k, v := range c.Failures {
			out.Failures[k] = v
		}
	}
	return out
}

// NewStats returns zeroed counters.
func NewStats(clock timeutil.Clock) *Stats {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Stats{clock: clock, lastReset: clock.Now()}
}

// AddBuffer records one driver callback of n bytes.
func (s *Stats) AddBuffer(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.Buffers++
	s.interval.Bytes += int64(n)
	s.total.Buffers++
	s.total.Bytes += int64(n)
}

// AddDecoded records a successful decode.
func (s *Stats) AddDecoded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.Decoded++
	s.total.Decoded++
}

// AddFailure records a decode failure under das.Kind(err).
func (s *Stats) AddFailure(err error) {
	kind := das.Kind(err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval.Failures == nil {
		s.interval.Failures = make(map[string]int64)
	}
	if s.total.Failures == nil {
		s.total.Failures = make(map[string]int64)
	}
	s.interval.Failures[kind]++
	s.total.Failures[kind]++
}

// Totals returns lifetime counters.
func (s *Stats) Totals() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.clone()
}

// GetAndReset returns the interval counters and the time they cover, then
// starts a new interval.
func (s *Stats) GetAndReset() (Counts, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	c := s.interval
	d := now.Sub(s.lastReset)
	s.interval = Counts{}
	s.lastReset = now
	return c, d
}

// Reset clears interval and total counters, used when a session starts.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = Counts{}
	s.total = Counts{}
	s.lastReset = s.clock.Now()
}

// Format renders interval counters as a single log line.
func (c Counts) Format(d time.Duration) string {
	secs := d.Seconds()
	if secs <= 0 {
		secs = 1
	}
	line := fmt.Sprintf("%.1f buffers/s, %.2f MB/s, %d decoded", float64(c.Buffers)/secs,
		float64(c.Bytes)/secs/(1024*1024), c.Decoded)
	if len(c.Failures) == 0 {
		return line
	}
	kinds := make([]string, 0, len(c.Failures))
	for k := range c.Failures {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, c.Failures[k])
	}
	return line + ", failures: " + strings.Join(parts, " ")
}
