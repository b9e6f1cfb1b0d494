package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// MaxFrameRate is the highest tick rate the scheduler accepts.
const MaxFrameRate = 30

// Source is the consumer side of the acquisition queue.
type Source interface {
	DrainInto(dst []das.RawBlock, maxItems int) []das.RawBlock
}

// IntervalForRate converts a frame rate in Hz to a tick interval.
func IntervalForRate(fps float64) (time.Duration, error) {
	if !(fps > 0 && fps <= MaxFrameRate) {
		return 0, fmt.Errorf("%w: frame rate %v outside (0, %d]", das.ErrInvalidParameter, fps, MaxFrameRate)
	}
	return time.Duration(float64(time.Second) / fps), nil
}

// Config controls the scheduler. Zero values take defaults.
type Config struct {
	// FrameRate in Hz; defaults to MaxFrameRate.
	FrameRate float64
	// MaxDrain caps blocks taken per tick; 0 drains everything pending.
	MaxDrain int
	// OnNewData, if set, is called synchronously at most once per tick, in
	// addition to publishing on the hub.
	OnNewData func(Notification)
}

// Stats are lifetime scheduler counters.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	IdleTicks      uint64 `json:"idle_ticks"`
	Blocks         uint64 `json:"blocks"`
	Rows           uint64 `json:"rows"`
	ScaleFailures  uint64 `json:"scale_failures"`
	AppendFailures uint64 `json:"append_failures"`
	Notifications  uint64 `json:"notifications"`
}

// TickResult describes one tick.
type TickResult struct {
	Drained  int
	Appended int
	Skipped  int
	Notified bool
}

// Scheduler is the consumer context. Tick is safe to call from any
// goroutine but ticks never overlap.
type Scheduler struct {
	source   Source
	scaler   *l3scaling.Scaler
	buffer   *l4waterfall.Buffer
	hub      *Hub
	clock    timeutil.Clock
	cfg      Config
	interval time.Duration
	logf     func(string, ...interface{})

	tickMu     sync.Mutex
	scratch    []das.RawBlock
	generation uint64

	ticks, idle, blocks, rows   atomic.Uint64
	scaleFail, appendFail, sent atomic.Uint64
}

// NewScheduler wires the consumer side. hub may be nil.
func NewScheduler(source Source, scaler *l3scaling.Scaler, buffer *l4waterfall.Buffer, hub *Hub, cfg Config, clock timeutil.Clock) (*Scheduler, error) {
	if cfg.FrameRate == 0 {
		cfg.FrameRate = MaxFrameRate
	}
	interval, err := IntervalForRate(cfg.FrameRate)
	if err != nil {
		return nil, err
	}
	if cfg.MaxDrain < 0 {
		return nil, fmt.Errorf("%w: max drain %d", das.ErrInvalidParameter, cfg.MaxDrain)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Scheduler{
		source:   source,
		scaler:   scaler,
		buffer:   buffer,
		hub:      hub,
		clock:    clock,
		cfg:      cfg,
		interval: interval,
		logf:     monitoring.Prefixed("[scheduler]"),
	}, nil
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Hub returns the notification hub.
func (s *Scheduler) Hub() *Hub { return s.hub }

// Tick drains pending blocks and, when any row was appended, notifies once.
// A block that fails to scale or append is counted and skipped.
func (s *Scheduler) Tick() TickResult {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.ticks.Add(1)

	s.scratch = s.source.DrainInto(s.scratch[:0], s.cfg.MaxDrain)
	res := TickResult{Drained: len(s.scratch)}
	if res.Drained == 0 {
		s.idle.Add(1)
		return res
	}

	for i, b := range s.scratch {
		s.scratch[i] = das.RawBlock{}
		if err := b.Validate(); err != nil {
			s.scaleFail.Add(1)
			res.Skipped++
			monitoring.Debugf("[scheduler] skip seq %d: %v", b.Seq, err)
			continue
		}
		s.scaler.Observe(b)
		if _, err := s.scaler.MaybeRecompute(); err != nil {
			monitoring.Debugf("[scheduler] seq %d: %v", b.Seq, err)
		}
		sb, err := s.scaler.Scale(b)
		if err != nil {
			s.scaleFail.Add(1)
			res.Skipped++
			monitoring.Debugf("[scheduler] skip seq %d: scale: %v", b.Seq, err)
			continue
		}
		if err := s.buffer.Append(sb); err != nil {
			s.appendFail.Add(1)
			res.Skipped++
			monitoring.Debugf("[scheduler] skip seq %d: append: %v", b.Seq, err)
			continue
		}
		res.Appended++
		s.rows.Add(uint64(sb.Lines))
	}
	s.blocks.Add(uint64(res.Appended))

	if res.Appended == 0 {
		return res
	}
	s.generation++
	params, _ := s.scaler.Params()
	n := Notification{
		Snapshot:   s.buffer.Snapshot(),
		Params:     params,
		Generation: s.generation,
		Blocks:     res.Appended,
		At:         s.clock.Now(),
	}
	s.hub.Publish(n)
	if s.cfg.OnNewData != nil {
		s.cfg.OnNewData(n)
	}
	s.sent.Add(1)
	res.Notified = true
	return res
}

// Reset clears the scaler and buffer between ticks. A tick in progress
// finishes first, so rows it drained never survive the reset.
func (s *Scheduler) Reset() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.scaler.Reset()
	s.buffer.Reset()
}

// Run ticks at the configured rate until ctx is done. Ticks are driven by
// the timer only; a slow tick delays, never queues, the next one.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	s.logf("render loop started at %.1f Hz", s.cfg.FrameRate)
	for {
		select {
		case <-ctx.Done():
			s.logf("render loop stopped after %d ticks", s.ticks.Load())
			return ctx.Err()
		case <-ticker.C():
			s.Tick()
		}
	}
}

// Stats returns lifetime counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:          s.ticks.Load(),
		IdleTicks:      s.idle.Load(),
		Blocks:         s.blocks.Load(),
		Rows:           s.rows.Load(),
		ScaleFailures:  s.scaleFail.Load(),
		AppendFailures: s.appendFail.Load(),
		Notifications:  s.sent.Load(),
	}
}
