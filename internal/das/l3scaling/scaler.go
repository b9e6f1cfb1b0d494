package l3scaling

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// ErrNoParameters is returned by Scale before the first successful
// recompute.
var ErrNoParameters = errors.New("l3scaling: scaling parameters not yet computed")

// Config sets the recompute cadence and the rolling window bounds.
type Config struct {
	// EveryBlocks triggers a recompute after this many observed blocks.
	EveryBlocks int
	// Interval triggers a recompute when this much time has passed since the
	// last one.
	Interval time.Duration
	// WindowBlocks is how many recent blocks feed the percentiles.
	WindowBlocks int
	// MaxWindowSamples caps the values sorted per recompute.
	MaxWindowSamples int
	// OnRecompute, if set, is called with each newly published parameter set.
	OnRecompute func(das.ScalingParameters)
}

// DefaultConfig recomputes every 16 blocks or 500ms from the last 8 blocks.
func DefaultConfig() Config {
	return Config{
		EveryBlocks:      16,
		Interval:         500 * time.Millisecond,
		WindowBlocks:     8,
		MaxWindowSamples: 1 << 18,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EveryBlocks <= 0 {
		c.EveryBlocks = d.EveryBlocks
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.WindowBlocks <= 0 {
		c.WindowBlocks = d.WindowBlocks
	}
	if c.MaxWindowSamples <= 0 {
		c.MaxWindowSamples = d.MaxWindowSamples
	}
	return c
}

// Scaler keeps the rolling window and the current parameters. Observe,
// MaybeRecompute and Scale are called from the render scheduler; Params,
// Settings and SetSettings may be called from any goroutine.
type Scaler struct {
	cfg   Config
	clock timeutil.Clock

	settings atomic.Pointer[Settings]
	params   atomic.Pointer[das.ScalingParameters]
	dirty    atomic.Bool

	mu             sync.Mutex
	window         []das.RawBlock // oldest first
	sinceRecompute int
	lastRecompute  time.Time

	recomputes atomic.Uint64
	failures   atomic.Uint64
}

// NewScaler validates settings and returns a Scaler with an empty window.
func NewScaler(cfg Config, settings Settings, clock timeutil.Clock) (*Scaler, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Scaler{cfg: cfg.withDefaults(), clock: clock}
	s.settings.Store(&settings)
	return s, nil
}

// Settings returns the active settings.
func (s *Scaler) Settings() Settings {
	return *s.settings.Load()
}

// SetSettings swaps in new settings; the next MaybeRecompute recomputes
// regardless of cadence.
func (s *Scaler) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.settings.Store(&settings)
	s.dirty.Store(true)
	return nil
}

// Params returns the published parameters, if any.
func (s *Scaler) Params() (das.ScalingParameters, bool) {
	p := s.params.Load()
	if p == nil {
		return das.ScalingParameters{}, false
	}
	return *p, true
}

// Recomputes counts successful parameter publications.
func (s *Scaler) Recomputes() uint64 { return s.recomputes.Load() }

// Failures counts recomputes that produced no parameters.
func (s *Scaler) Failures() uint64 { return s.failures.Load() }

// Observe adds b to the rolling window, evicting old blocks beyond
// WindowBlocks or MaxWindowSamples. The newest block is always kept.
func (s *Scaler) Observe(b das.RawBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, b)
	s.sinceRecompute++

	total := 0
	for _, w := range s.window {
		total += len(w.Data)
	}
	drop := 0
	for len(s.window)-drop > 1 &&
		(len(s.window)-drop > s.cfg.WindowBlocks || total > s.cfg.MaxWindowSamples) {
		total -= len(s.window[drop].Data)
		drop++
	}
	if drop > 0 {
		n := copy(s.window, s.window[drop:])
		clear(s.window[n:])
		s.window = s.window[:n]
	}
}

// MaybeRecompute recomputes the parameters when none exist yet, when the
// settings changed, or when the block count or interval cadence is due. It
// reports whether new parameters were published. On failure the previous
// parameters stay in place.
func (s *Scaler) MaybeRecompute() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 {
		return false, nil
	}
	now := s.clock.Now()
	due := s.params.Load() == nil ||
		s.dirty.Load() ||
		s.sinceRecompute >= s.cfg.EveryBlocks ||
		now.Sub(s.lastRecompute) >= s.cfg.Interval
	if !due {
		return false, nil
	}

	s.dirty.Store(false)
	s.sinceRecompute = 0
	s.lastRecompute = now

	p, err := ComputeParameters(s.window, s.Settings(), s.cfg.MaxWindowSamples)
	if err != nil {
		s.failures.Add(1)
		return false, fmt.Errorf("recompute scaling parameters: %w", err)
	}
	p.ComputedAt = now
	s.params.Store(&p)
	s.recomputes.Add(1)
	if s.cfg.OnRecompute != nil {
		s.cfg.OnRecompute(p)
	}
	return true, nil
}

// Scale maps b with the current parameters and settings.
func (s *Scaler) Scale(b das.RawBlock) (das.ScaledBlock, error) {
	p := s.params.Load()
	if p == nil {
		return das.ScaledBlock{}, ErrNoParameters
	}
	if err := b.Validate(); err != nil {
		return das.ScaledBlock{}, err
	}
	settings := s.settings.Load()
	return Apply(b, *p, *settings), nil
}

// Reset empties the window and forgets the parameters, for a new session.
func (s *Scaler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.window)
	s.window = s.window[:0]
	s.sinceRecompute = 0
	s.lastRecompute = time.Time{}
	s.params.Store(nil)
}
