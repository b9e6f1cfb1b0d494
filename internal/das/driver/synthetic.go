package driver

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// SyntheticConfig shapes the generated signal.
type SyntheticConfig struct {
	Seed int64
	// NoiseLevel is the standard deviation of additive Gaussian noise.
	NoiseLevel float64
	// SpikeProbability is the per-sample chance of a large outlier.
	SpikeProbability float64
	// MalformedEvery emits a truncated buffer every n callbacks (0 = never).
	MalformedEvery int
	// Missing makes Open fail as if no device were attached.
	Missing bool
	Clock   timeutil.Clock
}

// SyntheticDriver generates plausible fibre data: a vehicle-like disturbance
// travelling along the fibre over a standing background wave, paced at the
// configured scan rate.
type SyntheticDriver struct {
	cfg SyntheticConfig

	mu      sync.Mutex
	opened  bool
	params  Params
	stop    chan struct{}
	done    chan struct{}
	emitted uint64
}

// NewSyntheticDriver returns a generator with defaults filled in.
func NewSyntheticDriver(cfg SyntheticConfig) *SyntheticDriver {
	if cfg.NoiseLevel == 0 {
		cfg.NoiseLevel = 0.05
	}
	if cfg.SpikeProbability == 0 {
		cfg.SpikeProbability = 1e-4
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SyntheticDriver{cfg: cfg}
}

func (d *SyntheticDriver) Name() string { return "synthetic" }

func (d *SyntheticDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.Missing {
		return fmt.Errorf("%w: synthetic source disabled", das.ErrDeviceNotFound)
	}
	d.opened = true
	return nil
}

func (d *SyntheticDriver) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	d.params = p
	return nil
}

func (d *SyntheticDriver) Start(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	if d.stop != nil {
		return ErrRunning
	}
	rate := d.params.CallbacksPerSecond()
	if rate <= 0 {
		return fmt.Errorf("%w: not configured", das.ErrDeviceStartFailed)
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	interval := time.Duration(float64(time.Second) / rate)
	go d.run(cb, d.params, interval, d.stop, d.done)
	monitoring.Logf("[driver/synthetic] generating %dx%d blocks every %v", d.params.Lines*d.params.ReadBlockCount,
		d.params.SamplesPerLine, interval)
	return nil
}

func (d *SyntheticDriver) run(cb Callback, p Params, interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := d.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()

	gen := newWaveGenerator(p, d.cfg)
	buf := make([]byte, p.BufferBytes())
	var n uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}
		gen.fill(buf)
		n++
		out := buf
		if d.cfg.MalformedEvery > 0 && n%uint64(d.cfg.MalformedEvery) == 0 {
			out = buf[:len(buf)-3]
		}
		cb(out)
		d.mu.Lock()
		d.emitted++
		d.mu.Unlock()
	}
}

// Stop halts generation and waits for the in-flight callback.
func (d *SyntheticDriver) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (d *SyntheticDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

// Emitted counts callbacks delivered since construction.
func (d *SyntheticDriver) Emitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitted
}

type waveGenerator struct {
	p     Params
	cfg   SyntheticConfig
	rng   *rand.Rand
	line  uint64
	speed float64 // samples per line of travel
}

func newWaveGenerator(p Params, cfg SyntheticConfig) *waveGenerator {
	return &waveGenerator{
		p:     p,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		speed: float64(p.SamplesPerLine) / (p.ScanRate.Hz() * 4), // crosses the fibre in ~4s
	}
}

func (g *waveGenerator) fill(buf []byte) {
	spl := g.p.SamplesPerLine
	lines := len(buf) / (spl * 4)
	hz := g.p.ScanRate.Hz()
	for l := 0; l < lines; l++ {
		t := float64(g.line) / hz
		centre := math.Mod(float64(g.line)*g.speed, float64(spl))
		for s := 0; s < spl; s++ {
			v := 0.2 * math.Sin(2*math.Pi*(3*t-float64(s)/64))
			dx := float64(s) - centre
			v += math.Exp(-dx*dx/50) * math.Sin(2*math.Pi*40*t)
			v += g.rng.NormFloat64() * g.cfg.NoiseLevel
			if g.rng.Float64() < g.cfg.SpikeProbability {
				v += 50 * (g.rng.Float64() - 0.5)
			}
			binary.LittleEndian.PutUint32(buf[(l*spl+s)*4:], math.Float32bits(float32(v)))
		}
		g.line++
	}
}
