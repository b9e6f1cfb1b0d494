package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/das/l2queue"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// Config controls session behaviour. Zero values take defaults.
type Config struct {
	// StartTimeout bounds driver.Start; defaults to 3s.
	StartTimeout time.Duration
	// QueueCapacity fixes the queue size; 0 derives about one second of
	// callbacks from the acquisition parameters.
	QueueCapacity int
	// MinQueueCapacity floors the derived capacity; defaults to 4.
	MinQueueCapacity int
	QueuePolicy      l2queue.Policy
	// StatsLogInterval is the period of the counters log line; defaults to
	// 10s, negative disables it.
	StatsLogInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StartTimeout <= 0 {
		c.StartTimeout = 3 * time.Second
	}
	if c.MinQueueCapacity <= 0 {
		c.MinQueueCapacity = 4
	}
	if c.StatsLogInterval == 0 {
		c.StatsLogInterval = 10 * time.Second
	}
	return c
}

// Options are the session's collaborators. Scaler and Buffer are shared
// with the render scheduler and reset on every start. Ledger and Forwarder
// may be nil.
type Options struct {
	Driver    driver.Driver
	Scaler    *l3scaling.Scaler
	Buffer    *l4waterfall.Buffer
	Ledger    Ledger
	Forwarder Forwarder
	Clock     timeutil.Clock
}

// Status is a point-in-time view of the session.
type Status struct {
	State         State           `json:"state"`
	ID            string          `json:"session_id,omitempty"`
	Driver        string          `json:"driver"`
	StartedAt     time.Time       `json:"started_at,omitempty"`
	StoppedAt     time.Time       `json:"stopped_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Drops         uint64          `json:"drops"`
	Rejected      uint64          `json:"rejected"`
	QueueLen      int             `json:"queue_len"`
	QueueCapacity int             `json:"queue_capacity"`
	QueuePolicy   string          `json:"queue_policy"`
	Counts        l1blocks.Counts `json:"counts"`
	Params        *driver.Params  `json:"params,omitempty"`
	Forward       *ForwardStatus  `json:"forward,omitempty"`
}

// Session runs one acquisition at a time.
type Session struct {
	cfg    Config
	drv    driver.Driver
	scaler *l3scaling.Scaler
	buffer *l4waterfall.Buffer
	ledger Ledger
	fwd    Forwarder
	clock  timeutil.Clock
	logf   func(string, ...interface{})

	decoder *l1blocks.Decoder
	stats   *l1blocks.Stats
	queue   atomic.Pointer[l2queue.Queue]

	// accepting gates the callback; it is cleared only after the driver
	// has confirmed stop.
	accepting atomic.Bool

	// opMu serialises Start and Stop.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	record    Record
	lastErr   error
	params    *driver.Params
	cancelLog context.CancelFunc
	logDone   chan struct{}
	// aborting is closed once the teardown of a timed-out start returns.
	aborting chan struct{}
	consumer Consumer
	// forwarder counters at session start
	fwdBase ForwardStatus
}

// New builds an idle session.
func New(cfg Config, opts Options) (*Session, error) {
	if opts.Driver == nil || opts.Scaler == nil || opts.Buffer == nil {
		return nil, errors.New("session: driver, scaler and buffer are required")
	}
	cfg = cfg.withDefaults()
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	p := driver.DefaultParams()
	dec, err := l1blocks.NewDecoder(p.Shape(), opts.Clock)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		drv:     opts.Driver,
		scaler:  opts.Scaler,
		buffer:  opts.Buffer,
		ledger:  opts.Ledger,
		fwd:     opts.Forwarder,
		clock:   opts.Clock,
		logf:    monitoring.Prefixed("[session]"),
		decoder: dec,
		stats:   l1blocks.NewStats(opts.Clock),
		state:   StateIdle,
	}
	q, err := s.newQueue(p)
	if err != nil {
		return nil, err
	}
	s.queue.Store(q)
	return s, nil
}

func (s *Session) newQueue(p driver.Params) (*l2queue.Queue, error) {
	capacity := s.cfg.QueueCapacity
	if capacity <= 0 {
		capacity = l2queue.CapacityForRate(p.CallbacksPerSecond(), s.cfg.MinQueueCapacity)
	}
	return l2queue.New(capacity, s.cfg.QueuePolicy)
}

// DrainInto implements pipeline.Source over the current queue.
func (s *Session) DrainInto(dst []das.RawBlock, maxItems int) []das.RawBlock {
	return s.queue.Load().DrainInto(dst, maxItems)
}

// Start opens, configures and starts the driver with p. Failures are
// session-level: the session enters StateFailed and the error wraps
// das.ErrDeviceNotFound, das.ErrInvalidParameter or das.ErrDeviceStartFailed.
func (s *Session) Start(ctx context.Context, p driver.Params) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return das.ErrSessionActive
	}
	if s.aborting != nil {
		select {
		case <-s.aborting:
			s.aborting = nil
		default:
			s.mu.Unlock()
			return fmt.Errorf("%w: previous start is still shutting down", das.ErrSessionActive)
		}
	}
	s.record = Record{
		ID:        uuid.NewString(),
		Driver:    driver.NameOf(s.drv),
		Params:    p,
		State:     StateRunning,
		StartedAt: s.clock.Now(),
	}
	rec := s.record
	s.mu.Unlock()

	if s.ledger != nil {
		if err := s.ledger.Begin(ctx, rec); err != nil {
			s.logf("ledger: record start of %s: %v", rec.ID, err)
		}
	}

	if err := s.drv.Open(); err != nil {
		return s.fail(ctx, wrapAs(das.ErrDeviceNotFound, "open", err), false)
	}
	if err := s.drv.Configure(p); err != nil {
		return s.fail(ctx, wrapAs(das.ErrInvalidParameter, "configure", err), true)
	}
	if err := s.decoder.Reconfigure(p.Shape()); err != nil {
		return s.fail(ctx, wrapAs(das.ErrInvalidParameter, "configure", err), true)
	}
	q, err := s.newQueue(p)
	if err != nil {
		return s.fail(ctx, err, true)
	}
	s.queue.Store(q)
	s.stats.Reset()
	s.resetRender()
	s.mu.Lock()
	s.fwdBase = s.forwardCounts()
	s.mu.Unlock()

	s.accepting.Store(true)
	errc := make(chan error, 1)
	go func() { errc <- s.drv.Start(s.onBuffer) }()

	timer := s.clock.NewTimer(s.cfg.StartTimeout)
	var startErr error
	select {
	case startErr = <-errc:
		timer.Stop()
		if startErr != nil {
			s.accepting.Store(false)
			q.Clear()
			return s.fail(ctx, wrapAs(das.ErrDeviceStartFailed, "start", startErr), true)
		}
	case <-timer.C():
		startErr = fmt.Errorf("%w: driver did not start within %v", das.ErrDeviceStartFailed, s.cfg.StartTimeout)
	case <-ctx.Done():
		timer.Stop()
		startErr = fmt.Errorf("%w: %v", das.ErrDeviceStartFailed, ctx.Err())
	}
	if startErr != nil {
		s.abortStart(errc, q)
		return s.fail(ctx, startErr, false)
	}

	s.mu.Lock()
	s.state = StateRunning
	s.lastErr = nil
	s.params = &p
	s.mu.Unlock()
	s.startStatsLog()
	s.logf("session %s started on %s: %dx%d at %s, queue %d (%s)", rec.ID, rec.Driver,
		p.Lines*p.ReadBlockCount, p.SamplesPerLine, p.ScanRate, q.Capacity(), q.Policy())
	return nil
}

// AttachConsumer makes Start reset the scaler and buffer through c, so a
// reset waits for any tick in progress. Without a consumer Start resets them
// directly.
func (s *Session) AttachConsumer(c Consumer) {
	s.mu.Lock()
	s.consumer = c
	s.mu.Unlock()
}

func (s *Session) resetRender() {
	s.mu.Lock()
	c := s.consumer
	s.mu.Unlock()
	if c != nil {
		c.Reset()
		return
	}
	s.scaler.Reset()
	s.buffer.Reset()
}

func (s *Session) forwardCounts() ForwardStatus {
	fc, ok := s.fwd.(ForwardCounter)
	if !ok {
		return ForwardStatus{}
	}
	return ForwardStatus{Sent: fc.Sent(), Dropped: fc.Dropped()}
}

// abortStart stops a driver whose Start has not returned, without waiting.
func (s *Session) abortStart(errc <-chan error, q *l2queue.Queue) {
	done := make(chan struct{})
	s.mu.Lock()
	s.aborting = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		if err := s.drv.Stop(); err != nil {
			s.logf("stop after failed start: %v", err)
		}
		s.accepting.Store(false)
		if err := <-errc; err == nil {
			s.drv.Stop()
		}
		q.Clear()
		s.decoder.Reset()
		s.drv.Close()
	}()
}

func wrapAs(kind error, op string, err error) error {
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

func (s *Session) fail(ctx context.Context, err error, closeDriver bool) error {
	if closeDriver {
		s.drv.Close()
	}
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.record.State = StateFailed
	s.record.StoppedAt = s.clock.Now()
	s.record.Error = err.Error()
	rec := s.record
	s.mu.Unlock()

	s.logf("session %s failed to start: %v", rec.ID, err)
	if s.ledger != nil {
		if lerr := s.ledger.Finish(ctx, rec); lerr != nil {
			s.logf("ledger: record failure of %s: %v", rec.ID, lerr)
		}
	}
	return err
}

// onBuffer runs on the driver's thread: decode, count, enqueue.
func (s *Session) onBuffer(buf []byte) {
	if !s.accepting.Load() {
		return
	}
	s.stats.AddBuffer(len(buf))
	b, err := s.decoder.Decode(buf)
	if err != nil {
		s.stats.AddFailure(err)
		monitoring.Debugf("[session] drop %d-byte buffer: %v", len(buf), err)
		return
	}
	s.stats.AddDecoded()
	if err := s.queue.Load().TryPush(b); err != nil {
		monitoring.Debugf("[session] seq %d: %v", b.Seq, err)
	}
	if s.fwd != nil {
		s.fwd.ForwardAsync(b)
	}
}

// Stop halts acquisition: the driver is stopped first, then pending blocks
// are discarded, then the sequence counter is reset.
func (s *Session) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return das.ErrSessionNotActive
	}
	s.mu.Unlock()

	stopErr := s.drv.Stop()
	s.accepting.Store(false)
	q := s.queue.Load()
	discarded := q.Clear()
	s.decoder.Reset()
	if err := s.drv.Close(); err != nil {
		s.logf("close driver: %v", err)
	}
	s.stopStatsLog()

	totals := s.stats.Totals()
	s.mu.Lock()
	s.state = StateIdle
	s.record.State = StateIdle
	s.record.StoppedAt = s.clock.Now()
	s.record.Buffers = totals.Buffers
	s.record.Decoded = totals.Decoded
	s.record.DecodeFailures = totals.FailureTotal()
	s.record.Drops = q.Drops()
	s.record.Rejected = q.Rejected()
	s.record.Discarded = discarded
	if stopErr != nil {
		s.record.Error = stopErr.Error()
	}
	rec := s.record
	s.mu.Unlock()

	s.logf("session %s stopped after %v: %d buffers, %d decoded, %d failed, %d dropped, %d discarded",
		rec.ID, rec.StoppedAt.Sub(rec.StartedAt).Round(time.Millisecond), rec.Buffers, rec.Decoded,
		rec.DecodeFailures, rec.Drops, discarded)
	if s.ledger != nil {
		if err := s.ledger.Finish(ctx, rec); err != nil {
			s.logf("ledger: record stop of %s: %v", rec.ID, err)
		}
	}
	if stopErr != nil {
		return fmt.Errorf("stop driver: %w", stopErr)
	}
	return nil
}

func (s *Session) startStatsLog() {
	if s.cfg.StatsLogInterval < 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancelLog, s.logDone = cancel, done
	s.mu.Unlock()
	s.stats.GetAndReset()
	go func() {
		defer close(done)
		ticker := s.clock.NewTicker(s.cfg.StatsLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.LogStats()
			}
		}
	}()
}

func (s *Session) stopStatsLog() {
	s.mu.Lock()
	cancel, done := s.cancelLog, s.logDone
	s.cancelLog, s.logDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// LogStats writes one line of interval counters and resets them.
func (s *Session) LogStats() {
	c, d := s.stats.GetAndReset()
	q := s.queue.Load()
	s.logf("%s; queue %d/%d, %d dropped, %d rejected", c.Format(d), q.Len(), q.Capacity(), q.Drops(), q.Rejected())
}

// DropCount returns blocks evicted by the drop-oldest policy this session.
func (s *Session) DropCount() uint64 {
	return s.queue.Load().Drops()
}

// Rejected returns blocks refused under the reject policy this session.
func (s *Session) Rejected() uint64 {
	return s.queue.Load().Rejected()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent session-level failure, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Status returns a snapshot of state and counters.
func (s *Session) Status() Status {
	q := s.queue.Load()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:         s.state,
		ID:            s.record.ID,
		Driver:        driver.NameOf(s.drv),
		StartedAt:     s.record.StartedAt,
		StoppedAt:     s.record.StoppedAt,
		Drops:         q.Drops(),
		Rejected:      q.Rejected(),
		QueueLen:      q.Len(),
		QueueCapacity: q.Capacity(),
		QueuePolicy:   q.Policy().String(),
		Counts:        s.stats.Totals(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
		st.ErrorKind = das.Kind(s.lastErr)
	}
	if s.params != nil {
		p := *s.params
		st.Params = &p
	}
	if _, ok := s.fwd.(ForwardCounter); ok {
		cur := s.forwardCounts()
		st.Forward = &ForwardStatus{
			Sent:    cur.Sent - s.fwdBase.Sent,
			Dropped: cur.Dropped - s.fwdBase.Dropped,
		}
	}
	return st
}
