package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/security"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// PCAPConfig configures capture replay.
type PCAPConfig struct {
	// Path of the capture file.
	Path string
	// AllowedDir, if set, restricts Path to that directory tree.
	AllowedDir string
	// Port filters UDP packets by destination port; 0 accepts any.
	Port int
	// SpeedMultiplier scales capture-time pacing; 0 means real time, a
	// negative value replays as fast as possible.
	SpeedMultiplier float64
	// Loop restarts from the beginning at end of file.
	Loop  bool
	Clock timeutil.Clock
}

// PCAPDriver replays block frames captured from a UDP feed, paced by the
// original capture timestamps.
type PCAPDriver struct {
	cfg PCAPConfig

	mu     sync.Mutex
	opened bool
	stop   chan struct{}
	done   chan struct{}

	frames   atomic.Uint64
	skipped  atomic.Uint64
	finished atomic.Bool
}

// NewPCAPDriver returns a replay driver for cfg.Path.
func NewPCAPDriver(cfg PCAPConfig) *PCAPDriver {
	if cfg.SpeedMultiplier == 0 {
		cfg.SpeedMultiplier = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &PCAPDriver{cfg: cfg}
}

func (d *PCAPDriver) Name() string { return "pcap " + d.cfg.Path }

// Open checks the capture exists and has a readable header.
func (d *PCAPDriver) Open() error {
	if d.cfg.AllowedDir != "" {
		if err := security.ValidatePathWithinDirectory(d.cfg.Path, d.cfg.AllowedDir); err != nil {
			return fmt.Errorf("%w: %v", das.ErrDeviceNotFound, err)
		}
	}
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", das.ErrDeviceNotFound, err)
	}
	defer f.Close()
	if _, err := pcapgo.NewReader(f); err != nil {
		return fmt.Errorf("%w: %s is not a pcap file: %v", das.ErrDeviceNotFound, d.cfg.Path, err)
	}
	d.mu.Lock()
	d.opened = true
	d.mu.Unlock()
	return nil
}

func (d *PCAPDriver) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	return nil
}

func (d *PCAPDriver) Start(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	if d.stop != nil {
		return ErrRunning
	}
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", das.ErrDeviceStartFailed, err)
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.finished.Store(false)
	go d.replay(f, cb, d.stop, d.done)
	return nil
}

func (d *PCAPDriver) replay(f *os.File, cb Callback, stop, done chan struct{}) {
	defer close(done)
	defer f.Close()
	for {
		err := d.replayOnce(f, cb, stop)
		if errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			monitoring.Logf("[driver/pcap] replay of %s failed: %v", d.cfg.Path, err)
			d.finished.Store(true)
			return
		}
		if !d.cfg.Loop {
			monitoring.Logf("[driver/pcap] replay of %s complete: %d frames, %d skipped",
				d.cfg.Path, d.frames.Load(), d.skipped.Load())
			d.finished.Store(true)
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			monitoring.Logf("[driver/pcap] rewind %s: %v", d.cfg.Path, err)
			d.finished.Store(true)
			return
		}
	}
}

var errStopped = errors.New("acquisition stopped")

func (d *PCAPDriver) replayOnce(f io.Reader, cb Callback, stop chan struct{}) error {
	r, err := pcapgo.NewReader(f)
	if err != nil {
		return err
	}
	var last time.Time
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if !last.IsZero() && d.cfg.SpeedMultiplier > 0 {
			delay := time.Duration(float64(ci.Timestamp.Sub(last)) / d.cfg.SpeedMultiplier)
			if delay > 0 {
				timer := d.cfg.Clock.NewTimer(delay)
				select {
				case <-stop:
					timer.Stop()
					return errStopped
				case <-timer.C():
				}
			}
		}
		last = ci.Timestamp

		select {
		case <-stop:
			return errStopped
		default:
		}

		payload, ok := d.udpPayload(gopacket.NewPacket(data, r.LinkType(), gopacket.NoCopy))
		if !ok {
			d.skipped.Add(1)
			continue
		}
		frame, err := l1blocks.UnmarshalFrame(payload)
		if err != nil {
			d.skipped.Add(1)
			monitoring.Debugf("[driver/pcap] skip packet: %v", err)
			continue
		}
		d.frames.Add(1)
		cb(frame.Payload)
	}
}

func (d *PCAPDriver) udpPayload(pkt gopacket.Packet) ([]byte, bool) {
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return nil, false
	}
	if d.cfg.Port != 0 && int(udp.DstPort) != d.cfg.Port {
		return nil, false
	}
	return udp.Payload, true
}

func (d *PCAPDriver) Stop() error {
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

func (d *PCAPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

// Frames counts replayed block frames.
func (d *PCAPDriver) Frames() uint64 { return d.frames.Load() }

// Skipped counts packets that were not block frames for the port.
func (d *PCAPDriver) Skipped() uint64 { return d.skipped.Load() }

// Finished reports whether a non-looping replay reached end of file.
func (d *PCAPDriver) Finished() bool { return d.finished.Load() }
