package driver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
)

// SerialPort is the subset of serial.Port the serial driver uses.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

// PortOpener opens a serial port. Tests substitute an in-memory pipe.
type PortOpener func(path string, mode *serial.Mode) (SerialPort, error)

// OpenSerialPort opens a real device through go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (SerialPort, error) {
	return serial.Open(path, mode)
}

// SerialConfig describes the serial link carrying length-delimited block
// frames.
type SerialConfig struct {
	Path     string `json:"path"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
	// ReadTimeout bounds each port read so Stop is noticed promptly.
	ReadTimeout time.Duration `json:"-"`
	// MaxFrameSize defaults to l1blocks.DefaultMaxFrameSize.
	MaxFrameSize int        `json:"-"`
	Opener       PortOpener `json:"-"`
}

// Mode validates the line settings and converts them for serial.Open.
// Unset fields default to 921600 8N1.
func (c SerialConfig) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: c.BaudRate, DataBits: c.DataBits, StopBits: serial.OneStopBit}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 921600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	if mode.DataBits < 5 || mode.DataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %d not in 5..8", das.ErrInvalidParameter, mode.DataBits)
	}
	switch c.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: stop bits %d", das.ErrInvalidParameter, c.StopBits)
	}
	switch strings.ToUpper(strings.TrimSpace(c.Parity)) {
	case "", "N", "NONE":
		mode.Parity = serial.NoParity
	case "E", "EVEN":
		mode.Parity = serial.EvenParity
	case "O", "ODD":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("%w: parity %q", das.ErrInvalidParameter, c.Parity)
	}
	return mode, nil
}

// SerialDriver reads uvarint-length-delimited block frames from a serial
// port.
type SerialDriver struct {
	cfg SerialConfig

	mu   sync.Mutex
	port SerialPort
	stop chan struct{}
	done chan struct{}

	frames atomic.Uint64
}

// NewSerialDriver returns a driver for cfg.Path.
func NewSerialDriver(cfg SerialConfig) *SerialDriver {
	if cfg.Opener == nil {
		cfg.Opener = OpenSerialPort
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = l1blocks.DefaultMaxFrameSize
	}
	return &SerialDriver{cfg: cfg}
}

func (d *SerialDriver) Name() string { return "serial " + d.cfg.Path }

func (d *SerialDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port != nil {
		return nil
	}
	mode, err := d.cfg.Mode()
	if err != nil {
		return err
	}
	port, err := d.cfg.Opener(d.cfg.Path, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", das.ErrDeviceNotFound, d.cfg.Path, err)
	}
	if err := port.SetReadTimeout(d.cfg.ReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: set read timeout on %s: %v", das.ErrDeviceNotFound, d.cfg.Path, err)
	}
	d.port = port
	return nil
}

func (d *SerialDriver) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if n := p.BufferBytes(); n > d.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d-byte blocks exceed the %d-byte frame limit", das.ErrInvalidParameter, n, d.cfg.MaxFrameSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return ErrNotOpen
	}
	return nil
}

func (d *SerialDriver) Start(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return ErrNotOpen
	}
	if d.stop != nil {
		return ErrRunning
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.readLoop(d.port, cb, d.stop, d.done)
	return nil
}

// stoppableReader retries the zero-byte reads a timed-out serial read
// produces until stop closes.
type stoppableReader struct {
	r    io.Reader
	stop chan struct{}
}

func (s stoppableReader) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-s.stop:
			return 0, errStopped
		default:
		}
	}
}

func (d *SerialDriver) readLoop(port SerialPort, cb Callback, stop, done chan struct{}) {
	defer close(done)
	r := bufio.NewReaderSize(stoppableReader{r: port, stop: stop}, 64<<10)
	for {
		f, err := l1blocks.ReadDelimited(r, d.cfg.MaxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, errStopped):
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe):
				monitoring.Logf("[driver/serial] %s closed", d.cfg.Path)
			default:
				// Framing is lost; there is no resync marker on the link.
				monitoring.Logf("[driver/serial] %s: %v", d.cfg.Path, err)
			}
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		d.frames.Add(1)
		cb(f.Payload)
	}
}

// Stop waits for the read loop to observe the stop signal.
func (d *SerialDriver) Stop() error {
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

func (d *SerialDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.port == nil {
		return nil
	}
	err := d.port.Close()
	d.port = nil
	return err
}

// Frames counts frames delivered to the callback.
func (d *SerialDriver) Frames() uint64 { return d.frames.Load() }
