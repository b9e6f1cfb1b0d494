package driver

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
)

// MaxDatagramPayload is the largest UDP payload accepted.
const MaxDatagramPayload = 65507

// frameOverhead bounds the protowire fields around the payload.
const frameOverhead = 64

// UDPConfig configures a UDPDriver.
type UDPConfig struct {
	// Address to listen on, e.g. ":7400".
	Address string
	// RcvBuf is the socket receive buffer size in bytes.
	RcvBuf int
	// ReadTimeout bounds each read so Stop is noticed promptly.
	ReadTimeout time.Duration
}

// UDPDriver receives one block frame per datagram, as emitted by
// network.BlockForwarder or a remote interrogator gateway.
type UDPDriver struct {
	cfg UDPConfig

	mu   sync.Mutex
	conn *net.UDPConn
	stop chan struct{}
	done chan struct{}

	frames    atomic.Uint64
	malformed atomic.Uint64
}

// NewUDPDriver returns a driver listening on cfg.Address once opened.
func NewUDPDriver(cfg UDPConfig) *UDPDriver {
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = 4 << 20
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	return &UDPDriver{cfg: cfg}
}

func (d *UDPDriver) Name() string { return "udp " + d.cfg.Address }

// Open binds the socket. A bind failure means the source is unavailable.
func (d *UDPDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", d.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", das.ErrDeviceNotFound, d.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", das.ErrDeviceNotFound, d.cfg.Address, err)
	}
	if err := conn.SetReadBuffer(d.cfg.RcvBuf); err != nil {
		monitoring.Logf("[driver/udp] failed to set receive buffer to %d: %v", d.cfg.RcvBuf, err)
	}
	d.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Open.
func (d *UDPDriver) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Configure rejects block sizes that cannot fit in a datagram.
func (d *UDPDriver) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if n := p.BufferBytes(); n > MaxDatagramPayload-frameOverhead {
		return fmt.Errorf("%w: %d-byte blocks do not fit in a UDP datagram", das.ErrInvalidParameter, n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrNotOpen
	}
	return nil
}

func (d *UDPDriver) Start(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrNotOpen
	}
	if d.stop != nil {
		return ErrRunning
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.readLoop(d.conn, cb, d.stop, d.done)
	monitoring.Logf("[driver/udp] listening on %s", d.conn.LocalAddr())
	return nil
}

func (d *UDPDriver) readLoop(conn *net.UDPConn, cb Callback, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, MaxDatagramPayload)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := conn.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout)); err != nil {
			monitoring.Logf("[driver/udp] set deadline: %v", err)
			return
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			monitoring.Logf("[driver/udp] read: %v", err)
			continue
		}
		f, err := l1blocks.UnmarshalFrame(buf[:n])
		if err != nil {
			d.malformed.Add(1)
			monitoring.Debugf("[driver/udp] drop datagram of %d bytes: %v", n, err)
			continue
		}
		d.frames.Add(1)
		cb(f.Payload)
	}
}

// Stop ends the read loop and waits for the in-flight callback.
func (d *UDPDriver) Stop() error {
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

// Close releases the socket.
func (d *UDPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Frames counts datagrams delivered to the callback.
func (d *UDPDriver) Frames() uint64 { return d.frames.Load() }

// Malformed counts datagrams that were not block frames.
func (d *UDPDriver) Malformed() uint64 { return d.malformed.Load() }
