// Package network forwards decoded blocks to another host as UDP block
// frames, the same framing the UDP driver receives.
package network

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

// MaxDatagramPayload is the largest frame the forwarder sends.
const MaxDatagramPayload = 65507

// frameOverhead bounds the frame fields other than the payload.
const frameOverhead = 64

// BlockForwarder sends blocks to a UDP address from its own goroutine.
// Blocks larger than a datagram are split into frames of equal height.
type BlockForwarder struct {
	conn        *net.UDPConn
	channel     chan das.RawBlock
	logInterval time.Duration
	clock       timeutil.Clock
	address     string

	seq     uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewBlockForwarder dials addr. Sent and Dropped report its traffic.
func NewBlockForwarder(addr string, logInterval time.Duration, clock timeutil.Clock) (*BlockForwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve forward address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if logInterval <= 0 {
		logInterval = 10 * time.Second
	}
	return &BlockForwarder{
		conn:        conn,
		channel:     make(chan das.RawBlock, 64),
		logInterval: logInterval,
		clock:       clock,
		address:     addr,
	}, nil
}

// LinesPerFrame returns the largest divisor of lines whose frame fits in a
// datagram, or 0 if not even one line fits.
func LinesPerFrame(lines, samplesPerLine int) int {
	lineBytes := samplesPerLine * 4
	for n := lines; n >= 1; n-- {
		if lines%n == 0 && n*lineBytes+frameOverhead <= MaxDatagramPayload {
			return n
		}
	}
	return 0
}

// Start runs the send loop until ctx is done.
func (f *BlockForwarder) Start(ctx context.Context) {
	go func() {
		failures := 0
		var lastErr error
		var lastDropped uint64
		ticker := f.clock.NewTicker(f.logInterval)
		defer ticker.Stop()
		payload := make([]byte, 0, MaxDatagramPayload)
		frame := make([]byte, 0, MaxDatagramPayload)
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-f.channel:
				if err := f.send(b, payload, frame); err != nil {
					failures++
					lastErr = err
				}
			case <-ticker.C():
				if failures > 0 {
					monitoring.Logf("[network] %d forwarded blocks failed to %s (latest: %v)", failures, f.address, lastErr)
					failures, lastErr = 0, nil
				}
				if d := f.dropped.Load(); d > lastDropped {
					monitoring.Logf("[network] dropped %d blocks for %s (queue full)", d-lastDropped, f.address)
					lastDropped = d
				}
			}
		}
	}()
	monitoring.Logf("[network] forwarding blocks to %s", f.address)
}

func (f *BlockForwarder) send(b das.RawBlock, payloadBuf, frameBuf []byte) error {
	n := LinesPerFrame(b.Lines, b.SamplesPerLine)
	if n == 0 {
		return fmt.Errorf("%d-sample lines exceed a datagram", b.SamplesPerLine)
	}
	stride := n * b.SamplesPerLine
	for off := 0; off < len(b.Data); off += stride {
		payload := l1blocks.EncodeSamples(payloadBuf[:0], b.Data[off:off+stride])
		frame := l1blocks.AppendFrame(frameBuf[:0], l1blocks.Frame{
			Seq:            f.seq,
			Lines:          n,
			SamplesPerLine: b.SamplesPerLine,
			Payload:        payload,
			UnixNanos:      b.Received.UnixNano(),
		})
		f.seq++
		if _, err := f.conn.Write(frame); err != nil {
			return err
		}
	}
	f.sent.Add(1)
	return nil
}

// ForwardAsync queues b without blocking; when the queue is full the block
// is dropped and counted.
func (f *BlockForwarder) ForwardAsync(b das.RawBlock) {
	select {
	case f.channel <- b:
	default:
		f.dropped.Add(1)
	}
}

// Sent counts blocks written in full.
func (f *BlockForwarder) Sent() uint64 { return f.sent.Load() }

// Dropped counts blocks discarded by ForwardAsync.
func (f *BlockForwarder) Dropped() uint64 { return f.dropped.Load() }

// Close releases the socket. Call after the Start context is cancelled.
func (f *BlockForwarder) Close() error {
	return f.conn.Close()
}
