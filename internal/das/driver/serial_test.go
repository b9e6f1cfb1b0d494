package driver

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/testutil"
)

// pipePort behaves like a serial port with a read timeout: a read that
// times out returns 0, nil.
type pipePort struct {
	net.Conn
	timeout time.Duration
}

func (p *pipePort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	return nil
}

func (p *pipePort) Read(b []byte) (int, error) {
	p.Conn.SetReadDeadline(time.Now().Add(p.timeout))
	n, err := p.Conn.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func TestSerialDriverReadsDelimitedFrames(t *testing.T) {
	device, host := net.Pipe()
	defer host.Close()
	var mode *serial.Mode
	d := NewSerialDriver(SerialConfig{
		Path:        "/dev/ttyDAS0",
		ReadTimeout: 5 * time.Millisecond,
		Opener: func(path string, m *serial.Mode) (SerialPort, error) {
			mode = m
			return &pipePort{Conn: device}, nil
		},
	})
	require.NoError(t, d.Open())
	assert.Equal(t, 921600, mode.BaudRate)
	p := smallParams()
	require.NoError(t, d.Configure(p))

	got := make(chan []byte, 4)
	require.NoError(t, d.Start(func(buf []byte) { got <- append([]byte(nil), buf...) }))

	for seq := uint64(0); seq < 2; seq++ {
		f := l1blocks.Frame{Seq: seq, Lines: p.Lines, SamplesPerLine: p.SamplesPerLine,
			Payload: testutil.RampBytes(p.Lines, p.SamplesPerLine, float32(seq))}
		require.NoError(t, l1blocks.WriteDelimited(host, f))
	}
	for seq := 0; seq < 2; seq++ {
		select {
		case buf := <-got:
			assert.Equal(t, testutil.RampBytes(p.Lines, p.SamplesPerLine, float32(seq)), buf)
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d not received", seq)
		}
	}

	require.NoError(t, d.Stop())
	require.NoError(t, d.Close())
	assert.Equal(t, uint64(2), d.Frames())
}

func TestSerialDriverOpenFailure(t *testing.T) {
	d := NewSerialDriver(SerialConfig{
		Path:   "/dev/missing",
		Opener: func(string, *serial.Mode) (SerialPort, error) { return nil, errors.New("no such file") },
	})
	assert.ErrorIs(t, d.Open(), das.ErrDeviceNotFound)
}

func TestSerialConfigMode(t *testing.T) {
	m, err := SerialConfig{BaudRate: 115200, StopBits: 2, Parity: "even"}.Mode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, m)

	_, err = SerialConfig{DataBits: 9}.Mode()
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
	_, err = SerialConfig{Parity: "mark"}.Mode()
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
	_, err = SerialConfig{StopBits: 3}.Mode()
	assert.ErrorIs(t, err, das.ErrInvalidParameter)
}
