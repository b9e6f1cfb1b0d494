package driver

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
	"github.com/banshee-data/das-waterfall/internal/testutil"
)

func TestUDPDriverReceivesFrames(t *testing.T) {
	d := NewUDPDriver(UDPConfig{Address: "127.0.0.1:0", ReadTimeout: 10 * time.Millisecond})
	require.NoError(t, d.Open())
	t.Cleanup(func() { d.Close() })
	p := smallParams()
	require.NoError(t, d.Configure(p))

	got := make(chan []byte, 4)
	require.NoError(t, d.Start(func(buf []byte) { got <- append([]byte(nil), buf...) }))
	t.Cleanup(func() { d.Stop() })

	conn, err := net.DialUDP("udp", nil, d.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	payload := testutil.RampBytes(p.Lines, p.SamplesPerLine, 0)
	_, err = conn.Write([]byte("not a frame"))
	require.NoError(t, err)
	_, err = conn.Write(l1blocks.MarshalFrame(l1blocks.Frame{Seq: 1, Lines: p.Lines, SamplesPerLine: p.SamplesPerLine, Payload: payload}))
	require.NoError(t, err)

	select {
	case buf := <-got:
		assert.Equal(t, payload, buf)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	require.Eventually(t, func() bool { return d.Malformed() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), d.Frames())

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop(), "second stop is a no-op")
}

func TestUDPDriverRejectsOversizeBlocks(t *testing.T) {
	d := NewUDPDriver(UDPConfig{Address: "127.0.0.1:0"})
	require.NoError(t, d.Open())
	defer d.Close()
	assert.ErrorIs(t, d.Configure(DefaultParams()), das.ErrInvalidParameter)
}

func TestUDPDriverBadAddress(t *testing.T) {
	d := NewUDPDriver(UDPConfig{Address: "256.0.0.1:bogus"})
	assert.ErrorIs(t, d.Open(), das.ErrDeviceNotFound)
	assert.ErrorIs(t, d.Start(func([]byte) {}), ErrNotOpen)
	assert.Nil(t, d.LocalAddr())
}
