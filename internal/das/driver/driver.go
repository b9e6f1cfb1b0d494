// Package driver adapts acquisition sources to the session's driver
// boundary: open, configure, start with a callback, stop, close.
//
// A driver invokes the Callback from its own goroutine (or a foreign thread
// for the vendor binding) once per available block. The buffer passed to
// the callback is only valid until the callback returns.
package driver

import "errors"

// Callback receives one raw block buffer. Implementations must return
// quickly and must not call back into the driver.
type Callback func(buf []byte)

// Driver is the acquisition device boundary. Open fails with
// das.ErrDeviceNotFound, Configure with das.ErrInvalidParameter and Start with
// das.ErrDeviceStartFailed. Once Stop returns no further callbacks are made.
type Driver interface {
	Open() error
	Configure(Params) error
	Start(Callback) error
	Stop() error
	Close() error
}

// Named is implemented by drivers that report a human-readable source name.
type Named interface {
	Name() string
}

// ErrNotOpen is returned when Configure or Start precede Open.
var ErrNotOpen = errors.New("driver: device not open")

// ErrRunning is returned when Start is called twice.
var ErrRunning = errors.New("driver: acquisition already running")

// NameOf returns d's name, or "driver".
func NameOf(d Driver) string {
	if n, ok := d.(Named); ok {
		return n.Name()
	}
	return "driver"
}
