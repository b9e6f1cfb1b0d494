package driver

import (
	"fmt"
	"sync"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// MockDriver is a controllable Driver for tests. The test goroutine plays
// the device thread by calling Emit.
type MockDriver struct {
	// Errors returned by the matching call when set.
	OpenErr      error
	ConfigureErr error
	StartErr     error
	StopErr      error
	// StartHang makes Start block until Release or Stop is called.
	StartHang bool

	// emitMu is held for reading across each callback so Stop can wait for
	// in-flight callbacks to finish.
	emitMu sync.RWMutex

	mu      sync.Mutex
	opened  bool
	running bool
	params  Params
	cb      Callback
	calls   []string
	release chan struct{}
	aborted bool
}

// NewMockDriver returns a mock with no injected failures.
func NewMockDriver() *MockDriver {
	return &MockDriver{}
}

func (m *MockDriver) Name() string { return "mock" }

func (m *MockDriver) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *MockDriver) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("open")
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opened = true
	return nil
}

func (m *MockDriver) Configure(p Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("configure")
	if !m.opened {
		return ErrNotOpen
	}
	if m.ConfigureErr != nil {
		return m.ConfigureErr
	}
	if err := p.Validate(); err != nil {
		return err
	}
	m.params = p
	return nil
}

func (m *MockDriver) Start(cb Callback) error {
	m.mu.Lock()
	m.record("start")
	if !m.opened {
		m.mu.Unlock()
		return ErrNotOpen
	}
	if m.running {
		m.mu.Unlock()
		return ErrRunning
	}
	if m.StartErr != nil {
		err := m.StartErr
		m.mu.Unlock()
		return err
	}
	var wait chan struct{}
	if m.StartHang {
		m.release = make(chan struct{})
		m.aborted = false
		wait = m.release
	}
	m.mu.Unlock()

	if wait != nil {
		<-wait
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted {
		return fmt.Errorf("%w: start aborted", das.ErrDeviceStartFailed)
	}
	m.cb = cb
	m.running = true
	return nil
}

// Release unblocks a hanging Start, letting it succeed.
func (m *MockDriver) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.release != nil {
		close(m.release)
		m.release = nil
	}
}

func (m *MockDriver) Stop() error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("stop")
	if m.release != nil {
		m.aborted = true
		close(m.release)
		m.release = nil
	}
	m.running = false
	m.cb = nil
	return m.StopErr
}

func (m *MockDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("close")
	m.opened = false
	return nil
}

// Emit delivers buf to the registered callback as the device would. It
// reports false when acquisition is not running.
func (m *MockDriver) Emit(buf []byte) bool {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(buf)
	return true
}

// Calls returns the driver calls made so far, in order.
func (m *MockDriver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Running reports whether Start succeeded and Stop has not been called.
func (m *MockDriver) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Params returns the last accepted configuration.
func (m *MockDriver) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}
