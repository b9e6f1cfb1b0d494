//go:build explorex

package driver

/*
#cgo LDFLAGS: -lexplorex_c

typedef void (*exapi_data_cb)(int scan_rate, int point_count, char* data, unsigned long size);

const char* exapi_version(void);
void exapi_create(void);
void exapi_destroy(void);
int exapi_open(void);
void exapi_set_params(int aom, int scan_rate, int mode, int pulse_width, int scale_down);
void exapi_set_block_count(int read_block_count, int cache_block_count);
void exapi_set_amp_data_callback(exapi_data_cb cb);
void exapi_set_phase_data_callback(exapi_data_cb cb);
void exapi_set_channel2_amp_data_callback(exapi_data_cb cb);
void exapi_set_channel2_phase_data_callback(exapi_data_cb cb);
int exapi_start(void);
int exapi_stop(void);

void explorex_amp1(int, int, char*, unsigned long);
void explorex_phase1(int, int, char*, unsigned long);
void explorex_amp2(int, int, char*, unsigned long);
void explorex_phase2(int, int, char*, unsigned long);

static void explorex_install(int slot) {
	switch (slot) {
	case 0: exapi_set_amp_data_callback(explorex_amp1); break;
	case 1: exapi_set_phase_data_callback(explorex_phase1); break;
	case 2: exapi_set_channel2_amp_data_callback(explorex_amp2); break;
	case 3: exapi_set_channel2_phase_data_callback(explorex_phase2); break;
	}
}
*/
import "C"

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
)

// ExploreXAvailable reports whether the vendor binding is compiled in.
const ExploreXAvailable = true

// The vendor library keeps one global acquisition card, so at most one
// driver can be active.
var activeExploreX atomic.Pointer[ExploreXDriver]

// ExploreXDriver binds the ExploreX acquisition card through libexplorex_c.
type ExploreXDriver struct {
	emitMu sync.RWMutex

	mu      sync.Mutex
	created bool
	opened  bool
	params  Params
	slot    int
	cb      Callback
	running atomic.Bool
}

// NewExploreXDriver returns an unopened card handle.
func NewExploreXDriver() *ExploreXDriver {
	return &ExploreXDriver{}
}

func (d *ExploreXDriver) Name() string {
	return "explorex " + C.GoString(C.exapi_version())
}

func (d *ExploreXDriver) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return nil
	}
	if !activeExploreX.CompareAndSwap(nil, d) {
		return fmt.Errorf("%w: card already in use", das.ErrDeviceNotFound)
	}
	C.exapi_create()
	d.created = true
	if ret := C.exapi_open(); ret != 0 {
		C.exapi_destroy()
		d.created = false
		activeExploreX.Store(nil)
		return fmt.Errorf("%w: exapi_open returned %d", das.ErrDeviceNotFound, int(ret))
	}
	d.opened = true
	monitoring.Logf("[driver/explorex] opened card, library %s", C.GoString(C.exapi_version()))
	return nil
}

func (d *ExploreXDriver) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	C.exapi_set_params(C.int(aomCode(p.AOM)), C.int(p.ScanRate), C.int(p.Mode), C.int(p.PulseWidth), C.int(p.ScaleDown))
	C.exapi_set_block_count(C.int(p.ReadBlockCount), C.int(p.CacheBlockCount))
	d.slot = streamSlot(p.Channel, p.Stream)
	C.explorex_install(C.int(d.slot))
	d.params = p
	return nil
}

func (d *ExploreXDriver) Start(cb Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened {
		return ErrNotOpen
	}
	if d.running.Load() {
		return ErrRunning
	}
	d.cb = cb
	d.running.Store(true)
	if ret := C.exapi_start(); ret != 0 {
		d.running.Store(false)
		d.cb = nil
		return fmt.Errorf("%w: exapi_start returned %d", das.ErrDeviceStartFailed, int(ret))
	}
	return nil
}

// Stop halts the card and waits for any callback still executing.
func (d *ExploreXDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Swap(false) {
		return nil
	}
	ret := C.exapi_stop()
	d.emitMu.Lock()
	d.cb = nil
	d.emitMu.Unlock()
	if ret != 0 {
		return fmt.Errorf("exapi_stop returned %d", int(ret))
	}
	return nil
}

func (d *ExploreXDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created {
		C.exapi_destroy()
		d.created = false
	}
	d.opened = false
	activeExploreX.CompareAndSwap(d, nil)
	return nil
}

func (d *ExploreXDriver) deliver(slot int, buf []byte) {
	d.emitMu.RLock()
	defer d.emitMu.RUnlock()
	if !d.running.Load() || d.cb == nil || slot != d.slot {
		return
	}
	d.cb(buf)
}

//export goExplorexData
func goExplorexData(slot, scanRate, points C.int, data *C.char, size C.ulong) {
	d := activeExploreX.Load()
	if d == nil || data == nil || size == 0 {
		return
	}
	d.deliver(int(slot), unsafe.Slice((*byte)(unsafe.Pointer(data)), int(size)))
}
