package das

import "errors"

// Block-local errors: the offending block is skipped and counted.
var (
	ErrShapeMismatch = errors.New("das: buffer shape mismatch")
	ErrInvalidHandle = errors.New("das: invalid buffer handle")
	ErrWidthMismatch = errors.New("das: block width does not match waterfall width")
)

// ErrQueueFull is returned to the producer when the queue rejects a block.
var ErrQueueFull = errors.New("das: acquisition queue full")

// Session-level errors: fatal to session start, reported to the user, never
// retried automatically.
var (
	ErrDeviceNotFound    = errors.New("das: device not found")
	ErrInvalidParameter  = errors.New("das: invalid parameter")
	ErrDeviceStartFailed = errors.New("das: device start failed")
)

// Session state misuse.
var (
	ErrSessionActive    = errors.New("das: session already running")
	ErrSessionNotActive = errors.New("das: no session running")
)

// Scope says how far an error is allowed to propagate.
type Scope int

const (
	ScopeUnknown Scope = iota
	// ScopeBlock errors skip one block and never escalate.
	ScopeBlock
	// ScopeProducer errors are returned to the pushing producer.
	ScopeProducer
	// ScopeSession errors abort session start and surface to the user.
	ScopeSession
)

func (s Scope) String() string {
	switch s {
	case ScopeBlock:
		return "block"
	case ScopeProducer:
		return "producer"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// Classify maps err onto its propagation scope.
func Classify(err error) Scope {
	switch {
	case err == nil:
		return ScopeUnknown
	case errors.Is(err, ErrShapeMismatch), errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrWidthMismatch):
		return ScopeBlock
	case errors.Is(err, ErrQueueFull):
		return ScopeProducer
	case errors.Is(err, ErrDeviceNotFound), errors.Is(err, ErrInvalidParameter), errors.Is(err, ErrDeviceStartFailed):
		return ScopeSession
	default:
		return ScopeUnknown
	}
}

// Kind returns a short stable name for err's sentinel, used as a counter key
// and in API responses.
func Kind(err error) string {
	for _, k := range []struct {
		err  error
		name string
	}{
		{ErrShapeMismatch, "shape_mismatch"},
		{ErrInvalidHandle, "invalid_handle"},
		{ErrWidthMismatch, "width_mismatch"},
		{ErrQueueFull, "queue_full"},
		{ErrDeviceNotFound, "device_not_found"},
		{ErrInvalidParameter, "invalid_parameter"},
		{ErrDeviceStartFailed, "device_start_failed"},
		{ErrSessionActive, "session_active"},
		{ErrSessionNotActive, "session_not_active"},
	} {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if err == nil {
		return ""
	}
	return "other"
}
