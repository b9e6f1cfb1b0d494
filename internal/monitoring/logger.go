// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import (
	"io"
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var debugLogger atomic.Pointer[log.Logger]

// SetDebugWriter routes Debugf output to w. A nil writer disables debug logging,
// which is the default.
func SetDebugWriter(w io.Writer) {
	if w == nil {
		debugLogger.Store(nil)
		return
	}
	debugLogger.Store(log.New(w, "[debug] ", log.LstdFlags|log.Lmicroseconds))
}

// DebugEnabled reports whether a debug writer is installed.
func DebugEnabled() bool {
	return debugLogger.Load() != nil
}

// Debugf writes high-volume diagnostics (per-block failures, per-tick timing).
func Debugf(format string, v ...interface{}) {
	if l := debugLogger.Load(); l != nil {
		l.Printf(format, v...)
	}
}

// Prefixed returns a logger that tags every line with prefix, e.g. "[session]".
// The returned func resolves Logf at call time so SetLogger still applies.
func Prefixed(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(prefix+" "+format, v...)
	}
}
