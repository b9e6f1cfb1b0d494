package monitoring

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not reach the previous logger")
	}
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = fmt.Sprintf(format, v...) })

	logf := Prefixed("[session]")
	logf("started %d", 7)
	if got != "[session] started 7" {
		t.Errorf("got %q", got)
	}

	// Prefixed loggers follow later SetLogger calls.
	got = ""
	SetLogger(nil)
	logf("ignored")
	if got != "" {
		t.Errorf("expected no output after SetLogger(nil), got %q", got)
	}
}

func TestDebugf(t *testing.T) {
	defer SetDebugWriter(nil)

	Debugf("dropped before a writer is set")
	if DebugEnabled() {
		t.Fatal("debug logging should be off by default")
	}

	var buf bytes.Buffer
	SetDebugWriter(&buf)
	if !DebugEnabled() {
		t.Fatal("expected debug logging to be enabled")
	}
	Debugf("block %d skipped", 3)
	if !strings.Contains(buf.String(), "[debug] ") || !strings.Contains(buf.String(), "block 3 skipped") {
		t.Errorf("unexpected debug output %q", buf.String())
	}

	buf.Reset()
	SetDebugWriter(nil)
	Debugf("silent")
	if buf.Len() != 0 {
		t.Errorf("expected no output after disabling, got %q", buf.String())
	}
}
