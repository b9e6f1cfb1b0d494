// Package testutil provides shared fixtures for pipeline tests: raw block
// buffers in the driver's wire layout and small HTTP assertions.
package testutil

import (
	"encoding/binary"
	"math"
	"net/http/httptest"
	"testing"
)

// SampleFunc returns the sample value for a (line, sample) position.
type SampleFunc func(line, sample int) float32

// BlockBytes builds a driver buffer of lines x samplesPerLine little-endian
// float32 values produced by f.
func BlockBytes(lines, samplesPerLine int, f SampleFunc) []byte {
	buf := make([]byte, 0, lines*samplesPerLine*4)
	for l := 0; l < lines; l++ {
		for s := 0; s < samplesPerLine; s++ {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f(l, s)))
		}
	}
	return buf
}

// RampBytes builds a buffer whose samples count up from start in row-major
// order.
func RampBytes(lines, samplesPerLine int, start float32) []byte {
	return BlockBytes(lines, samplesPerLine, func(l, s int) float32 {
		return start + float32(l*samplesPerLine+s)
	})
}

// ConstantBytes builds a buffer filled with v.
func ConstantBytes(lines, samplesPerLine int, v float32) []byte {
	return BlockBytes(lines, samplesPerLine, func(int, int) float32 { return v })
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertJSONContentType checks the recorder carries a JSON content type.
func AssertJSONContentType(t testing.TB, w *httptest.ResponseRecorder) {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}
