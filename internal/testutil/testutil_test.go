package testutil

import (
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBlockBytesLayout(t *testing.T) {
	buf := RampBytes(2, 3, 10)
	if len(buf) != 2*3*4 {
		t.Fatalf("len = %d, want 24", len(buf))
	}
	for i := 0; i < 6; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		if got != float32(10+i) {
			t.Errorf("sample %d = %v, want %v", i, got, 10+i)
		}
	}
}

func TestConstantBytes(t *testing.T) {
	buf := ConstantBytes(1, 4, -2.5)
	for i := 0; i < 4; i++ {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])); got != -2.5 {
			t.Errorf("sample %d = %v", i, got)
		}
	}
}

func TestAssertHelpers(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)

	w := httptest.NewRecorder()
	w.Header().Set("Content-Type", "application/json")
	AssertJSONContentType(t, w)
}
