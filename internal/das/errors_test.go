package das

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Scope
		kind string
	}{
		{nil, ScopeUnknown, ""},
		{fmt.Errorf("decode: %w", ErrShapeMismatch), ScopeBlock, "shape_mismatch"},
		{ErrInvalidHandle, ScopeBlock, "invalid_handle"},
		{fmt.Errorf("append: %w", ErrWidthMismatch), ScopeBlock, "width_mismatch"},
		{ErrQueueFull, ScopeProducer, "queue_full"},
		{fmt.Errorf("open: %w", ErrDeviceNotFound), ScopeSession, "device_not_found"},
		{ErrInvalidParameter, ScopeSession, "invalid_parameter"},
		{ErrDeviceStartFailed, ScopeSession, "device_start_failed"},
		{ErrSessionActive, ScopeUnknown, "session_active"},
		{errors.New("boom"), ScopeUnknown, "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
		assert.Equal(t, tt.kind, Kind(tt.err), "Kind(%v)", tt.err)
	}
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "block", ScopeBlock.String())
	assert.Equal(t, "producer", ScopeProducer.String())
	assert.Equal(t, "session", ScopeSession.String())
	assert.Equal(t, "unknown", Scope(42).String())
}
