//go:build !explorex

package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/das-waterfall/internal/das"
)

func TestExploreXUnavailable(t *testing.T) {
	d := NewExploreXDriver()
	assert.False(t, ExploreXAvailable)
	assert.ErrorIs(t, d.Open(), das.ErrDeviceNotFound)
	assert.ErrorIs(t, d.Start(func([]byte) {}), ErrNotOpen)
	assert.NoError(t, d.Stop())
}
