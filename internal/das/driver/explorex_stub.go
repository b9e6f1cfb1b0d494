//go:build !explorex

package driver

import (
	"fmt"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// ExploreXAvailable reports whether the vendor binding is compiled in.
const ExploreXAvailable = false

// ExploreXDriver stands in for the vendor binding in builds without the
// explorex tag. Every Open fails with das.ErrDeviceNotFound.
type ExploreXDriver struct{}

func NewExploreXDriver() *ExploreXDriver { return &ExploreXDriver{} }

func (d *ExploreXDriver) Name() string { return "explorex (unavailable)" }

func (d *ExploreXDriver) Open() error {
	return fmt.Errorf("%w: built without the explorex tag", das.ErrDeviceNotFound)
}

func (d *ExploreXDriver) Configure(Params) error { return ErrNotOpen }
func (d *ExploreXDriver) Start(Callback) error   { return ErrNotOpen }
func (d *ExploreXDriver) Stop() error            { return nil }
func (d *ExploreXDriver) Close() error           { return nil }
