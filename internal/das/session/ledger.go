package session

import (
	"context"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/driver"
)

// Record is one acquisition session as kept by a Ledger.
type Record struct {
	ID        string        `json:"id"`
	Driver    string        `json:"driver"`
	Params    driver.Params `json:"params"`
	State     State         `json:"state"`
	StartedAt time.Time     `json:"started_at"`
	StoppedAt time.Time     `json:"stopped_at,omitempty"`
	Error     string        `json:"error,omitempty"`

	Buffers        int64  `json:"buffers"`
	Decoded        int64  `json:"decoded"`
	DecodeFailures int64  `json:"decode_failures"`
	Drops          uint64 `json:"drops"`
	Rejected       uint64 `json:"rejected"`
	Discarded      int    `json:"discarded"`
}

// Ledger persists session records. Begin is called for every start
// attempt; Finish when the attempt fails or the session stops.
type Ledger interface {
	Begin(ctx context.Context, r Record) error
	Finish(ctx context.Context, r Record) error
}

// Forwarder receives every decoded block. It must not block.
type Forwarder interface {
	ForwardAsync(b das.RawBlock)
}

// ForwardCounter is implemented by forwarders that count their traffic.
type ForwardCounter interface {
	Sent() uint64
	Dropped() uint64
}

// ForwardStatus is forwarder traffic since the session started.
type ForwardStatus struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// Consumer is the render side that shares the scaler and buffer with the
// session. Reset must not overlap a render tick.
type Consumer interface {
	Reset()
}
