package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
)

// Notification is the onNewData event: a snapshot of the waterfall taken at
// the end of a tick that appended at least one row.
type Notification struct {
	Snapshot l4waterfall.Snapshot
	Params   das.ScalingParameters
	// Generation counts ticks that produced new data.
	Generation uint64
	// Blocks is the number of blocks appended during the tick.
	Blocks int
	At     time.Time
}

// Hub fans notifications out to subscribers. Each subscriber has a mailbox
// of one: a slow reader sees only the latest notification and Publish never
// blocks the scheduler.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan Notification
	closed bool
}

// NewHub returns a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Notification)}
}

// Subscribe registers a new mailbox. The channel is closed by Unsubscribe or
// Close.
func (h *Hub) Subscribe() (string, <-chan Notification) {
	id := uuid.NewString()
	ch := make(chan Notification, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a mailbox.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Publish delivers n to every mailbox, replacing any unread notification.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
			continue
		default:
		}
		// Mailbox full: discard the stale entry and retry once. Only
		// Publish sends, and it holds h.mu, so the retry cannot block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- n:
		default:
		}
	}
}

// Subscribers returns the number of open mailboxes.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every mailbox; later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
