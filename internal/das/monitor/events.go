package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/httputil"
)

// Event is the JSON payload of one onNewData server-sent event.
type Event struct {
	Generation uint64    `json:"generation"`
	Rows       int       `json:"rows"`
	Width      int       `json:"width"`
	LastSeq    uint64    `json:"last_seq"`
	Blocks     int       `json:"blocks"`
	TotalRows  uint64    `json:"total_rows"`
	Low        float64   `json:"low"`
	High       float64   `json:"high"`
	At         time.Time `json:"at"`
}

// EventFromNotification summarises n without the pixel data.
func EventFromNotification(n pipeline.Notification) Event {
	return Event{
		Generation: n.Generation,
		Rows:       n.Snapshot.Len(),
		Width:      n.Snapshot.Width,
		LastSeq:    n.Snapshot.LastSeq,
		Blocks:     n.Blocks,
		TotalRows:  n.Snapshot.TotalRows,
		Low:        n.Params.Low,
		High:       n.Params.High,
		At:         n.At,
	}
}

// handleEvents streams onNewData notifications as server-sent events. Clients
// fetch pixels through /api/waterfall.png when an event arrives; a slow
// client misses intermediate events but always sees the latest.
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if ws.hub == nil {
		httputil.NotFound(w, "event stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := ws.hub.Subscribe()
	defer ws.hub.Unsubscribe(id)

	// Initial ping establishes the connection.
	if _, err := w.Write([]byte(": ping\n\n")); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case n, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(EventFromNotification(n))
			if err != nil {
				ws.logf("event encode: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", n.Generation, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
