package monitor

import (
	"fmt"
	"net/http"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/das/session"
	"github.com/banshee-data/das-waterfall/internal/httputil"
	"github.com/banshee-data/das-waterfall/internal/version"
)

// StatusResponse is the body of /api/session/status and of successful
// start and stop requests.
type StatusResponse struct {
	session.Status
	Scaling *das.ScalingParameters `json:"scaling,omitempty"`
	Render  *pipeline.Stats        `json:"render,omitempty"`
	Rows    int                    `json:"rows"`
	Width   int                    `json:"width"`
}

func (ws *WebServer) status() StatusResponse {
	resp := StatusResponse{
		Status: ws.session.Status(),
		Rows:   ws.buffer.Len(),
		Width:  ws.buffer.Width(),
	}
	if p, ok := ws.scaler.Params(); ok {
		resp.Scaling = &p
	}
	if ws.sched != nil {
		st := ws.sched.Stats()
		resp.Render = &st
	}
	return resp
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"status":  "ok",
		"state":   string(ws.session.Status().State),
		"version": version.String(),
	})
}

// handleSessionStart starts acquisition. The optional JSON body overrides
// individual acquisition parameters, e.g. {"scan_rate": "4k", "lines": 100}.
func (ws *WebServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	p := ws.params
	if err := httputil.DecodeJSON(w, r, &p); err != nil {
		httputil.WriteJSONErrorKind(w, http.StatusBadRequest, das.Kind(das.ErrInvalidParameter), err.Error())
		return
	}
	if err := ws.session.Start(r.Context(), p); err != nil {
		ws.logf("start failed: %v", err)
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ws.status())
}

func (ws *WebServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	if err := ws.session.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ws.status())
}

func (ws *WebServer) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, ws.status())
}

func (ws *WebServer) handleDrops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	st := ws.session.Status()
	body := map[string]uint64{
		"drops":    st.Drops,
		"rejected": st.Rejected,
	}
	if st.Forward != nil {
		body["forward_dropped"] = st.Forward.Dropped
	}
	httputil.WriteJSONOK(w, body)
}

// handleWaterfallPNG exports the current waterfall, newest row at the
// bottom. An empty buffer renders as a black image.
func (ws *WebServer) handleWaterfallPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := ws.buffer.Snapshot()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Waterfall-Rows", fmt.Sprint(snap.Len()))
	w.Header().Set("X-Waterfall-Last-Seq", fmt.Sprint(snap.LastSeq))
	if err := snap.EncodePNG(w); err != nil {
		ws.logf("png encode: %v", err)
	}
}

// handleScaling reads or replaces the scaling settings. PUT merges the body
// onto the current settings; the new values apply from the next tick.
func (ws *WebServer) handleScaling(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ws.scaler.Settings())
	case http.MethodPut:
		s := ws.scaler.Settings()
		if err := httputil.DecodeJSON(w, r, &s); err != nil {
			httputil.WriteJSONErrorKind(w, http.StatusBadRequest, das.Kind(das.ErrInvalidParameter), err.Error())
			return
		}
		if err := ws.scaler.SetSettings(s); err != nil {
			writeError(w, err)
			return
		}
		ws.logf("scaling settings now %s p%g-p%g gamma %g invert %v",
			s.Mode, s.LowPercentile, s.HighPercentile, s.Gamma, s.Invert)
		httputil.WriteJSONOK(w, ws.scaler.Settings())
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}
