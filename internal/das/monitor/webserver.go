// Package monitor is the HTTP surface of the waterfall: session control,
// status, PNG export, the onNewData event stream and debug charts.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/das/session"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
)

// SessionController is the part of session.Session the API drives.
type SessionController interface {
	Start(ctx context.Context, p driver.Params) error
	Stop(ctx context.Context) error
	Status() session.Status
}

// WebServer serves the waterfall API.
type WebServer struct {
	address string
	server  *http.Server
	mux     *http.ServeMux
	session SessionController
	scaler  *l3scaling.Scaler
	buffer  *l4waterfall.Buffer
	hub     *pipeline.Hub
	sched   *pipeline.Scheduler
	params  driver.Params
	trace   *TraceRecorder
	logf    func(string, ...interface{})
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Session SessionController
	Scaler  *l3scaling.Scaler
	Buffer  *l4waterfall.Buffer
	// Hub feeds the event stream. Nil disables /api/waterfall/events.
	Hub *pipeline.Hub
	// Scheduler, if set, adds render counters to the status response.
	Scheduler *pipeline.Scheduler
	// Params are the acquisition parameters a start request overrides.
	Params driver.Params
	// Trace, if set, backs /debug/scaling-trace.png.
	Trace *TraceRecorder
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Session == nil || config.Scaler == nil || config.Buffer == nil {
		return nil, errors.New("monitor: session, scaler and buffer are required")
	}
	ws := &WebServer{
		address: config.Address,
		session: config.Session,
		scaler:  config.Scaler,
		buffer:  config.Buffer,
		hub:     config.Hub,
		sched:   config.Scheduler,
		params:  config.Params,
		trace:   config.Trace,
		logf:    monitoring.Prefixed("[monitor]"),
	}
	ws.mux = ws.newMux()
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           LoggingMiddleware(ws.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws, nil
}

// ServeMux returns the mux holding the API and debug routes. Other packages
// may mount further routes on it before Start.
func (ws *WebServer) ServeMux() *http.ServeMux { return ws.mux }

func (ws *WebServer) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/session/start", ws.handleSessionStart)
	mux.HandleFunc("/api/session/stop", ws.handleSessionStop)
	mux.HandleFunc("/api/session/status", ws.handleSessionStatus)
	mux.HandleFunc("/api/drops", ws.handleDrops)
	mux.HandleFunc("/api/waterfall.png", ws.handleWaterfallPNG)
	mux.HandleFunc("/api/waterfall/events", ws.handleEvents)
	mux.HandleFunc("/api/scaling", ws.handleScaling)
	ws.attachDebugRoutes(mux)
	return mux
}

// Start serves until ctx is done, then shuts down. It returns the listen
// error if the server could not start.
func (ws *WebServer) Start(ctx context.Context) error {
	// Request contexts end with ctx so event streams do not hold up Shutdown.
	ws.server.BaseContext = func(net.Listener) context.Context { return ctx }
	errc := make(chan error, 1)
	go func() {
		ws.logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	ws.logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		ws.logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			ws.logf("HTTP server force close error: %v", err)
		}
	}
	ws.logf("HTTP server routine stopped")
	return nil
}
