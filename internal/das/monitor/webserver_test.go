package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/das/session"
	"github.com/banshee-data/das-waterfall/internal/monitoring"
	"github.com/banshee-data/das-waterfall/internal/testutil"
	"github.com/banshee-data/das-waterfall/internal/timeutil"
)

type fixture struct {
	drv    *driver.MockDriver
	sess   *session.Session
	scaler *l3scaling.Scaler
	buffer *l4waterfall.Buffer
	hub    *pipeline.Hub
	sched  *pipeline.Scheduler
	trace  *TraceRecorder
	ws     *WebServer
	mux    *http.ServeMux
}

func testParams() driver.Params {
	p := driver.DefaultParams()
	p.Lines = 4
	p.SamplesPerLine = 8
	return p
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	trace := NewTraceRecorder(0)
	scaler, err := l3scaling.NewScaler(l3scaling.Config{OnRecompute: trace.Record}, l3scaling.DefaultSettings(), clock)
	require.NoError(t, err)
	buffer, err := l4waterfall.New(16)
	require.NoError(t, err)
	drv := driver.NewMockDriver()
	sess, err := session.New(session.Config{StatsLogInterval: -1}, session.Options{Driver: drv, Scaler: scaler, Buffer: buffer, Clock: clock})
	require.NoError(t, err)
	hub := pipeline.NewHub()
	sched, err := pipeline.NewScheduler(sess, scaler, buffer, hub, pipeline.Config{}, clock)
	require.NoError(t, err)
	sess.AttachConsumer(sched)

	ws, err := NewWebServer(WebServerConfig{
		Address:   "127.0.0.1:0",
		Session:   sess,
		Scaler:    scaler,
		Buffer:    buffer,
		Hub:       hub,
		Scheduler: sched,
		Params:    testParams(),
		Trace:     trace,
	})
	require.NoError(t, err)
	return &fixture{drv: drv, sess: sess, scaler: scaler, buffer: buffer, hub: hub, sched: sched, trace: trace, ws: ws, mux: ws.ServeMux()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// feed emits n ramp buffers and runs one render tick.
func (f *fixture) feed(t *testing.T, n int) {
	t.Helper()
	p := f.drv.Params()
	for i := 0; i < n; i++ {
		require.True(t, f.drv.Emit(testutil.RampBytes(p.Lines, p.SamplesPerLine, float32(i))))
	}
	f.sched.Tick()
}

func TestNewWebServerRequiresCollaborators(t *testing.T) {
	_, err := NewWebServer(WebServerConfig{})
	assert.Error(t, err)
}

func TestSessionLifecycleAPI(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/session/start", `{"lines": 2, "scan_rate": "4k"}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	testutil.AssertJSONContentType(t, w)
	st := decodeStatus(t, w)
	assert.Equal(t, session.StateRunning, st.State)
	assert.NotEmpty(t, st.ID)
	require.NotNil(t, st.Params)
	assert.Equal(t, 2, st.Params.Lines)
	assert.Equal(t, 8, st.Params.SamplesPerLine, "fields absent from the body keep their configured value")
	assert.Equal(t, driver.ScanRate4k, st.Params.ScanRate)

	f.feed(t, 3)

	w = f.do(t, http.MethodGet, "/api/session/status", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	st = decodeStatus(t, w)
	assert.Equal(t, 6, st.Rows)
	assert.Equal(t, 8, st.Width)
	assert.Equal(t, int64(3), st.Counts.Decoded)
	require.NotNil(t, st.Render)
	assert.Equal(t, uint64(3), st.Render.Blocks)
	require.NotNil(t, st.Scaling)

	w = f.do(t, http.MethodGet, "/api/drops", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var drops map[string]uint64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&drops))
	assert.Equal(t, map[string]uint64{"drops": 0, "rejected": 0}, drops)

	w = f.do(t, http.MethodPost, "/api/session/start", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)

	w = f.do(t, http.MethodPost, "/api/session/stop", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, session.StateIdle, decodeStatus(t, w).State)

	w = f.do(t, http.MethodPost, "/api/session/stop", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "session_not_active", body["kind"])
}

func TestSessionStartRejectsBadBodies(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"scan_rate": "7k"}`,
		`{"unknown": 1}`,
		`{"lines": `,
		`{"lines": 0}`,
		`{"aom": 100}`,
	} {
		t.Run(body, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/session/start", body)
			testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
		})
	}
	assert.NotEqual(t, session.StateRunning, f.sess.State())
}

type fakeController struct {
	startErr error
	stopErr  error
	forward  *session.ForwardStatus
}

func (c *fakeController) Start(context.Context, driver.Params) error { return c.startErr }
func (c *fakeController) Stop(context.Context) error                 { return c.stopErr }
func (c *fakeController) Status() session.Status {
	return session.Status{State: session.StateFailed, Drops: 7, Rejected: 2, Forward: c.forward}
}

func TestStartErrorMapping(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{fmt.Errorf("open: %w", das.ErrDeviceNotFound), http.StatusNotFound, "device_not_found"},
		{fmt.Errorf("configure: %w", das.ErrInvalidParameter), http.StatusBadRequest, "invalid_parameter"},
		{fmt.Errorf("start: %w", das.ErrDeviceStartFailed), http.StatusGatewayTimeout, "device_start_failed"},
		{das.ErrSessionActive, http.StatusConflict, "session_active"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			f := newFixture(t)
			f.ws.session = &fakeController{startErr: tt.err}
			w := f.do(t, http.MethodPost, "/api/session/start", "")
			testutil.AssertStatusCode(t, w.Code, tt.wantCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantKind, body["kind"])
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestDropsFromStatus(t *testing.T) {
	f := newFixture(t)
	f.ws.session = &fakeController{}
	w := f.do(t, http.MethodGet, "/api/drops", "")
	var drops map[string]uint64
	require.NoError(t, json.NewDecoder(w.Body).Decode(&drops))
	assert.Equal(t, map[string]uint64{"drops": 7, "rejected": 2}, drops)

	f.ws.session = &fakeController{forward: &session.ForwardStatus{Sent: 40, Dropped: 3}}
	w = f.do(t, http.MethodGet, "/api/drops", "")
	drops = nil
	require.NoError(t, json.NewDecoder(w.Body).Decode(&drops))
	assert.Equal(t, map[string]uint64{"drops": 7, "rejected": 2, "forward_dropped": 3}, drops)
}

func TestMethodChecks(t *testing.T) {
	f := newFixture(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/session/start"},
		{http.MethodGet, "/api/session/stop"},
		{http.MethodPost, "/api/session/status"},
		{http.MethodPost, "/api/drops"},
		{http.MethodPost, "/api/waterfall.png"},
		{http.MethodPost, "/api/waterfall/events"},
		{http.MethodDelete, "/api/scaling"},
	} {
		w := f.do(t, tc.method, tc.path, "")
		testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
	}
}

func TestWaterfallPNG(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/waterfall.png", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dy())

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/start", "").Code)
	f.feed(t, 2)

	w = f.do(t, http.MethodGet, "/api/waterfall.png", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "8", w.Header().Get("X-Waterfall-Rows"))
	assert.Equal(t, "1", w.Header().Get("X-Waterfall-Last-Seq"))
	img, err = png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())

	r, _, _, _ := img.At(7, 15).RGBA()
	assert.NotZero(t, r, "newest row is at the bottom")
	r, _, _, _ = img.At(7, 0).RGBA()
	assert.Zero(t, r, "unfilled rows are black")
}

func TestScalingSettings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/scaling", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var s l3scaling.Settings
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	assert.Equal(t, l3scaling.DefaultSettings(), s)

	w = f.do(t, http.MethodPut, "/api/scaling", `{"mode": "log", "percentile_low": 5, "invert": true}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	assert.Equal(t, l3scaling.Log, s.Mode)
	assert.Equal(t, 5.0, s.LowPercentile)
	assert.Equal(t, 98.0, s.HighPercentile)
	assert.True(t, s.Invert)
	assert.Equal(t, s, f.scaler.Settings())

	w = f.do(t, http.MethodPut, "/api/scaling", `{"percentile_low": 99}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	w = f.do(t, http.MethodPut, "/api/scaling", `{"mode": "sqrt"}`)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	assert.Equal(t, l3scaling.Log, f.scaler.Settings().Mode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/waterfall/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, time.Millisecond)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/session/start", "").Code)
	f.feed(t, 2)

	var data string
	for data == "" {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, uint64(1), ev.Generation)
	assert.Equal(t, 8, ev.Rows)
	assert.Equal(t, 8, ev.Width)
	assert.Equal(t, 2, ev.Blocks)
	assert.Equal(t, uint64(1), ev.LastSeq)
	assert.Less(t, ev.Low, ev.High)

	f.hub.Close()
	_, err = rd.ReadString('\n')
	for err == nil {
		_, err = rd.ReadString('\n')
	}
}

func TestEventStreamWithoutHub(t *testing.T) {
	f := newFixture(t)
	f.ws.hub = nil
	w := f.do(t, http.MethodGet, "/api/waterfall/events", "")
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(nil)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/drops", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/debug/waterfall-heatmap", nil))

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "418")
	assert.Contains(t, lines[0], "/api/drops")
}
