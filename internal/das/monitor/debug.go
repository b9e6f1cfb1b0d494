package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/das-waterfall/internal/das/l4waterfall"
	"github.com/banshee-data/das-waterfall/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// attachDebugRoutes mounts the debug charts under /debug/ on mux.
func (ws *WebServer) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Session", func() any {
		st := ws.session.Status()
		return fmt.Sprintf("%s %s (%d dropped)", st.State, st.ID, st.Drops)
	})
	debug.HandleFunc("waterfall-heatmap", "Waterfall heatmap of the current buffer", ws.handleWaterfallHeatmap)
	if ws.trace != nil {
		debug.HandleFunc("scaling-trace.png", "Scaling bounds over time", ws.handleScalingTracePNG)
		debug.HandleSilentFunc("scaling-trace", ws.handleScalingTrace)
	}
}

// heatmapData downsamples snap to at most maxCols columns and maxRows rows
// by stride. Row 0 is the oldest row.
func heatmapData(snap l4waterfall.Snapshot, maxCols, maxRows int) (cols, rows []int, data []opts.HeatMapData) {
	colStride := (snap.Width + maxCols - 1) / maxCols
	rowStride := (snap.Len() + maxRows - 1) / maxRows
	if colStride < 1 {
		colStride = 1
	}
	if rowStride < 1 {
		rowStride = 1
	}
	for x := 0; x < snap.Width; x += colStride {
		cols = append(cols, x)
	}
	for y := 0; y < snap.Len(); y += rowStride {
		rows = append(rows, y)
	}
	data = make([]opts.HeatMapData, 0, len(cols)*len(rows))
	for yi, y := range rows {
		row := snap.Rows[y]
		for xi, x := range cols {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{xi, yi, int(row[x])}})
		}
	}
	return cols, rows, data
}

// handleWaterfallHeatmap renders the current waterfall as an interactive
// go-echarts heatmap. Query params:
//   - max_cols (optional; default 256)
//   - max_rows (optional; default 200)
func (ws *WebServer) handleWaterfallHeatmap(w http.ResponseWriter, r *http.Request) {
	maxCols, maxRows := 256, 200
	if v, err := strconv.Atoi(r.URL.Query().Get("max_cols")); err == nil && v > 0 && v <= 2048 {
		maxCols = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("max_rows")); err == nil && v > 0 && v <= 2048 {
		maxRows = v
	}

	snap := ws.buffer.Snapshot()
	if snap.Len() == 0 {
		httputil.NotFound(w, "waterfall is empty")
		return
	}
	cols, rows, data := heatmapData(snap, maxCols, maxRows)

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "DAS Waterfall", Theme: "dark", Width: "100%", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "DAS Waterfall", Subtitle: fmt.Sprintf("rows=%d width=%d last_seq=%d", snap.Len(), snap.Width, snap.LastSeq)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "Sample"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "Row", Data: rows}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        255,
			InRange:    &opts.VisualMapInRange{Color: []string{"#000000", "#ffffff"}},
		}),
	)
	hm.SetXAxis(cols).AddSeries("intensity", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleScalingTracePNG(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ws.trace.WritePNG(&buf); err != nil {
		if errors.Is(err, ErrEmptyTrace) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func (ws *WebServer) handleScalingTrace(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"summary": ws.trace.Summary(),
		"points":  ws.trace.Points(),
	})
}
