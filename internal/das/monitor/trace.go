package monitor

import (
	"errors"
	"image/color"
	"io"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// ErrEmptyTrace is returned when no recompute has been recorded yet.
var ErrEmptyTrace = errors.New("monitor: no scaling parameters recorded")

// TracePoint is one recorded recompute.
type TracePoint struct {
	At      time.Time `json:"at"`
	Low     float64   `json:"low"`
	High    float64   `json:"high"`
	Samples int       `json:"samples"`
}

// TraceSummary is the range covered by the recorded bounds.
type TraceSummary struct {
	Count   int     `json:"count"`
	MinLow  float64 `json:"min_low"`
	MaxLow  float64 `json:"max_low"`
	MinHigh float64 `json:"min_high"`
	MaxHigh float64 `json:"max_high"`
	// Mean bounds over the retained points.
	MeanLow  float64 `json:"mean_low"`
	MeanHigh float64 `json:"mean_high"`
}

// TraceRecorder keeps the most recent scaling parameter recomputes. Record
// has the signature of l3scaling.Config.OnRecompute.
type TraceRecorder struct {
	mu       sync.Mutex
	capacity int
	points   []TracePoint // oldest first
}

// NewTraceRecorder keeps up to capacity points (600 if capacity <= 0).
func NewTraceRecorder(capacity int) *TraceRecorder {
	if capacity <= 0 {
		capacity = 600
	}
	return &TraceRecorder{capacity: capacity}
}

func (t *TraceRecorder) Record(p das.ScalingParameters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == t.capacity {
		n := copy(t.points, t.points[1:])
		t.points = t.points[:n]
	}
	t.points = append(t.points, TracePoint{At: p.ComputedAt, Low: p.Low, High: p.High, Samples: p.Samples})
}

// Points returns a copy of the recorded points.
func (t *TraceRecorder) Points() []TracePoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TracePoint(nil), t.points...)
}

func (t *TraceRecorder) Reset() {
	t.mu.Lock()
	t.points = t.points[:0]
	t.mu.Unlock()
}

func (t *TraceRecorder) series() (lows, highs []float64) {
	pts := t.Points()
	lows = make([]float64, len(pts))
	highs = make([]float64, len(pts))
	for i, p := range pts {
		lows[i], highs[i] = p.Low, p.High
	}
	return lows, highs
}

func (t *TraceRecorder) Summary() TraceSummary {
	lows, highs := t.series()
	if len(lows) == 0 {
		return TraceSummary{}
	}
	return TraceSummary{
		Count:   len(lows),
		MinLow:  floats.Min(lows),
		MaxLow:  floats.Max(lows),
		MinHigh: floats.Min(highs),
		MaxHigh: floats.Max(highs),

		MeanLow:  stat.Mean(lows, nil),
		MeanHigh: stat.Mean(highs, nil),
	}
}

// WritePNG plots the low and high bounds against seconds since the first
// recorded point.
func (t *TraceRecorder) WritePNG(w io.Writer) error {
	pts := t.Points()
	if len(pts) == 0 {
		return ErrEmptyTrace
	}
	t0 := pts[0].At
	lowPts := make(plotter.XYs, len(pts))
	highPts := make(plotter.XYs, len(pts))
	for i, p := range pts {
		x := p.At.Sub(t0).Seconds()
		lowPts[i] = plotter.XY{X: x, Y: p.Low}
		highPts[i] = plotter.XY{X: x, Y: p.High}
	}

	p := plot.New()
	p.Title.Text = "Scaling bounds"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Sample value"

	lowLine, err := plotter.NewLine(lowPts)
	if err != nil {
		return err
	}
	lowLine.Color = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	lowLine.Width = vg.Points(1)
	highLine, err := plotter.NewLine(highPts)
	if err != nil {
		return err
	}
	highLine.Color = color.RGBA{R: 253, G: 150, B: 37, A: 255}
	highLine.Width = vg.Points(1)

	p.Add(lowLine, highLine)
	p.Legend.Add("low", lowLine)
	p.Legend.Add("high", highLine)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
