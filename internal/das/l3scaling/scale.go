package l3scaling

import (
	"errors"
	"math"
	"sort"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// ErrNoSamples is returned when a window holds no finite samples.
var ErrNoSamples = errors.New("l3scaling: no finite samples to compute percentiles")

// ComputeParameters returns the low and high percentile of the transformed
// samples in blocks. Non-finite values are ignored. When the blocks hold more
// than maxSamples values (maxSamples > 0) they are decimated with a fixed
// stride so the sort stays bounded.
func ComputeParameters(blocks []das.RawBlock, s Settings, maxSamples int) (das.ScalingParameters, error) {
	if err := s.Validate(); err != nil {
		return das.ScalingParameters{}, err
	}
	total := 0
	for _, b := range blocks {
		total += len(b.Data)
	}
	stride := 1
	if maxSamples > 0 && total > maxSamples {
		stride = (total + maxSamples - 1) / maxSamples
	}

	values := make([]float64, 0, total/stride+1)
	i := 0
	for _, b := range blocks {
		for _, v := range b.Data {
			if i%stride == 0 {
				x := s.transform(v)
				if !math.IsNaN(x) && !math.IsInf(x, 0) {
					values = append(values, x)
				}
			}
			i++
		}
	}
	if len(values) == 0 {
		return das.ScalingParameters{}, ErrNoSamples
	}

	sort.Float64s(values)
	low := Percentile(values, s.LowPercentile)
	high := Percentile(values, s.HighPercentile)
	p, err := das.NewScalingParameters(low, high)
	if err != nil {
		return das.ScalingParameters{}, err
	}
	p.Samples = len(values)
	return p, nil
}

// Percentile returns the pth percentile (0..100) of sorted, interpolating
// linearly between the closest ranks at h = p/100*(n-1). sorted must be
// ascending and non-empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := p / 100 * float64(n-1)
	lo := int(math.Floor(h))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Apply maps b onto [0, 255] using p: clip to [p.Low, p.High], map
// linearly, then apply gamma and inversion. A zero-width range yields
// das.MidGray for every sample.
func Apply(b das.RawBlock, p das.ScalingParameters, s Settings) das.ScaledBlock {
	return das.ScaledBlock{
		Seq:            b.Seq,
		Lines:          b.Lines,
		SamplesPerLine: b.SamplesPerLine,
		Pixels:         ApplyInto(make([]uint8, len(b.Data)), b.Data, p, s),
	}
}

// ApplyInto writes the intensities for src into dst, which must have
// len(src) elements, and returns dst.
func ApplyInto(dst []uint8, src []float32, p das.ScalingParameters, s Settings) []uint8 {
	dst = dst[:len(src)]
	if p.Degenerate() {
		for i := range dst {
			dst[i] = das.MidGray
		}
		return dst
	}

	lo, hi := p.Low, p.High
	scale := 1 / (hi - lo)
	applyGamma := s.Gamma != 1 && s.Gamma > 0
	for i, v := range src {
		x := s.transform(v)
		var n float64
		switch {
		case math.IsNaN(x) || x <= lo:
			n = 0
		case x >= hi:
			n = 1
		default:
			n = (x - lo) * scale
		}
		if applyGamma {
			n = math.Pow(n, s.Gamma)
		}
		out := uint8(math.Round(n * 255))
		if s.Invert {
			out = 255 - out
		}
		dst[i] = out
	}
	return dst
}
