package driver

import (
	"fmt"
	"strings"

	"github.com/banshee-data/das-waterfall/internal/das"
	"github.com/banshee-data/das-waterfall/internal/das/l1blocks"
)

// ScanRate is the pulse repetition rate. Values are the vendor codes.
type ScanRate int

const (
	ScanRate1k ScanRate = iota
	ScanRate2k
	ScanRate4k
	ScanRate10k
)

var scanRateNames = []string{"1k", "2k", "4k", "10k"}
var scanRateHz = []float64{1000, 2000, 4000, 10000}

func (r ScanRate) String() string {
	if r < 0 || int(r) >= len(scanRateNames) {
		return fmt.Sprintf("ScanRate(%d)", int(r))
	}
	return scanRateNames[r]
}

// Hz returns the rate in lines per second, or 0 for unknown codes.
func (r ScanRate) Hz() float64 {
	if r < 0 || int(r) >= len(scanRateHz) {
		return 0
	}
	return scanRateHz[r]
}

// ParseScanRate accepts 1k, 2k, 4k and 10k.
func ParseScanRate(s string) (ScanRate, error) {
	for i, n := range scanRateNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return ScanRate(i), nil
		}
	}
	return 0, fmt.Errorf("%w: scan rate %q (want 1k, 2k, 4k or 10k)", das.ErrInvalidParameter, s)
}

func (r ScanRate) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *ScanRate) UnmarshalText(b []byte) error {
	v, err := ParseScanRate(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Demodulation selects the vendor demodulation mode.
type Demodulation int

const (
	CoherentSuppression Demodulation = iota
	PolarizationSuppression
	CoherentPolarizationSuppression
)

var demodNames = []string{"coherent", "polarization", "coherent-polarization"}

func (m Demodulation) String() string {
	if m < 0 || int(m) >= len(demodNames) {
		return fmt.Sprintf("Demodulation(%d)", int(m))
	}
	return demodNames[m]
}

// ParseDemodulation accepts coherent, polarization and coherent-polarization.
func ParseDemodulation(s string) (Demodulation, error) {
	for i, n := range demodNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Demodulation(i), nil
		}
	}
	return 0, fmt.Errorf("%w: demodulation mode %q", das.ErrInvalidParameter, s)
}

func (m Demodulation) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Demodulation) UnmarshalText(b []byte) error {
	v, err := ParseDemodulation(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Stream selects which of the device's data streams is delivered.
type Stream string

const (
	StreamAmplitude Stream = "amp"
	StreamPhase     Stream = "phase"
)

// Params is the full device configuration for one session.
type Params struct {
	Lines          int          `json:"lines"`
	SamplesPerLine int          `json:"samples_per_line"`
	ScanRate       ScanRate     `json:"scan_rate"`
	Mode           Demodulation `json:"mode"`
	// AOM is the acousto-optic modulator frequency in MHz: 80 or 200.
	AOM        int `json:"aom"`
	PulseWidth int `json:"pulse_width"`
	ScaleDown  int `json:"scale_down"`
	// ReadBlockCount is how many blocks the device delivers per callback.
	ReadBlockCount  int    `json:"read_block_count"`
	CacheBlockCount int    `json:"cache_block_count"`
	Channel         int    `json:"channel"`
	Stream          Stream `json:"stream"`
}

// DefaultParams matches the usual bench configuration.
func DefaultParams() Params {
	return Params{
		Lines:           250,
		SamplesPerLine:  512,
		ScanRate:        ScanRate10k,
		Mode:            CoherentSuppression,
		AOM:             80,
		PulseWidth:      100,
		ScaleDown:       3,
		ReadBlockCount:  1,
		CacheBlockCount: 64,
		Channel:         1,
		Stream:          StreamAmplitude,
	}
}

// Validate checks every field against the device's accepted ranges.
func (p Params) Validate() error {
	var problems []string
	if err := p.Shape().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("block shape %dx%d", p.Lines, p.SamplesPerLine))
	}
	if p.ScanRate.Hz() == 0 {
		problems = append(problems, "scan rate "+p.ScanRate.String())
	}
	if p.Mode < CoherentSuppression || p.Mode > CoherentPolarizationSuppression {
		problems = append(problems, "mode "+p.Mode.String())
	}
	if p.AOM != 80 && p.AOM != 200 {
		problems = append(problems, fmt.Sprintf("aom %d (want 80 or 200)", p.AOM))
	}
	if p.PulseWidth < 1 || p.PulseWidth > 2000 {
		problems = append(problems, fmt.Sprintf("pulse width %d (want 1..2000)", p.PulseWidth))
	}
	if p.ScaleDown < 1 || p.ScaleDown > 10 {
		problems = append(problems, fmt.Sprintf("scale down %d (want 1..10)", p.ScaleDown))
	}
	if p.ReadBlockCount < 1 {
		problems = append(problems, fmt.Sprintf("read block count %d", p.ReadBlockCount))
	}
	if p.CacheBlockCount < p.ReadBlockCount {
		problems = append(problems, fmt.Sprintf("cache block count %d below read block count %d", p.CacheBlockCount, p.ReadBlockCount))
	}
	if p.Channel != 1 && p.Channel != 2 {
		problems = append(problems, fmt.Sprintf("channel %d (want 1 or 2)", p.Channel))
	}
	if p.Stream != StreamAmplitude && p.Stream != StreamPhase {
		problems = append(problems, fmt.Sprintf("stream %q (want amp or phase)", p.Stream))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", das.ErrInvalidParameter, strings.Join(problems, "; "))
	}
	return nil
}

// Shape is the decoder geometry for one block.
func (p Params) Shape() l1blocks.Shape {
	return l1blocks.Shape{Lines: p.Lines, SamplesPerLine: p.SamplesPerLine}
}

// CallbacksPerSecond is the expected callback rate: each callback carries
// ReadBlockCount blocks of Lines lines at the scan rate.
func (p Params) CallbacksPerSecond() float64 {
	n := p.Lines * max(p.ReadBlockCount, 1)
	if n <= 0 {
		return 0
	}
	return p.ScanRate.Hz() / float64(n)
}

// BufferBytes is the byte length of one callback buffer.
func (p Params) BufferBytes() int {
	return p.Shape().BlockBytes() * max(p.ReadBlockCount, 1)
}
