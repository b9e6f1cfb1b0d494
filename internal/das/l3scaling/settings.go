package l3scaling

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/das-waterfall/internal/das"
)

// Mode is a pointwise transform applied to each sample before scaling.
type Mode int

const (
	// Linear scales the raw value.
	Linear Mode = iota
	// Abs scales |x|.
	Abs
	// Log scales 20*log10(|x|+eps), in dB.
	Log
)

func (m Mode) String() string {
	switch m {
	case Linear:
		return "linear"
	case Abs:
		return "abs"
	case Log:
		return "log"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts linear, abs and log (or db).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return Linear, nil
	case "abs":
		return Abs, nil
	case "log", "db":
		return Log, nil
	default:
		return 0, fmt.Errorf("%w: unknown scaling mode %q", das.ErrInvalidParameter, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Settings control how samples become intensities. A Settings value is
// immutable once handed to a Scaler.
type Settings struct {
	Mode Mode `json:"mode"`
	// LowPercentile and HighPercentile are in [0, 100].
	LowPercentile  float64 `json:"percentile_low"`
	HighPercentile float64 `json:"percentile_high"`
	// Gamma is applied to the normalised [0, 1] value; 1 is linear.
	Gamma  float64 `json:"gamma"`
	Invert bool    `json:"invert"`
	// Eps keeps Log mode finite at zero.
	Eps float64 `json:"eps"`
}

// DefaultSettings returns 2nd/98th percentile linear scaling.
func DefaultSettings() Settings {
	return Settings{
		Mode:           Linear,
		LowPercentile:  2,
		HighPercentile: 98,
		Gamma:          1,
		Eps:            1e-6,
	}
}

// Validate checks ranges.
func (s Settings) Validate() error {
	switch {
	case s.Mode < Linear || s.Mode > Log:
		return fmt.Errorf("%w: scaling mode %v", das.ErrInvalidParameter, s.Mode)
	case !(s.LowPercentile >= 0 && s.LowPercentile <= s.HighPercentile && s.HighPercentile <= 100):
		return fmt.Errorf("%w: percentiles must satisfy 0 <= low (%v) <= high (%v) <= 100",
			das.ErrInvalidParameter, s.LowPercentile, s.HighPercentile)
	case !(s.Gamma > 0) || math.IsInf(s.Gamma, 0):
		return fmt.Errorf("%w: gamma %v must be positive", das.ErrInvalidParameter, s.Gamma)
	case !(s.Eps > 0) || math.IsInf(s.Eps, 0):
		return fmt.Errorf("%w: eps %v must be positive", das.ErrInvalidParameter, s.Eps)
	}
	return nil
}

// transform applies the mode to one sample.
func (s *Settings) transform(v float32) float64 {
	x := float64(v)
	switch s.Mode {
	case Abs:
		return math.Abs(x)
	case Log:
		return 20 * math.Log10(math.Abs(x)+s.Eps)
	default:
		return x
	}
}
