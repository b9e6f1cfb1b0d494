// Package config loads the waterfall configuration file. Every field is
// optional: Get* accessors fall back to the documented defaults, so a
// partial file only overrides what it names.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/das-waterfall/internal/das/driver"
	"github.com/banshee-data/das-waterfall/internal/das/l2queue"
	"github.com/banshee-data/das-waterfall/internal/das/l3scaling"
	"github.com/banshee-data/das-waterfall/internal/das/pipeline"
	"github.com/banshee-data/das-waterfall/internal/das/session"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/waterfall.defaults.json"

const maxFileSize = 1 << 20

// Config is the root of the configuration file.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Source      SourceConfig      `json:"source" yaml:"source"`
	Acquisition AcquisitionConfig `json:"acquisition" yaml:"acquisition"`
	Queue       QueueConfig       `json:"queue" yaml:"queue"`
	Scaling     ScalingConfig     `json:"scaling" yaml:"scaling"`
	Render      RenderConfig      `json:"render" yaml:"render"`
	// StatsLogInterval is a duration string; "0s" or negative disables the
	// periodic counters log.
	StatsLogInterval *string `json:"stats_log_interval,omitempty" yaml:"stats_log_interval,omitempty"`
}

// ServerConfig holds the listen addresses and process-level options. The
// matching command-line flags take precedence.
type ServerConfig struct {
	Listen     *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	DBPath     *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	// Forward is a host:port that decoded blocks are re-emitted to; empty
	// disables forwarding.
	Forward *string `json:"forward,omitempty" yaml:"forward,omitempty"`
	Debug   *bool   `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// SourceConfig selects and configures the acquisition driver.
type SourceConfig struct {
	// Driver is one of synthetic, udp, pcap, serial, explorex.
	Driver     *string  `json:"driver,omitempty" yaml:"driver,omitempty"`
	UDPAddress *string  `json:"udp_address,omitempty" yaml:"udp_address,omitempty"`
	PCAPFile   *string  `json:"pcap_file,omitempty" yaml:"pcap_file,omitempty"`
	PCAPDir    *string  `json:"pcap_dir,omitempty" yaml:"pcap_dir,omitempty"`
	PCAPPort   *int     `json:"pcap_port,omitempty" yaml:"pcap_port,omitempty"`
	PCAPSpeed  *float64 `json:"pcap_speed,omitempty" yaml:"pcap_speed,omitempty"`
	PCAPLoop   *bool    `json:"pcap_loop,omitempty" yaml:"pcap_loop,omitempty"`
	SerialPort *string  `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	SerialBaud *int     `json:"serial_baud,omitempty" yaml:"serial_baud,omitempty"`
	// SyntheticMalformedEvery truncates every Nth synthetic buffer; 0 never.
	SyntheticMalformedEvery *int `json:"synthetic_malformed_every,omitempty" yaml:"synthetic_malformed_every,omitempty"`
}

// AcquisitionConfig mirrors driver.Params.
type AcquisitionConfig struct {
	Lines           *int    `json:"lines,omitempty" yaml:"lines,omitempty"`
	SamplesPerLine  *int    `json:"samples_per_line,omitempty" yaml:"samples_per_line,omitempty"`
	ScanRate        *string `json:"scan_rate,omitempty" yaml:"scan_rate,omitempty"`
	Mode            *string `json:"mode,omitempty" yaml:"mode,omitempty"`
	AOM             *int    `json:"aom,omitempty" yaml:"aom,omitempty"`
	PulseWidth      *int    `json:"pulse_width,omitempty" yaml:"pulse_width,omitempty"`
	ScaleDown       *int    `json:"scale_down,omitempty" yaml:"scale_down,omitempty"`
	ReadBlockCount  *int    `json:"read_block_count,omitempty" yaml:"read_block_count,omitempty"`
	CacheBlockCount *int    `json:"cache_block_count,omitempty" yaml:"cache_block_count,omitempty"`
	Channel         *int    `json:"channel,omitempty" yaml:"channel,omitempty"`
	Stream          *string `json:"stream,omitempty" yaml:"stream,omitempty"`
	StartTimeout    *string `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty"`
}

type QueueConfig struct {
	Policy *string `json:"policy,omitempty" yaml:"policy,omitempty"`
	// Capacity 0 derives about one second of callbacks.
	Capacity    *int `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	MinCapacity *int `json:"min_capacity,omitempty" yaml:"min_capacity,omitempty"`
}

type ScalingConfig struct {
	PercentileLow        *float64 `json:"percentile_low,omitempty" yaml:"percentile_low,omitempty"`
	PercentileHigh       *float64 `json:"percentile_high,omitempty" yaml:"percentile_high,omitempty"`
	RecomputeEveryBlocks *int     `json:"recompute_every_blocks,omitempty" yaml:"recompute_every_blocks,omitempty"`
	RecomputeInterval    *string  `json:"recompute_interval,omitempty" yaml:"recompute_interval,omitempty"`
	WindowBlocks         *int     `json:"window_blocks,omitempty" yaml:"window_blocks,omitempty"`
	MaxWindowSamples     *int     `json:"max_window_samples,omitempty" yaml:"max_window_samples,omitempty"`
	Mode                 *string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	Gamma                *float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
	Invert               *bool    `json:"invert,omitempty" yaml:"invert,omitempty"`
	Eps                  *float64 `json:"eps,omitempty" yaml:"eps,omitempty"`
}

type RenderConfig struct {
	FrameRate     *float64 `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	MaxDrain      *int     `json:"max_drain,omitempty" yaml:"max_drain,omitempty"`
	WaterfallRows *int     `json:"waterfall_rows,omitempty" yaml:"waterfall_rows,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	p := driver.DefaultParams()
	s := l3scaling.DefaultSettings()
	sc := l3scaling.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Listen:     ptrString(":8080"),
			GRPCListen: ptrString(":50051"),
			DBPath:     ptrString("das-waterfall.db"),
			Forward:    ptrString(""),
			Debug:      ptrBool(false),
		},
		Source: SourceConfig{
			Driver:                  ptrString("synthetic"),
			UDPAddress:              ptrString(":2370"),
			PCAPFile:                ptrString(""),
			PCAPDir:                 ptrString(""),
			PCAPPort:                ptrInt(0),
			PCAPSpeed:               ptrFloat64(1),
			PCAPLoop:                ptrBool(false),
			SerialPort:              ptrString("/dev/ttyUSB0"),
			SerialBaud:              ptrInt(921600),
			SyntheticMalformedEvery: ptrInt(0),
		},
		Acquisition: AcquisitionConfig{
			Lines:           ptrInt(p.Lines),
			SamplesPerLine:  ptrInt(p.SamplesPerLine),
			ScanRate:        ptrString(p.ScanRate.String()),
			Mode:            ptrString(p.Mode.String()),
			AOM:             ptrInt(p.AOM),
			PulseWidth:      ptrInt(p.PulseWidth),
			ScaleDown:       ptrInt(p.ScaleDown),
			ReadBlockCount:  ptrInt(p.ReadBlockCount),
			CacheBlockCount: ptrInt(p.CacheBlockCount),
			Channel:         ptrInt(p.Channel),
			Stream:          ptrString(string(p.Stream)),
			StartTimeout:    ptrString("3s"),
		},
		Queue: QueueConfig{
			Policy:      ptrString(l2queue.DropOldest.String()),
			Capacity:    ptrInt(0),
			MinCapacity: ptrInt(4),
		},
		Scaling: ScalingConfig{
			PercentileLow:        ptrFloat64(s.LowPercentile),
			PercentileHigh:       ptrFloat64(s.HighPercentile),
			RecomputeEveryBlocks: ptrInt(sc.EveryBlocks),
			RecomputeInterval:    ptrString(sc.Interval.String()),
			WindowBlocks:         ptrInt(sc.WindowBlocks),
			MaxWindowSamples:     ptrInt(sc.MaxWindowSamples),
			Mode:                 ptrString(s.Mode.String()),
			Gamma:                ptrFloat64(s.Gamma),
			Invert:               ptrBool(s.Invert),
			Eps:                  ptrFloat64(s.Eps),
		},
		Render: RenderConfig{
			FrameRate:     ptrFloat64(pipeline.MaxFrameRate),
			MaxDrain:      ptrInt(0),
			WaterfallRows: ptrInt(600),
		},
		StatsLogInterval: ptrString("10s"),
	}
}

// LoadConfig reads a .json, .yaml or .yml file. Unknown fields are an error.
// Fields the file omits keep their defaults through the Get* accessors.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics if the file is missing, for test setup.
func MustLoadDefaultConfig() *Config {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate builds every runtime configuration and returns the first error.
func (c *Config) Validate() error {
	if _, err := c.Params(); err != nil {
		return err
	}
	if _, err := c.SessionConfig(); err != nil {
		return err
	}
	if _, err := c.ScalingSettings(); err != nil {
		return err
	}
	if _, err := c.ScalerConfig(); err != nil {
		return err
	}
	if _, err := c.SchedulerConfig(); err != nil {
		return err
	}
	if n := c.GetWaterfallRows(); n <= 0 {
		return fmt.Errorf("render.waterfall_rows must be positive, got %d", n)
	}
	if _, err := parseDuration("stats_log_interval", c.StatsLogInterval, 0); err != nil {
		return err
	}
	switch d := c.GetDriver(); d {
	case "synthetic", "udp", "pcap", "serial", "explorex":
	default:
		return fmt.Errorf("source.driver %q (want synthetic, udp, pcap, serial or explorex)", d)
	}
	if c.GetDriver() == "pcap" && c.GetPCAPFile() == "" {
		return errors.New("source.pcap_file is required for the pcap driver")
	}
	if s := c.GetPCAPSpeed(); !(s >= 0) {
		return fmt.Errorf("source.pcap_speed must be >= 0, got %v", s)
	}
	return nil
}

func parseDuration(name string, s *string, def time.Duration) (time.Duration, error) {
	if s == nil || *s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s '%s': %w", name, *s, err)
	}
	return d, nil
}

func getString(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Params returns the acquisition parameters, validated.
func (c *Config) Params() (driver.Params, error) {
	a := c.Acquisition
	p := driver.DefaultParams()
	p.Lines = getInt(a.Lines, p.Lines)
	p.SamplesPerLine = getInt(a.SamplesPerLine, p.SamplesPerLine)
	if a.ScanRate != nil {
		r, err := driver.ParseScanRate(*a.ScanRate)
		if err != nil {
			return driver.Params{}, err
		}
		p.ScanRate = r
	}
	if a.Mode != nil {
		m, err := driver.ParseDemodulation(*a.Mode)
		if err != nil {
			return driver.Params{}, err
		}
		p.Mode = m
	}
	p.AOM = getInt(a.AOM, p.AOM)
	p.PulseWidth = getInt(a.PulseWidth, p.PulseWidth)
	p.ScaleDown = getInt(a.ScaleDown, p.ScaleDown)
	p.ReadBlockCount = getInt(a.ReadBlockCount, p.ReadBlockCount)
	p.CacheBlockCount = getInt(a.CacheBlockCount, p.CacheBlockCount)
	p.Channel = getInt(a.Channel, p.Channel)
	p.Stream = driver.Stream(getString(a.Stream, string(p.Stream)))
	if err := p.Validate(); err != nil {
		return driver.Params{}, err
	}
	return p, nil
}

// SessionConfig returns the session timeouts and queue sizing.
func (c *Config) SessionConfig() (session.Config, error) {
	policy, err := l2queue.ParsePolicy(getString(c.Queue.Policy, ""))
	if err != nil {
		return session.Config{}, err
	}
	timeout, err := parseDuration("acquisition.start_timeout", c.Acquisition.StartTimeout, 3*time.Second)
	if err != nil {
		return session.Config{}, err
	}
	if timeout <= 0 {
		return session.Config{}, fmt.Errorf("acquisition.start_timeout must be positive, got %v", timeout)
	}
	capacity := getInt(c.Queue.Capacity, 0)
	minCapacity := getInt(c.Queue.MinCapacity, 4)
	if capacity < 0 || minCapacity < 1 {
		return session.Config{}, fmt.Errorf("queue capacity %d / min_capacity %d out of range", capacity, minCapacity)
	}
	return session.Config{
		StartTimeout:     timeout,
		QueueCapacity:    capacity,
		MinQueueCapacity: minCapacity,
		QueuePolicy:      policy,
		StatsLogInterval: c.GetStatsLogInterval(),
	}, nil
}

// ScalingSettings returns the initial intensity mapping, validated.
func (c *Config) ScalingSettings() (l3scaling.Settings, error) {
	s := l3scaling.DefaultSettings()
	sc := c.Scaling
	if sc.Mode != nil {
		m, err := l3scaling.ParseMode(*sc.Mode)
		if err != nil {
			return l3scaling.Settings{}, err
		}
		s.Mode = m
	}
	s.LowPercentile = getFloat(sc.PercentileLow, s.LowPercentile)
	s.HighPercentile = getFloat(sc.PercentileHigh, s.HighPercentile)
	s.Gamma = getFloat(sc.Gamma, s.Gamma)
	s.Invert = getBool(sc.Invert, s.Invert)
	s.Eps = getFloat(sc.Eps, s.Eps)
	if err := s.Validate(); err != nil {
		return l3scaling.Settings{}, err
	}
	return s, nil
}

// ScalerConfig returns the recompute cadence and window bounds.
func (c *Config) ScalerConfig() (l3scaling.Config, error) {
	d := l3scaling.DefaultConfig()
	interval, err := parseDuration("scaling.recompute_interval", c.Scaling.RecomputeInterval, d.Interval)
	if err != nil {
		return l3scaling.Config{}, err
	}
	cfg := l3scaling.Config{
		EveryBlocks:      getInt(c.Scaling.RecomputeEveryBlocks, d.EveryBlocks),
		Interval:         interval,
		WindowBlocks:     getInt(c.Scaling.WindowBlocks, d.WindowBlocks),
		MaxWindowSamples: getInt(c.Scaling.MaxWindowSamples, d.MaxWindowSamples),
	}
	if cfg.EveryBlocks < 1 || cfg.Interval <= 0 || cfg.WindowBlocks < 1 || cfg.MaxWindowSamples < 1 {
		return l3scaling.Config{}, fmt.Errorf("scaling cadence out of range: every %d blocks / %v, window %d blocks / %d samples",
			cfg.EveryBlocks, cfg.Interval, cfg.WindowBlocks, cfg.MaxWindowSamples)
	}
	return cfg, nil
}

// SchedulerConfig returns the render loop settings.
func (c *Config) SchedulerConfig() (pipeline.Config, error) {
	cfg := pipeline.Config{
		FrameRate: getFloat(c.Render.FrameRate, pipeline.MaxFrameRate),
		MaxDrain:  getInt(c.Render.MaxDrain, 0),
	}
	if _, err := pipeline.IntervalForRate(cfg.FrameRate); err != nil {
		return pipeline.Config{}, err
	}
	if cfg.MaxDrain < 0 {
		return pipeline.Config{}, fmt.Errorf("render.max_drain must be >= 0, got %d", cfg.MaxDrain)
	}
	return cfg, nil
}

func (c *Config) GetWaterfallRows() int { return getInt(c.Render.WaterfallRows, 600) }

// GetStatsLogInterval returns the counters log period; 0 or less disables it.
func (c *Config) GetStatsLogInterval() time.Duration {
	d, err := parseDuration("stats_log_interval", c.StatsLogInterval, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	if d <= 0 {
		return -1
	}
	return d
}

func (c *Config) GetListen() string     { return getString(c.Server.Listen, ":8080") }
func (c *Config) GetGRPCListen() string { return getString(c.Server.GRPCListen, ":50051") }
func (c *Config) GetDBPath() string     { return getString(c.Server.DBPath, "das-waterfall.db") }
func (c *Config) GetForward() string    { return getString(c.Server.Forward, "") }
func (c *Config) GetDebug() bool        { return getBool(c.Server.Debug, false) }

func (c *Config) GetDriver() string {
	return strings.ToLower(getString(c.Source.Driver, "synthetic"))
}
func (c *Config) GetUDPAddress() string { return getString(c.Source.UDPAddress, ":2370") }
func (c *Config) GetPCAPFile() string   { return getString(c.Source.PCAPFile, "") }
func (c *Config) GetPCAPDir() string    { return getString(c.Source.PCAPDir, "") }
func (c *Config) GetPCAPPort() int      { return getInt(c.Source.PCAPPort, 0) }
func (c *Config) GetPCAPSpeed() float64 { return getFloat(c.Source.PCAPSpeed, 1) }
func (c *Config) GetPCAPLoop() bool     { return getBool(c.Source.PCAPLoop, false) }
func (c *Config) GetSerialPort() string { return getString(c.Source.SerialPort, "/dev/ttyUSB0") }
func (c *Config) GetSerialBaud() int    { return getInt(c.Source.SerialBaud, 921600) }
func (c *Config) GetSyntheticMalformedEvery() int {
	return getInt(c.Source.SyntheticMalformedEvery, 0)
}
