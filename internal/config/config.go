// Package config loads flowtrace settings from an optional YAML file,
// FLOWTRACE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/danielpatrickdp/flowtrace/internal/logging"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/segment"
	"github.com/danielpatrickdp/flowtrace/internal/signals"
	"github.com/danielpatrickdp/flowtrace/internal/window"
)

// #region types

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Extract ExtractConfig `mapstructure:"extract"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Store   StoreConfig   `mapstructure:"store"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

type ExtractConfig struct {
	GapThreshold   time.Duration `mapstructure:"gap_threshold"`
	FloorWindow    time.Duration `mapstructure:"floor_window"`
	FloorStride    time.Duration `mapstructure:"floor_stride"`
	Mode           string        `mapstructure:"mode"`             // dynamic | static
	Strategy       string        `mapstructure:"strategy"`         // size | content
	MinTraceLength int           `mapstructure:"min_trace_length"` // 0 = derive per segment
	MaxTraceLength int           `mapstructure:"max_trace_length"` // 0 = derive per segment
	MaxAdjustments int           `mapstructure:"max_adjustments"`
	MaxStallRounds int           `mapstructure:"max_stall_rounds"`
	RollingSize    int           `mapstructure:"rolling_size"` // static mode only; 0 = one plan per segment
	Workers        int           `mapstructure:"workers"`
	Aggregate      bool          `mapstructure:"aggregate"`
	NewFeatures    bool          `mapstructure:"new_features"`
	LimitsFile     string        `mapstructure:"limits_file"`
	Content        ContentConfig `mapstructure:"content"`
}

type ContentConfig struct {
	Low          float64 `mapstructure:"low"`
	High         float64 `mapstructure:"high"`
	Sigma        float64 `mapstructure:"sigma"`
	Multivariate bool    `mapstructure:"multivariate"`
	Normalize    bool    `mapstructure:"normalize"`
	DistanceAddr string  `mapstructure:"distance_addr"` // empty uses the built-in DTW
}

type ReplayConfig struct {
	Kind      string `mapstructure:"kind"`      // train | test
	Unmatched string `mapstructure:"unmatched"` // stay | fail
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// #endregion types

// #region defaults

// DefaultConfig mirrors the defaults Load applies.
func DefaultConfig() Config {
	content := signals.DefaultProducerConfig()
	return Config{
		Log: LogConfig{Level: "info", MaxSize: 100, MaxBackups: 10, MaxAge: 30, Compress: true},
		Extract: ExtractConfig{
			GapThreshold:   1800 * time.Second,
			FloorWindow:    window.DefaultFloor.Window,
			FloorStride:    window.DefaultFloor.Stride,
			Mode:           segment.ModeDynamic.String(),
			Strategy:       segment.StrategySize.String(),
			MaxAdjustments: 1000,
			MaxStallRounds: 64,
			Workers:        1,
			Content: ContentConfig{
				Low:          content.Low,
				High:         content.High,
				Sigma:        content.Sigma,
				Multivariate: content.Multivariate,
				Normalize:    content.Normalize,
			},
		},
		Replay:  ReplayConfig{Kind: "train", Unmatched: "stay"},
		Store:   StoreConfig{Path: "./flowtrace.db"},
		Metrics: MetricsConfig{},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("extract.gap_threshold", d.Extract.GapThreshold)
	v.SetDefault("extract.floor_window", d.Extract.FloorWindow)
	v.SetDefault("extract.floor_stride", d.Extract.FloorStride)
	v.SetDefault("extract.mode", d.Extract.Mode)
	v.SetDefault("extract.strategy", d.Extract.Strategy)
	v.SetDefault("extract.min_trace_length", d.Extract.MinTraceLength)
	v.SetDefault("extract.max_trace_length", d.Extract.MaxTraceLength)
	v.SetDefault("extract.max_adjustments", d.Extract.MaxAdjustments)
	v.SetDefault("extract.max_stall_rounds", d.Extract.MaxStallRounds)
	v.SetDefault("extract.rolling_size", d.Extract.RollingSize)
	v.SetDefault("extract.workers", d.Extract.Workers)
	v.SetDefault("extract.aggregate", d.Extract.Aggregate)
	v.SetDefault("extract.new_features", d.Extract.NewFeatures)
	v.SetDefault("extract.limits_file", d.Extract.LimitsFile)
	v.SetDefault("extract.content.low", d.Extract.Content.Low)
	v.SetDefault("extract.content.high", d.Extract.Content.High)
	v.SetDefault("extract.content.sigma", d.Extract.Content.Sigma)
	v.SetDefault("extract.content.multivariate", d.Extract.Content.Multivariate)
	v.SetDefault("extract.content.normalize", d.Extract.Content.Normalize)
	v.SetDefault("extract.content.distance_addr", d.Extract.Content.DistanceAddr)

	v.SetDefault("replay.kind", d.Replay.Kind)
	v.SetDefault("replay.unmatched", d.Replay.Unmatched)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
}

// #endregion defaults

// #region load

// Load reads path when given, otherwise looks for flowtrace.yaml in the
// working directory and ~/.flowtrace. A missing search-path file is not
// an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowtrace")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.flowtrace")
	}

	v.SetEnvPrefix("FLOWTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// #endregion load

// #region validate

// Validate rejects settings no run can satisfy.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	e := c.Extract
	if e.GapThreshold <= 0 {
		return fmt.Errorf("extract.gap_threshold must be positive, got %s", e.GapThreshold)
	}
	if e.FloorWindow <= 0 || e.FloorStride <= 0 || e.FloorStride > e.FloorWindow {
		return fmt.Errorf("extract floor %s/%s: need 0 < stride <= window", e.FloorWindow, e.FloorStride)
	}
	if _, err := segment.ParseMode(e.Mode); err != nil {
		return fmt.Errorf("extract.mode: %w", err)
	}
	if _, err := segment.ParseStrategy(e.Strategy); err != nil {
		return fmt.Errorf("extract.strategy: %w", err)
	}
	if e.MinTraceLength < 0 || e.MaxTraceLength < 0 {
		return fmt.Errorf("extract trace length overrides must not be negative")
	}
	if e.MinTraceLength > 0 && e.MaxTraceLength > 0 && e.MaxTraceLength < e.MinTraceLength {
		return fmt.Errorf("extract.max_trace_length %d < min_trace_length %d", e.MaxTraceLength, e.MinTraceLength)
	}
	if e.RollingSize < 0 {
		return fmt.Errorf("extract.rolling_size must not be negative, got %d", e.RollingSize)
	}
	if e.Workers < 1 {
		return fmt.Errorf("extract.workers must be at least 1, got %d", e.Workers)
	}
	if e.Content.High < e.Content.Low {
		return fmt.Errorf("extract.content.high %g < low %g", e.Content.High, e.Content.Low)
	}
	if e.Content.Sigma <= 0 {
		return fmt.Errorf("extract.content.sigma must be positive, got %g", e.Content.Sigma)
	}
	if _, err := replay.ParseKind(c.Replay.Kind); err != nil {
		return fmt.Errorf("replay.kind: %w", err)
	}
	if _, err := replay.ParsePolicy(c.Replay.Unmatched); err != nil {
		return fmt.Errorf("replay.unmatched: %w", err)
	}
	return nil
}

// #endregion validate

// #region conversions

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
	}
}

// Segment returns engine settings for the given trace-length bounds.
// Configured overrides replace the derived bounds.
func (c Config) Segment(minLen, maxLen int) (segment.Config, error) {
	e := c.Extract
	if e.MinTraceLength > 0 {
		minLen = e.MinTraceLength
	}
	if e.MaxTraceLength > 0 {
		maxLen = e.MaxTraceLength
	}
	mode, err := segment.ParseMode(e.Mode)
	if err != nil {
		return segment.Config{}, err
	}
	strategy, err := segment.ParseStrategy(e.Strategy)
	if err != nil {
		return segment.Config{}, err
	}
	sc := segment.DefaultConfig(minLen, maxLen)
	sc.Mode = mode
	sc.Strategy = strategy
	sc.MaxAdjustments = e.MaxAdjustments
	sc.MaxStallRounds = e.MaxStallRounds
	sc.Content = signals.ProducerConfig{
		Low:          e.Content.Low,
		High:         e.Content.High,
		Sigma:        e.Content.Sigma,
		Multivariate: e.Content.Multivariate,
		Normalize:    e.Content.Normalize,
	}
	return sc, nil
}

// Floor returns the smallest plan extraction falls back to.
func (c Config) Floor() window.Plan {
	return window.Plan{Window: c.Extract.FloorWindow, Stride: c.Extract.FloorStride}
}

// ReplayOptions returns the replay settings.
func (c Config) ReplayOptions() (replay.Config, error) {
	kind, err := replay.ParseKind(c.Replay.Kind)
	if err != nil {
		return replay.Config{}, err
	}
	policy, err := replay.ParsePolicy(c.Replay.Unmatched)
	if err != nil {
		return replay.Config{}, err
	}
	return replay.Config{Kind: kind, Unmatched: policy}, nil
}

// #endregion conversions
