package segment

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/flowtrace/internal/distance"
	"github.com/danielpatrickdp/flowtrace/internal/signals"
	"github.com/danielpatrickdp/flowtrace/internal/window"
)

// Mode selects how the cursor moves through sparse regions.
type Mode int

const (
	// ModeDynamic snaps to the next unseen record and resizes windows.
	ModeDynamic Mode = iota
	// ModeStatic slides by a fixed stride.
	ModeStatic
)

func (m Mode) String() string {
	if m == ModeStatic {
		return "static"
	}
	return "dynamic"
}

// ParseMode accepts "dynamic" or "static".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "dynamic":
		return ModeDynamic, nil
	case "static":
		return ModeStatic, nil
	}
	return 0, fmt.Errorf("unknown segmentation mode %q", s)
}

// Strategy selects the window control loop.
type Strategy int

const (
	// StrategySize keeps each trace's length within bounds.
	StrategySize Strategy = iota
	// StrategyContent adapts stride and window to trace dissimilarity.
	StrategyContent
)

func (s Strategy) String() string {
	if s == StrategyContent {
		return "content"
	}
	return "size"
}

// ParseStrategy accepts "size" or "content".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "size":
		return StrategySize, nil
	case "content":
		return StrategyContent, nil
	}
	return 0, fmt.Errorf("unknown segmentation strategy %q", s)
}

// Config drives one engine run.
type Config struct {
	MinTraceLength int
	MaxTraceLength int
	Mode           Mode
	Strategy       Strategy

	// Floor is the smallest window and stride the engine will use.
	Floor window.Plan
	// Ceiling caps the window. Zero means no cap beyond overflow safety.
	Ceiling time.Duration

	// MaxAdjustments bounds resize steps per window; reaching it emits
	// the window as is.
	MaxAdjustments int
	// MaxStallRounds bounds stride doubling while no new records appear.
	MaxStallRounds int

	Content  signals.ProducerConfig
	Distance distance.Func // nil uses the reference DTW

	// Schedule optionally gives a plan per record position (static mode).
	Schedule []window.Plan

	// Observe, when set, sees the control state after every mutation.
	Observe func(State)
}

const (
	defaultMaxAdjustments = 1000
	defaultMaxStallRounds = 64
	// hardCeiling keeps window arithmetic clear of Duration overflow.
	hardCeiling = 100 * 365 * 24 * time.Hour
)

// DefaultConfig returns size-driven dynamic segmentation with the given bounds.
func DefaultConfig(minLen, maxLen int) Config {
	return Config{
		MinTraceLength: minLen,
		MaxTraceLength: maxLen,
		Mode:           ModeDynamic,
		Strategy:       StrategySize,
		Floor:          window.Plan{Window: 10 * time.Microsecond, Stride: 2 * time.Microsecond},
		MaxAdjustments: defaultMaxAdjustments,
		MaxStallRounds: defaultMaxStallRounds,
		Content:        signals.DefaultProducerConfig(),
	}
}

// Validate rejects bounds no window can satisfy.
func (c Config) Validate() error {
	if c.MinTraceLength < 1 {
		return fmt.Errorf("%w: min trace length %d < 1", ErrInvalidBounds, c.MinTraceLength)
	}
	if c.MaxTraceLength < c.MinTraceLength {
		return fmt.Errorf("%w: max trace length %d < min %d", ErrInvalidBounds, c.MaxTraceLength, c.MinTraceLength)
	}
	if c.Floor.Window < 0 || c.Floor.Stride < 0 || c.Floor.Stride > c.Floor.Window && c.Floor.Window > 0 {
		return fmt.Errorf("%w: floor stride %s exceeds floor window %s", ErrInvalidBounds, c.Floor.Stride, c.Floor.Window)
	}
	if c.Ceiling > 0 && c.Ceiling < c.Floor.Window {
		return fmt.Errorf("%w: ceiling %s below floor %s", ErrInvalidBounds, c.Ceiling, c.Floor.Window)
	}
	if c.Strategy == StrategyContent && c.Content.High < c.Content.Low {
		return fmt.Errorf("%w: content high %g < low %g", ErrInvalidBounds, c.Content.High, c.Content.Low)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxAdjustments <= 0 {
		c.MaxAdjustments = defaultMaxAdjustments
	}
	if c.MaxStallRounds <= 0 {
		c.MaxStallRounds = defaultMaxStallRounds
	}
	if c.Floor.Window <= 0 {
		c.Floor.Window = time.Nanosecond
	}
	if c.Floor.Stride <= 0 {
		c.Floor.Stride = time.Nanosecond
	}
	if c.Ceiling <= 0 || c.Ceiling > hardCeiling {
		c.Ceiling = hardCeiling
	}
	return c
}
