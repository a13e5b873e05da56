package window

import (
	"time"

	"github.com/montanaflynn/stats"
)

// #region types

// Plan is an initial window length and stride for one record block.
type Plan struct {
	Window time.Duration
	Stride time.Duration
}

// DefaultFloor replaces a zero plan (single-record blocks).
var DefaultFloor = Plan{Window: 25 * time.Millisecond, Stride: 5 * time.Millisecond}

const (
	blockWindowScale   = 25
	blockStrideScale   = 5
	rollingWindowScale = 100
	rollingStrideScale = 20
)

// IsZero reports whether the plan has a zero-length window.
func (p Plan) IsZero() bool {
	return p.Window <= 0
}

// OrFloor substitutes floor when p is degenerate.
func (p Plan) OrFloor(floor Plan) Plan {
	if p.IsZero() || p.Stride <= 0 {
		return floor
	}
	return p
}

// #endregion types

// #region estimate

// Estimate derives a plan from the median inter-arrival gap of times:
// window = 25 x median, stride = 5 x median. Fewer than two timestamps
// yield the zero Plan and callers substitute a floor.
func Estimate(times []time.Time) Plan {
	gaps := Gaps(times)
	if len(gaps) == 0 {
		return Plan{}
	}
	med, err := stats.Median(gaps)
	if err != nil {
		return Plan{}
	}
	return scaled(med, blockWindowScale, blockStrideScale)
}

// EstimateRolling returns one plan per position using a trailing rolling
// median over the last size gaps (at least one gap per window), scaled
// 100x for the window and 20x for the stride. Position 0 has no preceding
// gap and reuses position 1's estimate.
func EstimateRolling(times []time.Time, size int) []Plan {
	if len(times) < 2 {
		return make([]Plan, len(times))
	}
	if size < 1 {
		size = 1
	}
	gaps := Gaps(times)
	plans := make([]Plan, len(times))
	for i := range gaps {
		lo := i - size + 1
		if lo < 0 {
			lo = 0
		}
		med, err := stats.Median(gaps[lo : i+1])
		if err != nil {
			continue
		}
		plans[i+1] = scaled(med, rollingWindowScale, rollingStrideScale)
	}
	plans[0] = plans[1]
	return plans
}

// Gaps returns consecutive differences of the sorted timestamps in nanoseconds.
func Gaps(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	out := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		out[i-1] = float64(times[i].Sub(times[i-1]))
	}
	return out
}

func scaled(gap float64, w, s float64) Plan {
	return Plan{
		Window: time.Duration(gap * w),
		Stride: time.Duration(gap * s),
	}
}

// #endregion estimate
