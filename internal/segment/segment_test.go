package segment

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/flowtrace/internal/encode"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
	"github.com/danielpatrickdp/flowtrace/internal/window"
)

// #region helpers

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// blockAt builds a single-feature block with records at the given offsets.
func blockAt(offsets ...time.Duration) flow.Block {
	b := flow.Block{Features: []string{"v"}}
	for i, d := range offsets {
		b.Records = append(b.Records, flow.Record{Time: epoch.Add(d), Values: []float64{float64(i)}})
	}
	return b
}

// evenly spaces n records gap apart.
func evenly(n int, gap time.Duration) flow.Block {
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = time.Duration(i) * gap
	}
	return blockAt(offsets...)
}

func encoder(t *testing.T) *encode.Encoder {
	t.Helper()
	enc, err := encode.NewEncoder([]string{"v"}, []string{"v"}, encode.Options{})
	require.NoError(t, err)
	return enc
}

func span(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

// union lists every position that appears in some trace, ascending.
func union(indices [][]int) []int {
	seen := map[int]bool{}
	for _, tr := range indices {
		for _, p := range tr {
			seen[p] = true
		}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func run(t *testing.T, b flow.Block, plan window.Plan, cfg Config) (Result, error) {
	t.Helper()
	return Run(context.Background(), b, plan, encoder(t), cfg, zaptest.NewLogger(t))
}

// #endregion helpers

// #region dynamic

func TestRun_ShrinksOversizedFirstWindow(t *testing.T) {
	var windows []time.Duration
	cfg := DefaultConfig(1, 10)
	cfg.Observe = func(s State) {
		if s.Phase == PhaseEmitting {
			windows = append(windows, s.Window)
		}
	}

	res, err := run(t, evenly(31, time.Second), window.Plan{Window: 25 * time.Second, Stride: 5 * time.Second}, cfg)
	require.NoError(t, err)

	assert.Equal(t, [][]int{
		span(0, 6), span(5, 11), span(10, 16), span(15, 21), span(20, 26), span(25, 30),
	}, res.Indices)
	require.NotEmpty(t, windows)
	assert.Equal(t, 6250*time.Millisecond, windows[0])
	assert.Equal(t, 2, res.Stats.Shrinks)
	assert.Nil(t, res.Coverage)
	assert.Len(t, res.Traces, len(res.Indices))
	assert.Equal(t, 7, res.Traces[0].Len())
}

func TestRun_BlockShorterThanWindow(t *testing.T) {
	b := evenly(26, time.Second)
	plan := window.Estimate(b.Times())
	require.Equal(t, window.Plan{Window: 25 * time.Second, Stride: 5 * time.Second}, plan)

	res, err := run(t, b, plan, DefaultConfig(1, 10))
	require.NoError(t, err)

	// The first window spans every record and still has to shrink.
	require.NotEmpty(t, res.Traces)
	assert.LessOrEqual(t, res.Traces[0].Len(), 10)
	assert.Equal(t, 2, res.Stats.Shrinks)
	assert.Equal(t, [][]int{
		span(0, 6), span(5, 11), span(10, 16), span(15, 21), span(20, 25),
	}, res.Indices)
	assert.Equal(t, span(0, 25), union(res.Indices))
	assert.Nil(t, res.Coverage)
}

func TestRun_BoundsHoldOnIrregularBlocks(t *testing.T) {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	bursts := []time.Duration{}
	for b := 0; b < 5; b++ {
		for i := 0; i < 8; i++ {
			bursts = append(bursts, ms(b*30000+i*100))
		}
	}
	gaps := []time.Duration{}
	for i := 0; i < 40; i++ {
		gaps = append(gaps, ms(i*i*100))
	}
	duplicates := []time.Duration{}
	for i := 0; i < 12; i++ {
		duplicates = append(duplicates, 0)
	}
	for i := 1; i <= 20; i++ {
		duplicates = append(duplicates, ms(i*1000))
	}
	for i := 0; i < 6; i++ {
		duplicates = append(duplicates, ms(30000))
	}

	cases := map[string]struct {
		offsets  []time.Duration
		plan     window.Plan
		min, max int
	}{
		"bursts":     {bursts, window.Plan{Window: 10 * time.Second, Stride: 2 * time.Second}, 2, 6},
		"gaps":       {gaps, window.Plan{Window: 2 * time.Second, Stride: time.Second}, 3, 6},
		"duplicates": {duplicates, window.Plan{Window: 5 * time.Second, Stride: time.Second}, 2, 6},
		"wide plan":  {gaps, window.Plan{Window: time.Hour, Stride: 10 * time.Minute}, 2, 8},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := run(t, blockAt(tc.offsets...), tc.plan, DefaultConfig(tc.min, tc.max))
			require.NoError(t, err)
			require.NotEmpty(t, res.Traces)

			outside := 0
			for i, tr := range res.Traces[:len(res.Traces)-1] {
				if n := tr.Len(); n < tc.min || n > tc.max {
					outside++
					t.Logf("trace %d: %d events", i, n)
				}
			}
			assert.LessOrEqual(t, outside, res.Stats.ForcedEmits, "out-of-bounds traces need a forced emit")
			assert.Equal(t, span(0, len(tc.offsets)-1), union(res.Indices))
			assert.Nil(t, res.Coverage)
		})
	}
}

func TestRun_StallAndEmptySkip(t *testing.T) {
	b := blockAt(0, 500*time.Millisecond, 900*time.Millisecond, 5*time.Second, 5500*time.Millisecond)
	res, err := run(t, b, window.Plan{Window: time.Second, Stride: 200 * time.Millisecond}, DefaultConfig(1, 10))
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1, 2}, {1, 2}, {2}, {3, 4}}, res.Indices)
	assert.Equal(t, 1, res.Stats.StallRetries)
	assert.Equal(t, 1, res.Stats.EmptySkips)
	assert.Nil(t, res.Coverage)
}

func TestRun_StrideGrowsUntilNewRecords(t *testing.T) {
	b := blockAt(0, 900*time.Millisecond, 5*time.Second)
	res, err := run(t, b, window.Plan{Window: time.Second, Stride: 100 * time.Millisecond}, DefaultConfig(1, 10))
	require.NoError(t, err)

	assert.Equal(t, [][]int{{0, 1}, {1}, {2}}, res.Indices)
	assert.Equal(t, 4, res.Stats.StallRetries)
}

func TestRun_StallBound(t *testing.T) {
	b := blockAt(0, 900*time.Millisecond, 5*time.Second)
	cfg := DefaultConfig(1, 10)
	cfg.MaxStallRounds = 2

	res, err := run(t, b, window.Plan{Window: time.Second, Stride: 100 * time.Millisecond}, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStalled))

	var stall *StallError
	require.ErrorAs(t, err, &stall)
	assert.Equal(t, 3, stall.Rounds)
	assert.Equal(t, 400*time.Millisecond, stall.Stride)
	// Traces emitted before the stall are kept.
	assert.Len(t, res.Traces, 2)
	require.NotNil(t, res.Coverage)
	assert.Equal(t, []int{2}, res.Coverage.Missing)
}

func TestRun_StrideNeverExceedsWindow(t *testing.T) {
	offsets := []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond}
	for i := 1; i <= 40; i++ {
		offsets = append(offsets, time.Duration(i*i)*100*time.Millisecond)
	}
	cfg := DefaultConfig(3, 6)
	violations := 0
	cfg.Observe = func(s State) {
		if s.Stride > s.Window {
			violations++
		}
	}
	res, err := run(t, blockAt(offsets...), window.Plan{Window: 2 * time.Second, Stride: time.Second}, cfg)
	require.NoError(t, err)
	assert.Zero(t, violations)
	assert.NotEmpty(t, res.Traces)
}

func TestRun_OffsetKeepsPositionsGlobal(t *testing.T) {
	b := evenly(31, time.Second).Slice(0, 31)
	b.Offset = 100
	res, err := run(t, b, window.Plan{Window: 25 * time.Second, Stride: 5 * time.Second}, DefaultConfig(1, 10))
	require.NoError(t, err)
	require.NotEmpty(t, res.Indices)
	assert.Equal(t, span(100, 106), res.Indices[0])
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, evenly(31, time.Second), window.Plan{Window: 5 * time.Second, Stride: time.Second},
		encoder(t), DefaultConfig(1, 10), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_EmptyBlock(t *testing.T) {
	res, err := run(t, flow.Block{Features: []string{"v"}}, window.Plan{}, DefaultConfig(1, 10))
	require.NoError(t, err)
	assert.Empty(t, res.Traces)
}

// #endregion dynamic

// #region static

func TestRun_StaticSlidesByStride(t *testing.T) {
	cfg := DefaultConfig(1, 10)
	cfg.Mode = ModeStatic
	pairs := 0
	cfg.Observe = func(s State) {
		if s.PrevFirst >= 0 {
			pairs++
		}
	}
	res, err := run(t, evenly(31, time.Second), window.Plan{Window: 25 * time.Second, Stride: 5 * time.Second}, cfg)
	require.NoError(t, err)

	assert.Equal(t, [][]int{span(0, 25), span(5, 30)}, res.Indices)
	assert.Zero(t, pairs)
	assert.Zero(t, res.Stats.Shrinks)
}

func TestRun_StaticSchedule(t *testing.T) {
	b := evenly(10, time.Second)
	cfg := DefaultConfig(1, 10)
	cfg.Mode = ModeStatic
	cfg.Schedule = make([]window.Plan, b.Len())
	for i := range cfg.Schedule {
		cfg.Schedule[i] = window.Plan{Window: 2 * time.Second, Stride: 2 * time.Second}
	}
	res, err := run(t, b, window.Plan{Window: time.Hour, Stride: time.Hour}, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Indices)
	assert.Equal(t, []int{0, 1, 2}, res.Indices[0])
	assert.Nil(t, res.Coverage)
}

// #endregion static

// #region content

func TestRun_ContentStrategyDoublesStrideOnRepeats(t *testing.T) {
	b := evenly(40, time.Second)
	for i := range b.Records {
		b.Records[i].Values = []float64{7}
	}
	cfg := DefaultConfig(1, 100)
	cfg.Strategy = StrategyContent
	violations := 0
	cfg.Observe = func(s State) {
		if s.Stride > s.Window {
			violations++
		}
	}
	res, err := run(t, b, window.Plan{Window: 5 * time.Second, Stride: time.Second}, cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Stats.StrideDoubles, 1)
	assert.Zero(t, res.Stats.StrideHalvings)
	assert.Zero(t, res.Stats.Shrinks)
	assert.Zero(t, violations)
	assert.Nil(t, res.Coverage)
}

func TestRun_ContentDistanceError(t *testing.T) {
	cfg := DefaultConfig(1, 100)
	cfg.Strategy = StrategyContent
	cfg.Distance = func(a, b [][]float64) (float64, error) { return 0, errors.New("unavailable") }
	_, err := run(t, evenly(40, time.Second), window.Plan{Window: 5 * time.Second, Stride: time.Second}, cfg)
	assert.ErrorContains(t, err, "unavailable")
}

func TestRun_TrailingWindowSkipsContentSignals(t *testing.T) {
	cfg := DefaultConfig(1, 100)
	cfg.Mode = ModeStatic
	cfg.Strategy = StrategyContent
	calls := 0
	cfg.Distance = func(a, b [][]float64) (float64, error) {
		calls++
		return 0, errors.New("unavailable")
	}
	res, err := run(t, evenly(31, time.Second), window.Plan{Window: 25 * time.Second, Stride: 5 * time.Second}, cfg)
	require.NoError(t, err)
	// The second trace comes from the trailing sweep.
	assert.Equal(t, [][]int{span(0, 25), span(5, 30)}, res.Indices)
	assert.Zero(t, calls)
	assert.Zero(t, res.Stats.StrideDoubles+res.Stats.StrideHalvings+res.Stats.AnomalyResizes)
}

// #endregion content

// #region config

func TestConfig_Validate(t *testing.T) {
	cases := map[string]Config{
		"min below one":  DefaultConfig(0, 10),
		"max below min":  DefaultConfig(5, 4),
		"ceiling":        func() Config { c := DefaultConfig(1, 2); c.Ceiling = time.Nanosecond; return c }(),
		"content bounds": func() Config { c := DefaultConfig(1, 2); c.Strategy = StrategyContent; c.Content.Low = 9; return c }(),
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidBounds)
		})
	}
	assert.NoError(t, DefaultConfig(1, 1).Validate())

	_, err := Run(context.Background(), evenly(3, time.Second), window.Plan{}, nil, DefaultConfig(3, 2), nil)
	assert.ErrorIs(t, err, ErrInvalidBounds)
}

func TestParseModeAndStrategy(t *testing.T) {
	m, err := ParseMode("static")
	require.NoError(t, err)
	assert.Equal(t, ModeStatic, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDynamic, m)
	_, err = ParseMode("sliding")
	assert.Error(t, err)

	s, err := ParseStrategy("content")
	require.NoError(t, err)
	assert.Equal(t, StrategyContent, s)
	assert.Equal(t, "size", StrategySize.String())
	_, err = ParseStrategy("bytes")
	assert.Error(t, err)
}

func TestState_Damp(t *testing.T) {
	s := newState(epoch, time.Second, time.Second)
	for i := 0; i < 20; i++ {
		s.damp()
	}
	assert.Equal(t, 3.0, s.Magnifier)
	assert.Equal(t, 0.025, s.Reducer)

	s.damp()
	assert.Equal(t, 2.975, s.Magnifier)
}

func TestCoverageWarning(t *testing.T) {
	w := &CoverageWarning{Missing: []int{4, 9}}
	assert.Equal(t, "2 records not placed in any trace", w.String())
}

// #endregion config
