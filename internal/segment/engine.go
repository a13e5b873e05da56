// Package segment cuts a time-ordered record block into traces with an
// adaptive sliding window.
package segment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/flowtrace/internal/encode"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
	"github.com/danielpatrickdp/flowtrace/internal/signals"
	"github.com/danielpatrickdp/flowtrace/internal/window"
)

// #region types

// Encoder turns a window's records into a trace.
type Encoder interface {
	Encode(records []flow.Record) encode.Trace
}

// Stats counts control-loop decisions over one run.
type Stats struct {
	Windows        int `json:"windows"`
	StallRetries   int `json:"stall_retries"`
	Shrinks        int `json:"shrinks"`
	Grows          int `json:"grows"`
	ForcedEmits    int `json:"forced_emits"`
	EmptySkips     int `json:"empty_skips"`
	AnomalyResizes int `json:"anomaly_resizes"`
	StrideDoubles  int `json:"stride_doubles"`
	StrideHalvings int `json:"stride_halvings"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Windows += o.Windows
	s.StallRetries += o.StallRetries
	s.Shrinks += o.Shrinks
	s.Grows += o.Grows
	s.ForcedEmits += o.ForcedEmits
	s.EmptySkips += o.EmptySkips
	s.AnomalyResizes += o.AnomalyResizes
	s.StrideDoubles += o.StrideDoubles
	s.StrideHalvings += o.StrideHalvings
}

// Result holds traces and their global record positions, index-aligned.
type Result struct {
	Traces   []encode.Trace
	Indices  [][]int
	Stats    Stats
	Coverage *CoverageWarning
}

// #endregion types

// #region run

type engine struct {
	cfg      Config
	block    flow.Block
	times    []time.Time
	enc      Encoder
	log      *zap.Logger
	producer *signals.Producer

	st         State
	placements []int
	emitted    int // highest local position placed so far
	progress   int // last logged decile
	res        Result
}

// Run segments block starting from plan. Positions in the result are
// global (block.Offset applied). The first window is always sized, even
// when it already reaches the last record.
//
// A run that returns no error places every record: the trailing sweep
// covers whatever the main loop left. Result.Coverage is therefore only
// set when Run stops early, and lists the records the kept traces miss.
func Run(ctx context.Context, block flow.Block, plan window.Plan, enc Encoder, cfg Config, logger *zap.Logger) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if block.Len() == 0 {
		return Result{}, nil
	}
	cfg = cfg.withDefaults()
	plan = plan.OrFloor(cfg.Floor)

	e := &engine{
		cfg:        cfg,
		block:      block,
		times:      block.Times(),
		enc:        enc,
		log:        logger,
		placements: make([]int, block.Len()),
		emitted:    -1,
	}
	if cfg.Strategy == StrategyContent {
		e.producer = signals.NewProducer(cfg.Distance, cfg.Content)
	}
	e.st = newState(e.times[0], plan.Window, plan.Stride)
	e.applySchedule()
	e.clamp()

	err := e.loop(ctx)
	if err == nil {
		e.sweep()
	}
	e.checkCoverage()
	return e.res, err
}

func (e *engine) last() time.Time { return e.times[len(e.times)-1] }

func (e *engine) loop(ctx context.Context) error {
	for first := true; first || e.st.End.Before(e.last()); first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.st.Phase = PhaseScanning
		lo, hi := e.mask()
		if hi == lo {
			if !e.skipEmpty() {
				return nil
			}
			continue
		}

		if e.cfg.Mode == ModeDynamic {
			e.st.record(lo, hi-1)
			var err error
			if lo, hi, err = e.unstall(lo, hi); err != nil {
				return err
			}
			if e.cfg.Strategy == StrategySize {
				lo, hi = e.resize(lo, hi)
			}
			e.st.FirstWindow = false
		}
		if hi == lo {
			e.st.advance()
			e.observe()
			continue
		}

		e.emit(lo, hi)
		if e.producer != nil && len(e.res.Traces) >= 2 {
			if err := e.adapt(); err != nil {
				return err
			}
		}
		e.st.advance()
		e.applySchedule()
		e.clamp()
	}
	return nil
}

// mask returns the local positions [lo, hi) with Start <= t <= End.
func (e *engine) mask() (int, int) {
	return e.maskOf(e.st.Start, e.st.End)
}

func (e *engine) maskOf(start, end time.Time) (int, int) {
	lo := sort.Search(len(e.times), func(i int) bool { return !e.times[i].Before(start) })
	hi := sort.Search(len(e.times), func(i int) bool { return e.times[i].After(end) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// #endregion run

// #region control

// skipEmpty moves past a window without records. It reports false when
// there is nowhere left to go.
func (e *engine) skipEmpty() bool {
	e.res.Stats.EmptySkips++
	if e.cfg.Mode == ModeStatic {
		e.st.advance()
		e.applySchedule()
		e.clamp()
		return true
	}
	e.log.Debug("no records in window, moving to next unseen record",
		zap.Time("start", e.st.Start), zap.Duration("window", e.st.Window), zap.Duration("stride", e.st.Stride))
	next := e.st.lastVisited() + 1
	if next >= len(e.times) {
		return false
	}
	if !e.times[next].After(e.st.Start) {
		e.st.advance()
		e.observe()
		return true
	}
	e.st.moveTo(e.times[next])
	e.observe()
	return true
}

// unstall grows the stride while the newest window repeats the previous
// one, snapping to the next unseen record when the window empties or
// jumps past it.
func (e *engine) unstall(lo, hi int) (int, int, error) {
	rounds := 0
	for e.st.unchanged() {
		rounds++
		if rounds > e.cfg.MaxStallRounds {
			return lo, hi, &StallError{Start: e.st.Start, Window: e.st.Window, Stride: e.st.Stride, Rounds: rounds}
		}
		e.res.Stats.StallRetries++
		e.st.Phase = PhaseStalled
		e.log.Debug("no change between traces, increasing stride",
			zap.Time("start", e.st.Start), zap.Duration("window", e.st.Window), zap.Duration("stride", e.st.Stride))

		e.st.advance()
		lo, hi = e.mask()
		if next := e.st.CurLast + 1; (hi == lo || lo > next) && next < len(e.times) {
			e.st.moveTo(e.times[next])
		}

		e.st.Stride = scale(e.st.Stride, 2, e.cfg.Ceiling)
		if e.st.Stride >= e.st.Window {
			e.st.Window = scale(e.st.Stride, 5, e.cfg.Ceiling)
		}
		e.clamp()

		lo, hi = e.mask()
		if hi > lo {
			e.st.CurFirst, e.st.CurLast = lo, hi-1
		}
	}
	return lo, hi, nil
}

// resize runs the damped shrink/grow loop until the window holds between
// MinTraceLength and MaxTraceLength records, the window reaches past the
// last record, or the adjustment budget is spent.
func (e *engine) resize(lo, hi int) (int, int) {
	e.st.resetMagnifier()
	steps := 0
	count := hi - lo
	for count < e.cfg.MinTraceLength || count > e.cfg.MaxTraceLength {
		for count > e.cfg.MaxTraceLength {
			if e.st.Window <= e.cfg.Floor.Window || steps >= e.cfg.MaxAdjustments {
				e.st.adjust(lo, hi-1)
				e.forced(count)
				return lo, hi
			}
			e.st.Phase = PhaseTooLarge
			e.log.Debug("too many records in window, shrinking",
				zap.Time("start", e.st.Start), zap.Duration("window", e.st.Window), zap.Int("records", count))
			e.st.Window = time.Duration(float64(e.st.Window) / e.st.Magnifier)
			if e.st.Stride >= e.st.Window {
				e.st.Stride = e.st.Window / 5
			}
			e.clamp()
			lo, hi = e.mask()
			count = hi - lo
			steps++
			e.res.Stats.Shrinks++
		}
		for count < e.cfg.MinTraceLength {
			if e.st.Window >= e.cfg.Ceiling || steps >= e.cfg.MaxAdjustments {
				break
			}
			e.st.Phase = PhaseTooSmall
			e.log.Debug("too few records in window, growing",
				zap.Time("start", e.st.Start), zap.Duration("window", e.st.Window), zap.Int("records", count))
			e.st.Window = scale(e.st.Window, e.st.Magnifier, e.cfg.Ceiling)
			e.clamp()
			lo, hi = e.mask()
			count = hi - lo
			steps++
			e.res.Stats.Grows++
			if e.st.End.After(e.last()) {
				break
			}
		}
		if hi > lo {
			e.st.adjust(lo, hi-1)
		}
		e.st.damp()
		e.observe()

		if e.st.End.After(e.last()) {
			break
		}
		if steps >= e.cfg.MaxAdjustments || (count < e.cfg.MinTraceLength && e.st.Window >= e.cfg.Ceiling) {
			e.forced(count)
			break
		}
	}
	return lo, hi
}

func (e *engine) forced(count int) {
	e.res.Stats.ForcedEmits++
	e.log.Debug("window adjustment budget exhausted, emitting as is",
		zap.Time("start", e.st.Start), zap.Duration("window", e.st.Window), zap.Int("records", count))
}

// clamp restores floor, ceiling and stride <= window.
func (e *engine) clamp() {
	if e.st.Window < e.cfg.Floor.Window {
		e.st.Window = e.cfg.Floor.Window
	}
	if e.st.Window > e.cfg.Ceiling {
		e.st.Window = e.cfg.Ceiling
	}
	if e.st.Stride < e.cfg.Floor.Stride {
		e.st.Stride = e.cfg.Floor.Stride
	}
	if e.st.Stride > e.st.Window {
		e.st.Stride = e.st.Window
	}
	e.st.End = e.st.Start.Add(e.st.Window)
	e.observe()
}

func (e *engine) observe() {
	if e.cfg.Observe != nil {
		e.cfg.Observe(e.st)
	}
}

// applySchedule takes window and stride from the per-position schedule
// for the first record at or after the cursor.
func (e *engine) applySchedule() {
	if len(e.cfg.Schedule) != len(e.times) {
		return
	}
	lo, _ := e.mask()
	if lo >= len(e.times) {
		return
	}
	p := e.cfg.Schedule[lo].OrFloor(e.cfg.Floor)
	e.st.Window, e.st.Stride = p.Window, p.Stride
	e.st.End = e.st.Start.Add(e.st.Window)
}

// #endregion control

// #region emit

// emit encodes records [lo, hi) as the next trace.
func (e *engine) emit(lo, hi int) {
	e.st.Phase = PhaseEmitting
	e.observe()

	trace := e.enc.Encode(e.block.Records[lo:hi])
	positions := make([]int, hi-lo)
	for i := lo; i < hi; i++ {
		e.placements[i]++
		positions[i-lo] = e.block.Position(i)
	}
	if hi-1 > e.emitted {
		e.emitted = hi - 1
	}
	e.res.Traces = append(e.res.Traces, trace)
	e.res.Indices = append(e.res.Indices, positions)
	e.res.Stats.Windows++
	e.logProgress()
}

// adapt applies the content-driven strategy after an emission.
func (e *engine) adapt() error {
	n := len(e.res.Traces)
	lengths := make([]int, n)
	for i, t := range e.res.Traces {
		lengths[i] = t.Len()
	}
	sig, err := e.producer.Produce(signals.ProduceInput{
		Previous: e.res.Traces[n-2].Events,
		Current:  e.res.Traces[n-1].Events,
		Lengths:  lengths,
	})
	if err != nil {
		return fmt.Errorf("trace %d: %w", n-1, err)
	}

	switch sig.Window {
	case signals.WindowHalve:
		e.st.Window /= 2
		e.res.Stats.AnomalyResizes++
	case signals.WindowDouble:
		e.st.Window = scale(e.st.Window, 2, e.cfg.Ceiling)
		e.res.Stats.AnomalyResizes++
	}
	e.clamp()

	switch sig.Stride {
	case signals.StrideDouble:
		e.st.Stride = scale(e.st.Stride, 2, e.cfg.Ceiling)
		if e.st.Stride >= e.st.Window {
			e.st.Window = scale(e.st.Stride, 5, e.cfg.Ceiling)
		}
		e.res.Stats.StrideDoubles++
	case signals.StrideHalve:
		e.st.Stride /= 2
		e.res.Stats.StrideHalvings++
	}
	e.clamp()

	e.log.Debug("content signals",
		zap.Float64("dissimilarity", sig.Dissimilarity),
		zap.Float64("length_z", sig.LengthZ),
		zap.Stringer("window_action", sig.Window),
		zap.Stringer("stride_action", sig.Stride),
		zap.Duration("window", e.st.Window),
		zap.Duration("stride", e.st.Stride))
	return nil
}

// sweep places records left over after the main loop into one final
// window that reaches the last record. The trailing window carries no
// content adjustment.
func (e *engine) sweep() {
	if e.allPlaced() {
		return
	}
	lo, hi := e.mask()
	first := e.firstUnplaced()
	if hi == lo || lo > first {
		e.st.moveTo(e.times[first])
	}
	if e.st.End.Before(e.last()) {
		e.st.End = e.last()
	}
	lo, hi = e.mask()
	if hi > lo {
		e.emit(lo, hi)
	}
}

func (e *engine) allPlaced() bool {
	return e.firstUnplaced() == len(e.placements)
}

func (e *engine) firstUnplaced() int {
	for i, p := range e.placements {
		if p == 0 {
			return i
		}
	}
	return len(e.placements)
}

func (e *engine) checkCoverage() {
	var missing []int
	for i, p := range e.placements {
		if p == 0 {
			missing = append(missing, e.block.Position(i))
		}
	}
	if len(missing) == 0 {
		return
	}
	e.res.Coverage = &CoverageWarning{Missing: missing}
	e.log.Warn("records missed by segmentation",
		zap.Int("missing", len(missing)), zap.Ints("positions", head(missing, 20)))
}

func (e *engine) logProgress() {
	decile := (e.emitted + 1) * 10 / len(e.times)
	if decile > e.progress {
		e.progress = decile
		e.log.Info("segmentation progress",
			zap.Int("percent", decile*10), zap.Int("offset", e.block.Offset), zap.Int("records", len(e.times)))
	}
}

func head(v []int, n int) []int {
	if len(v) > n {
		return v[:n]
	}
	return v
}

// #endregion emit
