// Package pipeline runs extraction end to end: gap splitting, window
// planning, segmentation, encoding and verification. It also replays
// written trace files against a model.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
	"github.com/danielpatrickdp/flowtrace/internal/encode"
	"github.com/danielpatrickdp/flowtrace/internal/eval"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
	"github.com/danielpatrickdp/flowtrace/internal/metrics"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/segment"
	"github.com/danielpatrickdp/flowtrace/internal/splitter"
	"github.com/danielpatrickdp/flowtrace/internal/tracefile"
	"github.com/danielpatrickdp/flowtrace/internal/window"
)

// #region types

// Options configures one extraction.
type Options struct {
	GapThreshold time.Duration // zero uses splitter.DefaultGapThreshold
	Floor        window.Plan   // zero uses window.DefaultFloor

	// Segment is the engine template. Its trace-length bounds are
	// replaced per segment.
	Segment segment.Config
	// Fixed trace-length bounds; zero derives them from segment size.
	MinTraceLength int
	MaxTraceLength int
	// RollingSize, when positive in static mode, plans every position
	// from a trailing median over that many gaps.
	RollingSize int

	Encoder *encode.Encoder
	Workers int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// SegmentReport summarizes one high-level segment.
type SegmentReport struct {
	Index    int                      `json:"index"`
	Offset   int                      `json:"offset"`
	Records  int                      `json:"records"`
	Min      int                      `json:"min_trace_length"`
	Max      int                      `json:"max_trace_length"`
	Plan     window.Plan              `json:"plan"`
	Traces   int                      `json:"traces"`
	Stats    segment.Stats            `json:"stats"`
	Coverage *segment.CoverageWarning `json:"coverage,omitempty"`
	Eval     eval.EvalResult          `json:"eval"`
}

// Extraction is the concatenated output of every segment, in block order.
type Extraction struct {
	RunID    string
	Width    int
	Columns  []string
	Traces   []encode.Trace
	Indices  [][]int
	Segments []SegmentReport
	Stats    segment.Stats
	Passed   bool
}

// #endregion types

// #region extract

// Extract segments block into traces. Segments run on up to
// opts.Workers goroutines; results keep block order.
func Extract(ctx context.Context, block flow.Block, opts Options) (*Extraction, error) {
	if opts.Encoder == nil {
		return nil, fmt.Errorf("extract: no encoder")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gap := opts.GapThreshold
	if gap <= 0 {
		gap = splitter.DefaultGapThreshold
	}
	floor := opts.Floor.OrFloor(window.DefaultFloor)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))

	parts := splitter.Split(block, gap)
	logger.Info("block split", zap.Int("records", block.Len()), zap.Int("segments", len(parts)), zap.Duration("gap_threshold", gap))

	results := make([]segment.Result, len(parts))
	reports := make([]SegmentReport, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, part := range parts {
		g.Go(func() error {
			res, rep, err := extractSegment(gctx, i, part, floor, opts, logger)
			if err != nil {
				return fmt.Errorf("segment %d (offset %d): %w", i, part.Offset, err)
			}
			results[i] = res
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Extraction{
		RunID:    runID,
		Width:    opts.Encoder.Width(),
		Columns:  opts.Encoder.Columns(),
		Segments: reports,
		Passed:   true,
	}
	for i, res := range results {
		out.Traces = append(out.Traces, res.Traces...)
		out.Indices = append(out.Indices, res.Indices...)
		out.Stats.Add(res.Stats)
		if !reports[i].Eval.Passed {
			out.Passed = false
		}
	}
	logger.Info("extraction complete",
		zap.Int("traces", len(out.Traces)), zap.Int("segments", len(parts)), zap.Bool("passed", out.Passed))
	return out, nil
}

func extractSegment(ctx context.Context, i int, part flow.Block, floor window.Plan, opts Options, logger *zap.Logger) (segment.Result, SegmentReport, error) {
	minLen, maxLen := splitter.Limits(part.Len())
	if opts.MinTraceLength > 0 {
		minLen = opts.MinTraceLength
	}
	if opts.MaxTraceLength > 0 {
		maxLen = opts.MaxTraceLength
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	cfg := opts.Segment
	cfg.MinTraceLength, cfg.MaxTraceLength = minLen, maxLen
	times := part.Times()
	plan := window.Estimate(times).OrFloor(floor)
	if cfg.Mode == segment.ModeStatic && opts.RollingSize > 0 {
		cfg.Schedule = window.EstimateRolling(times, opts.RollingSize)
	}

	log := logger.With(zap.Int("segment", i), zap.Int("offset", part.Offset))
	log.Debug("segment planned",
		zap.Int("records", part.Len()), zap.Int("min", minLen), zap.Int("max", maxLen),
		zap.Duration("window", plan.Window), zap.Duration("stride", plan.Stride))

	res, err := segment.Run(ctx, part, plan, opts.Encoder, cfg, log)
	if err != nil {
		return segment.Result{}, SegmentReport{}, err
	}
	if opts.Metrics != nil {
		opts.Metrics.RecordSegmentation(res)
	}

	ev := eval.NewEvalHarness(eval.DefaultEvalConfig(minLen, maxLen)).Run(part.Offset, part.Len(), res.Indices)
	if !ev.Passed {
		log.Warn("segment failed verification", zap.String("reason", ev.Reason))
	}
	return res, SegmentReport{
		Index:    i,
		Offset:   part.Offset,
		Records:  part.Len(),
		Min:      minLen,
		Max:      maxLen,
		Plan:     plan,
		Traces:   len(res.Traces),
		Stats:    res.Stats,
		Coverage: res.Coverage,
		Eval:     ev,
	}, nil
}

// WriteFiles writes the trace file at path and its index file beside it.
func (e *Extraction) WriteFiles(path string) error {
	return tracefile.WriteFiles(path, tracefile.FromTraces(e.Traces, e.Width), e.Indices)
}

// #endregion extract

// #region replay

// ReplayFiles reads a trace file and its index file and walks every
// trace through m.
func ReplayFiles(m *automaton.Model, tracePath string, cfg replay.Config) ([]replay.Result, error) {
	f, indices, err := tracefile.ReadFiles(tracePath)
	if err != nil {
		return nil, err
	}
	events, err := f.Events()
	if err != nil {
		return nil, err
	}
	return replay.Replay(m, events, indices, cfg)
}

// #endregion replay
