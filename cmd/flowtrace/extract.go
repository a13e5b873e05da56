package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/flowtrace/internal/discretize"
	"github.com/danielpatrickdp/flowtrace/internal/distance"
	"github.com/danielpatrickdp/flowtrace/internal/encode"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
	"github.com/danielpatrickdp/flowtrace/internal/logging"
	"github.com/danielpatrickdp/flowtrace/internal/pipeline"
)

// #region command

type extractFlags struct {
	input    string
	schema   string
	features []string
	out      string
	limits   string
	jsonOut  bool
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Segment a flow CSV into traces and write the trace and index files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.input == "" || f.schema == "" || f.out == "" {
				return usagef("extract needs --input, --schema and --out")
			}
			return a.runExtract(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.input, "input", "", "cleaned flow CSV")
	fl.StringVar(&f.schema, "schema", "", "YAML column schema for the CSV")
	fl.StringSliceVar(&f.features, "features", nil, "features to encode (default: every schema feature)")
	fl.StringVar(&f.out, "out", "", "trace file to write; the index file goes beside it")
	fl.StringVar(&f.limits, "limits", "", "discretization limits YAML (overrides extract.limits_file)")
	fl.BoolVar(&f.jsonOut, "json", false, "print segment reports as JSON")
	return cmd
}

// #endregion command

// #region run

func (a *app) runExtract(ctx context.Context, w io.Writer, f extractFlags) error {
	start := time.Now()

	schema, err := flow.LoadSchema(f.schema)
	if err != nil {
		return err
	}
	in, err := os.Open(f.input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()
	block, err := flow.LoadCSV(in, schema, a.logger)
	if err != nil {
		return err
	}

	enc, err := a.encoder(block, schema, f)
	if err != nil {
		return err
	}

	ec := a.cfg.Extract
	tmpl, err := a.cfg.Segment(0, 0)
	if err != nil {
		return err
	}
	if addr := ec.Content.DistanceAddr; addr != "" {
		client, err := distance.NewClient(addr)
		if err != nil {
			return err
		}
		defer client.Close()
		tmpl.Distance = client.Func(ctx)
		a.logger.Info("using remote distance service", zap.String("addr", addr))
	}

	st, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	ext, err := pipeline.Extract(ctx, block, pipeline.Options{
		GapThreshold:   ec.GapThreshold,
		Floor:          a.cfg.Floor(),
		Segment:        tmpl,
		MinTraceLength: ec.MinTraceLength,
		MaxTraceLength: ec.MaxTraceLength,
		RollingSize:    ec.RollingSize,
		Encoder:        enc,
		Workers:        ec.Workers,
		Logger:         a.logger,
		Metrics:        a.metrics,
	})
	entry := logging.RunEntry{
		Kind:    "extract",
		Inputs:  f.input,
		Records: block.Len(),
	}
	if err != nil {
		entry.RunID = uuid.New().String()
		entry.Outcome = "failed"
		entry.Reason = err.Error()
		entry.Duration = time.Since(start)
		a.record(st, entry)
		return err
	}
	if err := ext.WriteFiles(f.out); err != nil {
		return err
	}

	entry.RunID = ext.RunID
	entry.Traces = len(ext.Traces)
	entry.Outcome = "ok"
	if !ext.Passed {
		entry.Outcome = "coverage_warning"
		entry.Reason = firstFailure(ext.Segments)
	}
	entry.Duration = time.Since(start)
	a.record(st, entry)

	if f.jsonOut {
		return printJSON(w, ext.Segments)
	}
	printSegmentTable(w, ext.Segments)
	fmt.Fprintf(w, "\nrun %s: %d traces of width %d (%s) -> %s\n",
		shortID(ext.RunID), len(ext.Traces), ext.Width, joinColumns(ext.Columns), f.out)
	if !ext.Passed {
		fmt.Fprintf(w, "warning: %s\n", entry.Reason)
	}
	return nil
}

func (a *app) encoder(block flow.Block, schema flow.Schema, f extractFlags) (*encode.Encoder, error) {
	selected := f.features
	if len(selected) == 0 {
		selected = schema.FeatureNames()
	}
	opts := encode.Options{
		Aggregate:   a.cfg.Extract.Aggregate,
		NewFeatures: a.cfg.Extract.NewFeatures,
	}
	path := f.limits
	if path == "" {
		path = a.cfg.Extract.LimitsFile
	}
	if path != "" {
		limits, err := discretize.LoadLimits(path)
		if err != nil {
			return nil, err
		}
		opts.Limits = limits
	}
	return encode.NewEncoder(block.Features, selected, opts)
}

func firstFailure(reports []pipeline.SegmentReport) string {
	for _, r := range reports {
		if !r.Eval.Passed {
			return fmt.Sprintf("segment %d: %s", r.Index, r.Eval.Reason)
		}
	}
	return ""
}

// #endregion run

// #region output

func printSegmentTable(w io.Writer, reports []pipeline.SegmentReport) {
	fmt.Fprintf(w, "%-4s  %8s  %8s  %5s  %5s  %12s  %12s  %7s  %8s  %s\n",
		"SEG", "OFFSET", "RECORDS", "MIN", "MAX", "WINDOW", "STRIDE", "TRACES", "COVERAGE", "EVAL")
	fmt.Fprintf(w, "%-4s+-%8s+-%8s+-%5s+-%5s+-%12s+-%12s+-%7s+-%8s+-%s\n",
		"----", "--------", "--------", "-----", "-----", "------------", "------------", "-------", "--------", "----")
	for _, r := range reports {
		coverage := "-"
		if m, ok := r.Eval.Metric("coverage"); ok {
			coverage = fmt.Sprintf("%.4f", m.Value)
		}
		verdict := "pass"
		if !r.Eval.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(w, "%-4d  %8d  %8d  %5d  %5d  %12s  %12s  %7d  %8s  %s\n",
			r.Index, r.Offset, r.Records, r.Min, r.Max, r.Plan.Window, r.Plan.Stride, r.Traces, coverage, verdict)
	}
}

// #endregion output
