package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
	"github.com/danielpatrickdp/flowtrace/internal/logging"
	"github.com/danielpatrickdp/flowtrace/internal/pipeline"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/store"
)

// #region command

type replayFlags struct {
	model     string
	modelID   string
	traces    string
	kind      string
	unmatched string
	skipBad   bool
	save      bool
	jsonOut   bool
}

func newReplayCmd(a *app) *cobra.Command {
	var f replayFlags
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Walk a trace file through a state machine and accumulate per-state observations",
		Long: `replay reads a trace file and its index file and walks every trace
through a model, either a FlexFringe DOT file (--model) or a model saved
earlier (--model-id). With --save a DOT model is stored with its
observations; a stored model has its observations replaced.
--skip-bad-lines drops DOT statements that do not parse, logging each
one, instead of rejecting the model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.traces == "" || (f.model == "") == (f.modelID == "") {
				return usagef("replay needs --traces and exactly one of --model or --model-id")
			}
			return a.runReplay(cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "FlexFringe DOT model")
	fl.StringVar(&f.modelID, "model-id", "", "id of a stored model")
	fl.StringVar(&f.traces, "traces", "", "trace file written by extract")
	fl.StringVar(&f.kind, "kind", "", "accumulator: train or test (overrides replay.kind)")
	fl.StringVar(&f.unmatched, "unmatched", "", "on no matching guard: stay or fail (overrides replay.unmatched)")
	fl.BoolVar(&f.skipBad, "skip-bad-lines", false, "skip and log DOT statements that do not parse")
	fl.BoolVar(&f.save, "save", false, "store the model, its observations and the run summary")
	fl.BoolVar(&f.jsonOut, "json", false, "print per-trace results as JSON")
	return cmd
}

func (a *app) replayConfig(f replayFlags) (replay.Config, error) {
	cfg, err := a.cfg.ReplayOptions()
	if err != nil {
		return cfg, err
	}
	if f.kind != "" {
		if cfg.Kind, err = replay.ParseKind(f.kind); err != nil {
			return cfg, &usageError{err: err}
		}
	}
	if f.unmatched != "" {
		if cfg.Unmatched, err = replay.ParsePolicy(f.unmatched); err != nil {
			return cfg, &usageError{err: err}
		}
	}
	return cfg, nil
}

// #endregion command

// #region run

func (a *app) runReplay(w io.Writer, f replayFlags) error {
	start := time.Now()
	rcfg, err := a.replayConfig(f)
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	m, source, err := a.loadModel(st, f)
	if err != nil {
		return err
	}

	entry := logging.RunEntry{Kind: "replay", Inputs: source + " " + f.traces}
	results, err := pipeline.ReplayFiles(m, f.traces, rcfg)
	sum := replay.Summarize(results)
	entry.Traces = sum.Traces
	entry.Records = sum.Events
	a.metrics.RecordReplay(string(rcfg.Kind), sum)
	if err != nil {
		var miss *replay.UnmatchedGuardError
		if errors.As(err, &miss) {
			a.logger.Warn("replay stopped on unmatched guard",
				zap.Int("trace", miss.Trace), zap.Int("event", miss.Event), zap.String("node", miss.Node))
		}
		entry.Outcome = "failed"
		entry.Reason = err.Error()
		entry.Duration = time.Since(start)
		entry.RunID = uuid.New().String()
		a.record(st, entry)
		return err
	}

	modelID := f.modelID
	runID := ""
	if f.save || f.modelID != "" {
		if modelID == "" {
			if modelID, err = st.SaveModel(m, source); err != nil {
				return err
			}
		} else if err := st.SaveObservations(modelID, m); err != nil {
			return err
		}
		if runID, err = st.RecordReplay(modelID, rcfg.Kind, sum); err != nil {
			return err
		}
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	entry.RunID = runID
	entry.Outcome = "ok"
	entry.Duration = time.Since(start)
	a.record(st, entry)
	a.logger.Info("replay complete",
		zap.String("run_id", runID), zap.Int("traces", sum.Traces),
		zap.Int("events", sum.Events), zap.Int("unmatched", sum.Unmatched))

	if f.jsonOut {
		return printJSON(w, results)
	}
	printReplayTable(w, results)
	printSummary(w, rcfg.Kind, sum)
	if modelID != "" {
		fmt.Fprintf(w, "model %s, run %s\n", modelID, shortID(runID))
	}
	return nil
}

// loadModel returns the model to replay and a label for it.
func (a *app) loadModel(st *store.Store, f replayFlags) (*automaton.Model, string, error) {
	if f.modelID != "" {
		m, err := st.LoadModel(f.modelID)
		if err != nil {
			return nil, "", err
		}
		return m, f.modelID, nil
	}
	var opts []automaton.ParseOption
	if f.skipBad {
		opts = append(opts, automaton.SkipBadLines(func(pe *automaton.ParseError) {
			a.logger.Warn("skipping model line",
				zap.String("model", f.model), zap.Int("line", pe.Line), zap.String("text", pe.Text), zap.Error(pe))
		}))
	}
	m, err := automaton.ParseFile(f.model, opts...)
	if err != nil {
		return nil, "", err
	}
	return m, f.model, nil
}

// #endregion run

// #region output

func printReplayTable(w io.Writer, results []replay.Result) {
	fmt.Fprintf(w, "%-6s  %7s  %9s  %s\n", "TRACE", "EVENTS", "UNMATCHED", "FINAL")
	fmt.Fprintf(w, "%-6s+-%7s+-%9s+-%s\n", "------", "-------", "---------", "-----")
	for _, r := range results {
		fmt.Fprintf(w, "%-6d  %7d  %9d  %s\n", r.Trace, r.Events, r.Unmatched, r.Final)
	}
}

func printSummary(w io.Writer, kind automaton.Kind, sum replay.Summary) {
	fmt.Fprintf(w, "\n%s replay: %d traces, %d events, %d unmatched\n", kind, sum.Traces, sum.Events, sum.Unmatched)
	states := make([]string, 0, len(sum.FinalStates))
	for s := range sum.FinalStates {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(w, "  final %-8s %d\n", s, sum.FinalStates[s])
	}
}

// #endregion output
