package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/tracefile"
)

// #region command

type fixtureFlags struct {
	model       string
	traces      string
	out         string
	description string
	kind        string
	unmatched   string
}

func newFixtureExportCmd(a *app) *cobra.Command {
	var f fixtureFlags
	cmd := &cobra.Command{
		Use:   "fixture-export",
		Short: "Freeze a model, a trace file and the replay outcome into a JSON fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.model == "" || f.traces == "" || f.out == "" {
				return usagef("fixture-export needs --model, --traces and --out")
			}
			return a.runFixtureExport(cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "FlexFringe DOT model")
	fl.StringVar(&f.traces, "traces", "", "trace file written by extract")
	fl.StringVar(&f.out, "out", "", "output fixture JSON path")
	fl.StringVar(&f.description, "description", "", "fixture description")
	fl.StringVar(&f.kind, "kind", "", "accumulator: train or test (overrides replay.kind)")
	fl.StringVar(&f.unmatched, "unmatched", "", "stay or fail (overrides replay.unmatched)")
	return cmd
}

// #endregion command

// #region export

func (a *app) runFixtureExport(w io.Writer, f fixtureFlags) error {
	rcfg, err := a.replayConfig(replayFlags{kind: f.kind, unmatched: f.unmatched})
	if err != nil {
		return err
	}
	text, err := os.ReadFile(f.model)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	tf, indices, err := tracefile.ReadFiles(f.traces)
	if err != nil {
		return err
	}
	events, err := tf.Events()
	if err != nil {
		return err
	}

	desc := f.description
	if desc == "" {
		desc = fmt.Sprintf("%s replay of %s through %s", rcfg.Kind, f.traces, f.model)
	}
	fx, err := replay.NewFixture(desc, string(text), events, indices, rcfg)
	if err != nil {
		return err
	}
	if err := replay.WriteFixture(f.out, fx); err != nil {
		return err
	}

	unmatched := 0
	for _, e := range fx.Expected {
		unmatched += e.Unmatched
	}
	fmt.Fprintf(w, "wrote %s: %d traces, %d unmatched\n", f.out, len(fx.Expected), unmatched)
	return nil
}

// #endregion export
