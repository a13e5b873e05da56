package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
	"github.com/danielpatrickdp/flowtrace/internal/store"
)

// #region command

type inspectFlags struct {
	modelID string
	last    int
	jsonOut bool
	yamlOut bool
}

func newInspectCmd(a *app) *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored models, or show one model's states, guard overlaps and replay runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.jsonOut && f.yamlOut {
				return usagef("inspect takes at most one of --json and --yaml")
			}
			if f.last < 1 {
				return usagef("--last must be at least 1, got %d", f.last)
			}
			st, err := a.openStore()
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer st.Close()

			w := cmd.OutOrStdout()
			if f.modelID != "" {
				return runDetailMode(w, st, f)
			}
			return runListMode(w, st, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.modelID, "model", "", "show a single model in detail")
	fl.IntVar(&f.last, "last", 20, "show the N most recent models")
	fl.BoolVar(&f.jsonOut, "json", false, "output as JSON instead of a table")
	fl.BoolVar(&f.yamlOut, "yaml", false, "output as YAML instead of a table")
	return cmd
}

// #endregion command

// #region list-mode

func runListMode(w io.Writer, st *store.Store, f inspectFlags) error {
	models, err := st.ListModels(f.last)
	if err != nil {
		return err
	}
	switch {
	case f.jsonOut:
		return printJSON(w, models)
	case f.yamlOut:
		return printYAML(w, models)
	}
	if len(models) == 0 {
		fmt.Fprintln(w, "no models stored")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %5s  %5s  %-20s  %s\n", "MODEL", "NODES", "EDGES", "CREATED", "SOURCE")
	fmt.Fprintf(w, "%-36s+-%5s+-%5s+-%-20s+-%s\n",
		"------------------------------------", "-----", "-----", "--------------------", "------")
	for _, m := range models {
		fmt.Fprintf(w, "%-36s  %5d  %5d  %-20s  %s\n",
			m.ID, m.Nodes, m.Edges, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Source)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type nodeRow struct {
	ID    string `json:"id" yaml:"id"`
	Edges int    `json:"edges" yaml:"edges"`
	Train int    `json:"train_visits" yaml:"train_visits"`
	Test  int    `json:"test_visits" yaml:"test_visits"`
	Final int    `json:"final_count" yaml:"final_count"`
	Total int    `json:"total_count" yaml:"total_count"`
}

type overlapRow struct {
	Node   string `json:"node" yaml:"node"`
	First  string `json:"first" yaml:"first"`
	Second string `json:"second" yaml:"second"`
}

type modelDetail struct {
	ID          string            `json:"id" yaml:"id"`
	Nodes       []nodeRow         `json:"nodes" yaml:"nodes"`
	Overlaps    []overlapRow      `json:"overlaps,omitempty" yaml:"overlaps,omitempty"`
	Unreachable []string          `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	Replays     []store.ReplayRun `json:"replays,omitempty" yaml:"replays,omitempty"`
}

func runDetailMode(w io.Writer, st *store.Store, f inspectFlags) error {
	m, err := st.LoadModel(f.modelID)
	if err != nil {
		return err
	}
	runs, err := st.ListReplays(f.modelID)
	if err != nil {
		return err
	}

	d := modelDetail{ID: f.modelID, Unreachable: m.Unreachable(), Replays: runs}
	for _, n := range m.Nodes() {
		d.Nodes = append(d.Nodes, nodeRow{
			ID:    n.ID,
			Edges: len(n.Edges),
			Train: n.Visits(automaton.KindTrain),
			Test:  n.Visits(automaton.KindTest),
			Final: n.FinalCount,
			Total: n.TotalCount,
		})
	}
	for _, o := range m.Overlaps() {
		d.Overlaps = append(d.Overlaps, overlapRow{
			Node:   o.Node,
			First:  fmt.Sprintf("%s -> %s", o.First, o.FirstTo),
			Second: fmt.Sprintf("%s -> %s", o.Second, o.SecondTo),
		})
	}

	switch {
	case f.jsonOut:
		return printJSON(w, d)
	case f.yamlOut:
		return printYAML(w, d)
	}

	fmt.Fprintf(w, "Model: %s\n\n", d.ID)
	fmt.Fprintf(w, "%-8s  %5s  %8s  %8s  %8s  %8s\n", "NODE", "EDGES", "TRAIN", "TEST", "FINAL", "TOTAL")
	fmt.Fprintf(w, "%-8s+-%5s+-%8s+-%8s+-%8s+-%8s\n", "--------", "-----", "--------", "--------", "--------", "--------")
	for _, n := range d.Nodes {
		fmt.Fprintf(w, "%-8s  %5d  %8d  %8d  %8d  %8d\n", n.ID, n.Edges, n.Train, n.Test, n.Final, n.Total)
	}

	if len(d.Overlaps) > 0 {
		fmt.Fprintf(w, "\nOverlapping guards (first declared wins):\n")
		for _, o := range d.Overlaps {
			fmt.Fprintf(w, "  %-8s %s\n  %-8s %s\n", o.Node, o.First, "", o.Second)
		}
	}
	if len(d.Unreachable) > 0 {
		fmt.Fprintf(w, "\nUnreachable from root: %v\n", d.Unreachable)
	}

	if len(runs) > 0 {
		fmt.Fprintf(w, "\n%-8s  %-5s  %6s  %7s  %9s  %s\n", "RUN", "KIND", "TRACES", "EVENTS", "UNMATCHED", "CREATED")
		fmt.Fprintf(w, "%-8s+-%-5s+-%6s+-%7s+-%9s+-%s\n", "--------", "-----", "------", "-------", "---------", "-------")
		for _, r := range runs {
			fmt.Fprintf(w, "%-8s  %-5s  %6d  %7d  %9d  %s\n",
				shortID(r.RunID), r.Kind, r.Traces, r.Events, r.Unmatched, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

// #endregion detail-mode
