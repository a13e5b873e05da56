package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/flowtrace/internal/discretize"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
)

// #region command

type discretizeFlags struct {
	input    string
	schema   string
	features []string
	maxK     int
	bins     int
	out      string
}

func newDiscretizeCmd(a *app) *cobra.Command {
	var f discretizeFlags
	cmd := &cobra.Command{
		Use:   "discretize",
		Short: "Suggest bin counts with the k-means elbow and write percentile limits",
		Long: `discretize evaluates k-means inertia for k = 1..max-k on each feature,
picks the knee of the curve (or uses --bins), and derives percentile
boundaries. With --out the limits are merged into a YAML file that
extract reads through --limits or extract.limits_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.input == "" || f.schema == "" || len(f.features) == 0 {
				return usagef("discretize needs --input, --schema and at least one --feature")
			}
			if f.maxK < 1 || f.bins < 0 {
				return usagef("need --max-k >= 1 and --bins >= 0")
			}
			return a.runDiscretize(cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.input, "input", "", "cleaned flow CSV")
	fl.StringVar(&f.schema, "schema", "", "YAML column schema for the CSV")
	fl.StringSliceVar(&f.features, "feature", nil, "feature to discretize (repeatable)")
	fl.IntVar(&f.maxK, "max-k", 10, "largest cluster count on the elbow curve")
	fl.IntVar(&f.bins, "bins", 0, "bin count; 0 takes the elbow suggestion")
	fl.StringVar(&f.out, "out", "", "limits YAML to merge into")
	return cmd
}

// #endregion command

// #region run

func (a *app) runDiscretize(w io.Writer, f discretizeFlags) error {
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

	set := discretize.Set{}
	for _, name := range f.features {
		values, err := block.Column(name)
		if err != nil {
			return err
		}
		curve, err := discretize.Elbow(values, f.maxK, discretize.KMeans{})
		if err != nil {
			return fmt.Errorf("feature %s: %w", name, err)
		}
		bins := f.bins
		if bins == 0 {
			bins = discretize.Suggest(curve)
		}
		limits, err := discretize.Limits(values, bins)
		if err != nil {
			return fmt.Errorf("feature %s: %w", name, err)
		}
		set[name] = limits
		a.logger.Info("feature discretized",
			zap.String("feature", name), zap.Int("values", len(values)), zap.Int("bins", bins))

		fmt.Fprintf(w, "%s\n", name)
		fmt.Fprintf(w, "  %-4s  %14s\n", "K", "INERTIA")
		for _, c := range curve {
			mark := ""
			if c.K == bins {
				mark = "  <"
			}
			fmt.Fprintf(w, "  %-4d  %14.4f%s\n", c.K, c.Inertia, mark)
		}
		fmt.Fprintf(w, "  limits: %v\n\n", limits)
	}

	if f.out == "" {
		return nil
	}
	if err := discretize.SaveLimits(f.out, set); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %d feature limits to %s\n", len(set), f.out)
	return nil
}

// #endregion run
