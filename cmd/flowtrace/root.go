package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/flowtrace/internal/config"
	"github.com/danielpatrickdp/flowtrace/internal/logging"
	"github.com/danielpatrickdp/flowtrace/internal/metrics"
	"github.com/danielpatrickdp/flowtrace/internal/store"
)

// #region app

// app carries the state every subcommand shares: resolved config, the
// logger and a private metrics registry.
type app struct {
	cfgFile  string
	logLevel string
	dbPath   string

	cfg     *config.Config
	logger  *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "flowtrace",
		Short: "Cut flow records into traces and replay them through learned state machines",
		Long: `flowtrace turns a timestamped network-flow export into traces for
state machine learning, and replays trace files through learned models
to collect per-state observations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./flowtrace.yaml, then $HOME/.flowtrace/flowtrace.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "override log.level")
	pf.StringVar(&a.dbPath, "db", "", "override store.path")

	root.AddCommand(
		newExtractCmd(a),
		newReplayCmd(a),
		newInspectCmd(a),
		newDiscretizeCmd(a),
		newFixtureExportCmd(a),
	)
	return root, a
}

func (a *app) setup() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.dbPath != "" {
		cfg.Store.Path = a.dbPath
	}
	logger, err := logging.NewLogger(cfg.Logging())
	if err != nil {
		return usagef("logger: %v", err)
	}
	a.cfg = cfg
	a.logger = logger
	a.reg = prometheus.NewRegistry()
	a.metrics = metrics.New(a.reg)
	return nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// #endregion app

// #region run-record

func (a *app) openStore() (*store.Store, error) {
	return store.NewStore(a.cfg.Store.Path)
}

// record writes the run_log row and the metrics textfile. Failures are
// logged and leave the command outcome alone.
func (a *app) record(st *store.Store, entry logging.RunEntry) {
	if err := logging.LogRun(st.DB(), entry); err != nil {
		a.logger.Warn("run log write failed", zap.String("run_id", entry.RunID), zap.Error(err))
	}
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := metrics.WriteTextfile(path, a.reg); err != nil {
			a.logger.Warn("metrics textfile write failed", zap.String("path", path), zap.Error(err))
		}
	}
}

// #endregion run-record
