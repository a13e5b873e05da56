package logging

import "time"

// #region config
// Config controls logger construction.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // optional rotating log file
	MaxSize    int    // megabytes before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig logs info and above to stderr only.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

// #endregion config

// #region run-entry
// RunEntry is a single row in the run_log table.
type RunEntry struct {
	RunID     string
	Kind      string // "extract" | "replay"
	Inputs    string
	Records   int
	Traces    int
	Outcome   string // "ok" | "coverage_warning" | "failed"
	Reason    string
	Duration  time.Duration
	CreatedAt time.Time
}

// #endregion run-entry
