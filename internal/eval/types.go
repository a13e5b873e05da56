package eval

// #region eval-config
// EvalConfig holds the checks applied to one segmentation result.
type EvalConfig struct {
	Min         int     // lower trace-length bound
	Max         int     // upper trace-length bound
	MinCoverage float64 // fail if fewer records than this fraction are placed
}

// DefaultEvalConfig requires full coverage within the given bounds.
func DefaultEvalConfig(minLen, maxLen int) EvalConfig {
	return EvalConfig{
		Min:         minLen,
		Max:         maxLen,
		MinCoverage: 1.0,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single validation check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of post-extraction validation.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric returns the named metric.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
