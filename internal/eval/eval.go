package eval

import (
	"fmt"
)

// #region eval-harness
// EvalHarness validates a segmentation result against its record block.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks traces whose global positions are indices against a block of
// total records starting at offset. Only coverage can fail the run; the
// length and overlap metrics are informational.
func (h *EvalHarness) Run(offset, total int, indices [][]int) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	placements := make([]int, total)
	outside := 0
	for _, trace := range indices {
		for _, pos := range trace {
			local := pos - offset
			if local < 0 || local >= total {
				outside++
				continue
			}
			placements[local]++
		}
	}

	// 1. Coverage: share of records placed at least once
	covered, maxOverlap := 0, 0
	for _, p := range placements {
		if p > 0 {
			covered++
		}
		maxOverlap = max(maxOverlap, p)
	}
	coverage := 1.0
	if total > 0 {
		coverage = float64(covered) / float64(total)
	}
	coveragePass := coverage >= h.config.MinCoverage
	metrics = append(metrics, EvalMetric{Name: "coverage", Value: coverage, Pass: coveragePass})
	if !coveragePass {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("coverage %.4f below %.4f (%d of %d records)",
			coverage, h.config.MinCoverage, covered, total))
	}
	if outside > 0 {
		passed = false
		failReasons = append(failReasons, fmt.Sprintf("%d positions outside block", outside))
	}

	// 2. Length bounds: the trailing sweep is exempt
	within, checked := 0, 0
	for i, trace := range indices {
		if i == len(indices)-1 {
			break
		}
		checked++
		if len(trace) >= h.config.Min && len(trace) <= h.config.Max {
			within++
		}
	}
	frac := 1.0
	if checked > 0 {
		frac = float64(within) / float64(checked)
	}
	metrics = append(metrics, EvalMetric{Name: "within_bounds", Value: frac, Pass: frac == 1})

	// 3. Overlap
	metrics = append(metrics, EvalMetric{Name: "max_overlap", Value: float64(maxOverlap), Pass: true})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness
