// Package metrics exposes extraction and replay counters for Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/segment"
)

const namespace = "flowtrace"

// Metrics holds the collectors of one process.
type Metrics struct {
	TracesEmitted    prometheus.Counter
	TraceLength      prometheus.Histogram
	Adjustments      *prometheus.CounterVec
	CoverageWarnings prometheus.Counter
	ReplayEvents     *prometheus.CounterVec
	UnmatchedGuards  prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TracesEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traces_emitted_total",
			Help:      "Traces emitted by segmentation.",
		}),
		TraceLength: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_length",
			Help:      "Events per emitted trace.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		Adjustments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmentation_adjustments_total",
			Help:      "Window control decisions by kind.",
		}, []string{"kind"}),
		CoverageWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coverage_warnings_total",
			Help:      "Segments that left records out of every trace.",
		}),
		ReplayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_events_total",
			Help:      "Events walked through an automaton by replay kind.",
		}, []string{"kind"}),
		UnmatchedGuards: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_guards_total",
			Help:      "Replay steps where no transition guard matched.",
		}),
	}
}

// RecordSegmentation adds one engine result.
func (m *Metrics) RecordSegmentation(res segment.Result) {
	m.TracesEmitted.Add(float64(len(res.Traces)))
	for _, tr := range res.Traces {
		m.TraceLength.Observe(float64(tr.Len()))
	}
	st := res.Stats
	for kind, n := range map[string]int{
		"stall_retry":    st.StallRetries,
		"shrink":         st.Shrinks,
		"grow":           st.Grows,
		"forced_emit":    st.ForcedEmits,
		"empty_skip":     st.EmptySkips,
		"anomaly_resize": st.AnomalyResizes,
		"stride_double":  st.StrideDoubles,
		"stride_halve":   st.StrideHalvings,
	} {
		if n > 0 {
			m.Adjustments.WithLabelValues(kind).Add(float64(n))
		}
	}
	if res.Coverage != nil {
		m.CoverageWarnings.Inc()
	}
}

// RecordReplay adds one replay summary.
func (m *Metrics) RecordReplay(kind string, sum replay.Summary) {
	m.ReplayEvents.WithLabelValues(kind).Add(float64(sum.Events))
	m.UnmatchedGuards.Add(float64(sum.Unmatched))
}

// WriteTextfile exports everything g gathers in the node-exporter
// textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
