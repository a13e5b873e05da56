package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/flowtrace/internal/encode"
	"github.com/danielpatrickdp/flowtrace/internal/replay"
	"github.com/danielpatrickdp/flowtrace/internal/segment"
)

func TestRecordSegmentation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordSegmentation(segment.Result{
		Traces: []encode.Trace{
			{Events: make([][]float64, 3)},
			{Events: make([][]float64, 5)},
		},
		Stats:    segment.Stats{Shrinks: 2, StallRetries: 1},
		Coverage: &segment.CoverageWarning{Missing: []int{7}},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TracesEmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Adjustments.WithLabelValues("shrink")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Adjustments.WithLabelValues("stall_retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoverageWarnings))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TraceLength))
}

func TestRecordReplay(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordReplay("test", replay.Summary{Events: 12, Unmatched: 3})
	m.RecordReplay("test", replay.Summary{Events: 4})

	assert.Equal(t, 16.0, testutil.ToFloat64(m.ReplayEvents.WithLabelValues("test")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.UnmatchedGuards))
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TracesEmitted.Add(4)

	path := filepath.Join(t.TempDir(), "flowtrace.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "flowtrace_traces_emitted_total 4"))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
