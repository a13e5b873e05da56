package encode

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/flowtrace/internal/discretize"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
)

var features = []string{"src_port", "dst_port", "protocol_num", "duration", "orig_bytes"}

func records(rows ...[]float64) []flow.Record {
	base := time.Unix(0, 0)
	out := make([]flow.Record, len(rows))
	for i, r := range rows {
		out[i] = flow.Record{Time: base.Add(time.Duration(i) * time.Second), Values: r}
	}
	return out
}

// #region encoder-tests

func TestEncode_IntegerText(t *testing.T) {
	enc, err := NewEncoder(features, []string{"dst_port", "orig_bytes"}, Options{})
	require.NoError(t, err)
	tr := enc.Encode(records(
		[]float64{1, 80.9, 6, 0.5, -3.7},
		[]float64{2, 443, 6, 1.0, 12},
	))
	assert.False(t, tr.Floats)
	assert.Equal(t, []string{"80,-3", "443,12"}, tr.Strings())
	assert.Equal(t, 2, enc.Width())
	assert.Equal(t, []string{"dst_port", "orig_bytes"}, enc.Columns())
}

func TestEncode_DurationUsesFloatText(t *testing.T) {
	enc, err := NewEncoder(features, []string{"protocol_num", "duration"}, Options{})
	require.NoError(t, err)
	tr := enc.Encode(records([]float64{1, 80, 6, 0.5, 0}, []float64{1, 80, 17, 3, 0}))
	assert.True(t, tr.Floats)
	assert.Equal(t, []string{"6.0,0.5", "17.0,3.0"}, tr.Strings())
}

func TestEncode_Discretized(t *testing.T) {
	enc, err := NewEncoder(features, []string{"dst_port", "duration"}, Options{
		Limits: discretize.Set{"dst_port": {100, 1000}, "duration": {1}},
	})
	require.NoError(t, err)
	tr := enc.Encode(records(
		[]float64{0, 80, 0, 0.2, 0},
		[]float64{0, 443, 0, 5, 0},
		[]float64{0, 8080, 0, 1, 0},
	))
	assert.False(t, tr.Floats, "a discretized duration is integral")
	assert.Equal(t, []string{"0,0", "1,1", "2,0"}, tr.Strings())
}

func TestEncode_UnknownFeature(t *testing.T) {
	_, err := NewEncoder(features, []string{"nope"}, Options{})
	assert.ErrorIs(t, err, flow.ErrSchema)
	_, err = NewEncoder(features, nil, Options{})
	assert.ErrorIs(t, err, flow.ErrSchema)
	_, err = NewEncoder(features, []string{"src_ip_code"}, Options{Aggregate: true})
	assert.Error(t, err)
}

// #endregion encoder-tests

// #region aggregation-tests

func TestEncode_RollingAggregation(t *testing.T) {
	enc, err := NewEncoder(features, []string{"dst_port", "protocol_num"}, Options{Aggregate: true, NewFeatures: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"unique_dst_ports", "std_dst_ports", "argmax_protocol_num", "std_protocol_num"}, enc.Columns())

	tr := enc.Encode(records(
		[]float64{0, 80, 6, 0, 0},
		[]float64{0, 80, 17, 0, 0},
		[]float64{0, 443, 17, 0, 0},
	))
	require.Len(t, tr.Events, 3)
	assert.True(t, tr.Floats)

	// Row 0 has no spread; it is back-filled from row 1.
	assert.Equal(t, 1.0, tr.Events[0][0])
	assert.Equal(t, 0.0, tr.Events[0][1])
	assert.Equal(t, 6.0, tr.Events[0][2])
	assert.InDelta(t, math.Sqrt(60.5), tr.Events[0][3], 1e-9)

	assert.Equal(t, 6.0, tr.Events[1][2], "ties resolve to the smaller value")
	assert.Equal(t, 2.0, tr.Events[2][0])
	assert.InDelta(t, math.Sqrt(43923), tr.Events[2][1], 1e-9)
	assert.Equal(t, 17.0, tr.Events[2][2])
}

func TestEncode_AggregationWithoutNewFeatures(t *testing.T) {
	enc, err := NewEncoder(features, []string{"dst_port", "duration"}, Options{Aggregate: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"median_dst_port", "median_duration"}, enc.Columns())

	tr := enc.Encode(records([]float64{0, 10, 0, 1, 0}, []float64{0, 30, 0, 2, 0}))
	assert.Equal(t, []string{"10.0,1.0", "20.0,1.5"}, tr.Strings())
}

func TestAggregate_SingleRowSpreadIsZero(t *testing.T) {
	cols := aggregationColumns([]string{"orig_bytes"}, true)
	out := aggregate([][]float64{{42}}, cols)
	assert.Equal(t, [][]float64{{42, 0}}, out)
}

func TestAggregate_WindowCappedAtTen(t *testing.T) {
	rows := make([][]float64, 12)
	for i := range rows {
		rows[i] = []float64{float64(i)}
	}
	out := aggregate(rows, []aggColumn{{name: "unique_ports", reduce: unique}})
	assert.Equal(t, 10.0, out[11][0])
	assert.Equal(t, 5.0, out[4][0])
}

func TestMode(t *testing.T) {
	assert.Equal(t, 1.0, mode([]float64{3, 1, 3, 1}))
	assert.Equal(t, 3.0, mode([]float64{3, 1, 3}))
	assert.True(t, math.IsNaN(mode(nil)))
}

// #endregion aggregation-tests

// #region format-tests

func TestFormatValue(t *testing.T) {
	cases := []struct {
		v      float64
		floats bool
		want   string
	}{
		{2, true, "2.0"},
		{0.25, true, "0.25"},
		{-7.9, false, "-7"},
		{1e16, true, "1e+16"},
		{0.00001, true, "1e-05"},
		{math.NaN(), false, "0"},
		{math.NaN(), true, "nan"},
		{0, true, "0.0"},
	}
	for _, c := range cases {
		if got := FormatValue(c.v, c.floats); got != c.want {
			t.Errorf("FormatValue(%v, %v) = %q, want %q", c.v, c.floats, got, c.want)
		}
	}
}

func TestParseEvent(t *testing.T) {
	got, err := ParseEvent("80,6.5,-1")
	require.NoError(t, err)
	assert.Equal(t, []float64{80, 6.5, -1}, got)
	_, err = ParseEvent("80,x")
	assert.Error(t, err)
}

// #endregion format-tests
