package encode

import (
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
)

const maxAggregationWindow = 10

// #region columns

type reducer func(window []float64) float64

// aggColumn is one derived column computed from a source feature over a
// trailing rolling window.
type aggColumn struct {
	name   string
	source int // position in the selected feature list
	reduce reducer
}

// aggregationColumns derives the output columns from the selected feature
// names. A feature may contribute to several families when its name
// matches more than one of them.
func aggregationColumns(selected []string, newFeatures bool) []aggColumn {
	var cols []aggColumn
	add := func(name string, src int, fn reducer) {
		cols = append(cols, aggColumn{name: name, source: src, reduce: fn})
	}
	for i, f := range selected {
		if strings.Contains(f, "port") {
			if newFeatures {
				add("unique_"+f+"s", i, unique)
				add("std_"+f+"s", i, sampleStd)
			} else {
				add("median_"+f, i, median)
			}
		}
		if strings.Contains(f, "protocol_num") {
			add("argmax_protocol_num", i, mode)
			if newFeatures {
				add("std_protocol_num", i, sampleStd)
			}
		}
		for _, family := range []string{"duration", "bytes", "date_diff"} {
			if strings.Contains(f, family) {
				add("median_"+f, i, median)
				if newFeatures {
					add("std_"+f, i, sampleStd)
				}
			}
		}
		if strings.Contains(f, "dst_ip") && newFeatures {
			add("unique_dst_ips", i, unique)
		}
	}
	return cols
}

// #endregion columns

// #region rolling

// aggregate computes every column over a trailing window of
// min(10, len(rows)) rows with at least one observation, then back-fills
// undefined values from later rows. Values still undefined become 0.
func aggregate(rows [][]float64, cols []aggColumn) [][]float64 {
	n := len(rows)
	if n == 0 {
		return nil
	}
	w := n
	if w > maxAggregationWindow {
		w = maxAggregationWindow
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, len(cols))
	}
	buf := make([]float64, 0, w)
	for c, col := range cols {
		for i := 0; i < n; i++ {
			lo := i - w + 1
			if lo < 0 {
				lo = 0
			}
			buf = buf[:0]
			for _, r := range rows[lo : i+1] {
				buf = append(buf, r[col.source])
			}
			out[i][c] = col.reduce(buf)
		}
		backfill(out, c)
	}
	return out
}

func backfill(out [][]float64, c int) {
	next := math.NaN()
	for i := len(out) - 1; i >= 0; i-- {
		if math.IsNaN(out[i][c]) {
			out[i][c] = next
		} else {
			next = out[i][c]
		}
	}
	for i := range out {
		if math.IsNaN(out[i][c]) {
			out[i][c] = 0
		}
	}
}

// #endregion rolling

// #region reducers

func median(window []float64) float64 {
	m, err := stats.Median(window)
	if err != nil {
		return math.NaN()
	}
	return m
}

// sampleStd is undefined for fewer than two observations.
func sampleStd(window []float64) float64 {
	if len(window) < 2 {
		return math.NaN()
	}
	s, err := stats.StandardDeviationSample(window)
	if err != nil {
		return math.NaN()
	}
	return s
}

func unique(window []float64) float64 {
	seen := make(map[float64]struct{}, len(window))
	for _, v := range window {
		seen[v] = struct{}{}
	}
	return float64(len(seen))
}

// mode returns the most frequent value, the smallest one on ties.
func mode(window []float64) float64 {
	if len(window) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), window...)
	sort.Float64s(sorted)
	best, bestCount := sorted[0], 0
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		if j-i > bestCount {
			best, bestCount = sorted[i], j-i
		}
		i = j
	}
	return best
}

// #endregion reducers
