package distance

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape is returned for empty series or mismatched feature widths.
var ErrShape = errors.New("distance: bad series shape")

// #region contract

// Func measures dissimilarity between two multivariate series (one row per
// event). Results are non-negative, 0 for identical input, and grow with
// dissimilarity.
type Func func(a, b [][]float64) (float64, error)

// Dissimilarity wraps f with joint min-max normalization when normalize is set.
func Dissimilarity(f Func, normalize bool) Func {
	if !normalize {
		return f
	}
	return func(a, b [][]float64) (float64, error) {
		na, nb, err := Normalize(a, b)
		if err != nil {
			return 0, err
		}
		return f(na, nb)
	}
}

// Univariate applies f to each feature column separately and averages.
func Univariate(f Func) Func {
	return func(a, b [][]float64) (float64, error) {
		width, err := widthOf(a, b)
		if err != nil {
			return 0, err
		}
		var sum float64
		for j := 0; j < width; j++ {
			d, err := f(column(a, j), column(b, j))
			if err != nil {
				return 0, fmt.Errorf("feature %d: %w", j, err)
			}
			sum += d
		}
		return sum / float64(width), nil
	}
}

// #endregion contract

// #region normalize

// Normalize rescales a and b to [0,1] per feature using the minimum and
// maximum over both series together. Constant features map to 0.
func Normalize(a, b [][]float64) ([][]float64, [][]float64, error) {
	width, err := widthOf(a, b)
	if err != nil {
		return nil, nil, err
	}
	lo := make([]float64, width)
	hi := make([]float64, width)
	for j := range lo {
		lo[j] = math.Inf(1)
		hi[j] = math.Inf(-1)
	}
	for _, series := range [][][]float64{a, b} {
		for _, row := range series {
			for j, v := range row {
				lo[j] = math.Min(lo[j], v)
				hi[j] = math.Max(hi[j], v)
			}
		}
	}
	scale := func(series [][]float64) [][]float64 {
		out := make([][]float64, len(series))
		for i, row := range series {
			out[i] = make([]float64, width)
			for j, v := range row {
				if span := hi[j] - lo[j]; span > 0 {
					out[i][j] = (v - lo[j]) / span
				}
			}
		}
		return out
	}
	return scale(a), scale(b), nil
}

// #endregion normalize

// #region dtw

// DTW is multivariate dynamic time warping with squared Euclidean local cost.
// It returns the square root of the optimal accumulated cost.
func DTW(a, b [][]float64) (float64, error) {
	if _, err := widthOf(a, b); err != nil {
		return 0, err
	}
	m := len(b)
	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := 1; j <= m; j++ {
		prev[j] = math.Inf(1)
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = math.Inf(1)
		for j := 1; j <= m; j++ {
			best := math.Min(prev[j], math.Min(cur[j-1], prev[j-1]))
			cur[j] = sqEuclidean(a[i-1], b[j-1]) + best
		}
		prev, cur = cur, prev
	}
	return math.Sqrt(prev[m]), nil
}

func sqEuclidean(x, y []float64) float64 {
	var s float64
	for k := range x {
		d := x[k] - y[k]
		s += d * d
	}
	return s
}

// #endregion dtw

// #region helpers

func widthOf(a, b [][]float64) (int, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("%w: empty series", ErrShape)
	}
	width := len(a[0])
	for _, series := range [][][]float64{a, b} {
		for i, row := range series {
			if len(row) != width {
				return 0, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), width)
			}
		}
	}
	if width == 0 {
		return 0, fmt.Errorf("%w: zero-width events", ErrShape)
	}
	return width, nil
}

func column(series [][]float64, j int) [][]float64 {
	out := make([][]float64, len(series))
	for i, row := range series {
		out[i] = []float64{row[j]}
	}
	return out
}

// #endregion helpers
