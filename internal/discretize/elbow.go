package discretize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
)

// ErrNoValues is returned when there is nothing to cluster or bin.
var ErrNoValues = errors.New("discretize: no values")

// #region elbow

// Candidate is one point of the inertia curve.
type Candidate struct {
	K       int     `json:"k" yaml:"k"`
	Inertia float64 `json:"inertia" yaml:"inertia"`
}

// Clusterer fits k clusters to one-dimensional values and returns the
// sum of squared distances to the assigned centroids.
type Clusterer interface {
	Inertia(values []float64, k int) (float64, error)
}

// Elbow evaluates k = 1..maxK and returns the inertia curve. Choosing the
// number of bins from the curve is left to the caller; Suggest offers a
// default.
func Elbow(values []float64, maxK int, c Clusterer) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}
	if maxK < 1 {
		return nil, fmt.Errorf("discretize: max k %d < 1", maxK)
	}
	if c == nil {
		c = KMeans{}
	}
	out := make([]Candidate, 0, maxK)
	for k := 1; k <= maxK; k++ {
		inertia, err := c.Inertia(values, k)
		if err != nil {
			return nil, fmt.Errorf("k=%d: %w", k, err)
		}
		out = append(out, Candidate{K: k, Inertia: inertia})
	}
	return out, nil
}

// Suggest picks the knee of the curve: the candidate farthest from the
// straight line joining the first and last points.
func Suggest(curve []Candidate) int {
	if len(curve) == 0 {
		return 0
	}
	if len(curve) < 3 {
		return curve[0].K
	}
	first, last := curve[0], curve[len(curve)-1]
	dx := float64(last.K - first.K)
	dy := last.Inertia - first.Inertia
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return first.K
	}
	best, bestDist := first.K, -1.0
	for _, c := range curve {
		d := math.Abs(dy*float64(c.K-first.K)-dx*(c.Inertia-first.Inertia)) / norm
		if d > bestDist {
			best, bestDist = c.K, d
		}
	}
	return best
}

// #endregion elbow

// #region kmeans

// KMeans is a deterministic one-dimensional Lloyd's k-means. Centroids
// start at evenly spaced quantiles of the sorted values.
type KMeans struct {
	MaxIter int
}

const defaultMaxIter = 300

func (km KMeans) Inertia(values []float64, k int) (float64, error) {
	if len(values) == 0 {
		return 0, ErrNoValues
	}
	if k < 1 {
		return 0, fmt.Errorf("discretize: k %d < 1", k)
	}
	maxIter := km.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if k > len(sorted) {
		k = len(sorted)
	}

	centroids := make([]float64, k)
	for i := range centroids {
		centroids[i] = sorted[(2*i+1)*len(sorted)/(2*k)]
	}

	assign := make([]int, len(sorted))
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, v := range sorted {
			if c := nearest(centroids, v); c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		members := make([][]float64, k)
		for i, v := range sorted {
			members[assign[i]] = append(members[assign[i]], v)
		}
		for c, m := range members {
			if len(m) == 0 {
				continue
			}
			mean, err := stats.Mean(m)
			if err != nil {
				return 0, err
			}
			centroids[c] = mean
		}
		if !changed && iter > 0 {
			break
		}
	}

	var inertia float64
	for i, v := range sorted {
		d := v - centroids[assign[i]]
		inertia += d * d
	}
	return inertia, nil
}

func nearest(centroids []float64, v float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// #endregion kmeans
