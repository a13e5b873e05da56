package discretize

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Limits returns bins-1 boundaries at the linear-interpolation
// percentiles 100*i/bins for i = 1..bins-1. One bin needs no boundary.
func Limits(values []float64, bins int) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}
	if bins < 1 {
		return nil, fmt.Errorf("discretize: bins %d < 1", bins)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out := make([]float64, 0, bins-1)
	for i := 1; i < bins; i++ {
		out = append(out, percentile(sorted, float64(i)/float64(bins)))
	}
	return out, nil
}

// percentile interpolates linearly between closest ranks of sorted at
// fraction q in [0, 1].
func percentile(sorted []float64, q float64) float64 {
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}

// Bin returns the index of the first boundary v does not exceed, or
// len(limits) when v is above all of them.
func Bin(v float64, limits []float64) int {
	for i, l := range limits {
		if v <= l {
			return i
		}
	}
	return len(limits)
}

// #region files

// Set maps feature names to their boundaries.
type Set map[string][]float64

// LoadLimits reads a YAML feature -> boundaries document.
func LoadLimits(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits %s: %w", path, err)
	}
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse limits %s: %w", path, err)
	}
	for f, l := range s {
		if !sort.Float64sAreSorted(l) {
			return nil, fmt.Errorf("limits %s: boundaries for %q are not ascending", path, f)
		}
	}
	return s, nil
}

// SaveLimits writes s as YAML, merging into an existing file at path.
func SaveLimits(path string, s Set) error {
	merged := Set{}
	if existing, err := LoadLimits(path); err == nil {
		for f, l := range existing {
			merged[f] = l
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for f, l := range s {
		merged[f] = l
	}
	data, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write limits %s: %w", path, err)
	}
	return nil
}

// #endregion files
