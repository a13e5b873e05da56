package signals

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/danielpatrickdp/flowtrace/internal/distance"
)

// #region producer

// Producer computes content signals from consecutive traces.
type Producer struct {
	distance distance.Func
	config   ProducerConfig
}

// NewProducer wraps f according to config. f may be nil, in which case
// the reference DTW is used.
func NewProducer(f distance.Func, config ProducerConfig) *Producer {
	if f == nil {
		f = distance.DTW
	}
	if !config.Multivariate {
		f = distance.Univariate(f)
	}
	return &Producer{distance: distance.Dissimilarity(f, config.Normalize), config: config}
}

// #endregion producer

// #region produce

// Produce derives the window and stride decisions for the newest trace.
// The size anomaly check comes first; the dissimilarity check always runs.
func (p *Producer) Produce(input ProduceInput) (Signals, error) {
	var s Signals
	s.LengthZ, s.Window = p.sizeAnomaly(input.Lengths)

	d, err := p.distance(input.Previous, input.Current)
	if err != nil {
		return s, fmt.Errorf("dissimilarity: %w", err)
	}
	s.Dissimilarity = d
	switch {
	case d < p.config.Low:
		s.Stride = StrideDouble
	case d > p.config.High:
		s.Stride = StrideHalve
	}
	return s, nil
}

// #endregion produce

// #region size

// sizeAnomaly compares the newest length with the mean over all lengths.
// A longer outlier halves the window, a shorter one doubles it.
func (p *Producer) sizeAnomaly(lengths []int) (float64, WindowAction) {
	if len(lengths) < 2 {
		return 0, WindowHold
	}
	data := make(stats.Float64Data, len(lengths))
	for i, l := range lengths {
		data[i] = float64(l)
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return 0, WindowHold
	}
	std, err := stats.StandardDeviationPopulation(data)
	if err != nil || std == 0 {
		return 0, WindowHold
	}
	z := (data[len(data)-1] - mean) / std
	if math.Abs(z) <= p.config.Sigma {
		return z, WindowHold
	}
	if z > 0 {
		return z, WindowHalve
	}
	return z, WindowDouble
}

// #endregion size
