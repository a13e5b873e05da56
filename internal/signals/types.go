package signals

// #region config

// ProducerConfig holds tuning knobs for content signals.
type ProducerConfig struct {
	Low          float64 // dissimilarity below this doubles the stride
	High         float64 // dissimilarity above this halves the stride
	Sigma        float64 // length deviations beyond Sigma std devs are anomalies
	Multivariate bool    // false compares feature columns separately and averages
	Normalize    bool    // joint min-max scaling before the distance
}

// DefaultProducerConfig returns sensible defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Low:          0.5,
		High:         5,
		Sigma:        3,
		Multivariate: true,
		Normalize:    true,
	}
}

// #endregion config

// #region input

// ProduceInput is the state after an emission: the two newest traces and
// the lengths of every trace emitted so far, newest last.
type ProduceInput struct {
	Previous [][]float64
	Current  [][]float64
	Lengths  []int
}

// #endregion input

// #region output

// StrideAction is the content-driven stride decision.
type StrideAction int

const (
	StrideHold StrideAction = iota
	StrideDouble
	StrideHalve
)

func (a StrideAction) String() string {
	switch a {
	case StrideDouble:
		return "double_stride"
	case StrideHalve:
		return "halve_stride"
	}
	return "hold"
}

// WindowAction is the size-anomaly decision.
type WindowAction int

const (
	WindowHold WindowAction = iota
	WindowHalve
	WindowDouble
)

func (a WindowAction) String() string {
	switch a {
	case WindowHalve:
		return "halve_window"
	case WindowDouble:
		return "double_window"
	}
	return "hold"
}

// Signals is what Produce derived for the newest trace.
type Signals struct {
	Dissimilarity float64
	LengthZ       float64
	Window        WindowAction
	Stride        StrideAction
}

// #endregion output
