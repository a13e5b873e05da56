package signals

import (
	"errors"
	"testing"
)

// #region mock

// fixedDistance returns a pre-configured distance or error.
func fixedDistance(d float64, err error) func(a, b [][]float64) (float64, error) {
	return func(a, b [][]float64) (float64, error) { return d, err }
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var pair = ProduceInput{
	Previous: [][]float64{{0, 1}, {0, 2}},
	Current:  [][]float64{{5, 1}, {6, 2}},
	Lengths:  []int{2, 2},
}

// #endregion mock

// #region stride-tests

func TestProduce_IdenticalTracesDoubleStride(t *testing.T) {
	p := NewProducer(nil, DefaultProducerConfig())
	tr := [][]float64{{80, 6}, {443, 6}, {53, 17}}
	s, err := p.Produce(ProduceInput{Previous: tr, Current: tr, Lengths: []int{3, 3}})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if s.Dissimilarity != 0 {
		t.Errorf("expected 0 dissimilarity, got %f", s.Dissimilarity)
	}
	if s.Stride != StrideDouble {
		t.Errorf("expected %s, got %s", StrideDouble, s.Stride)
	}
}

func TestProduce_Thresholds(t *testing.T) {
	cfg := DefaultProducerConfig()
	cases := []struct {
		d    float64
		want StrideAction
	}{
		{cfg.Low - 0.01, StrideDouble},
		{cfg.Low, StrideHold},
		{cfg.High, StrideHold},
		{cfg.High + 0.01, StrideHalve},
	}
	for _, c := range cases {
		p := NewProducer(fixedDistance(c.d, nil), ProducerConfig{Low: cfg.Low, High: cfg.High, Sigma: 3, Multivariate: true})
		s, err := p.Produce(pair)
		if err != nil {
			t.Fatalf("produce: %v", err)
		}
		if s.Stride != c.want {
			t.Errorf("d=%f: expected %s, got %s", c.d, c.want, s.Stride)
		}
	}
}

func TestProduce_NormalizedDTW(t *testing.T) {
	cfg := DefaultProducerConfig()
	cfg.High = 1
	p := NewProducer(nil, cfg)
	s, err := p.Produce(ProduceInput{
		Previous: [][]float64{{0}, {0}, {0}},
		Current:  [][]float64{{1000}, {1000}, {1000}},
		Lengths:  []int{3, 3},
	})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	// After joint scaling every step costs 1 along a 3-step diagonal.
	if s.Dissimilarity < 1.73 || s.Dissimilarity > 1.74 {
		t.Errorf("expected sqrt(3), got %f", s.Dissimilarity)
	}
	if s.Stride != StrideHalve {
		t.Errorf("expected %s, got %s", StrideHalve, s.Stride)
	}
}

func TestProduce_DistanceError(t *testing.T) {
	p := NewProducer(fixedDistance(0, errors.New("rpc failed")), DefaultProducerConfig())
	if _, err := p.Produce(pair); err == nil {
		t.Error("expected error from distance")
	}
}

// #endregion stride-tests

// #region size-tests

func TestSizeAnomaly_LongTraceHalvesWindow(t *testing.T) {
	p := NewProducer(fixedDistance(1, nil), DefaultProducerConfig())
	in := pair
	in.Lengths = append(repeat(10, 10), 100)
	s, err := p.Produce(in)
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if s.Window != WindowHalve {
		t.Errorf("expected %s, got %s (z=%f)", WindowHalve, s.Window, s.LengthZ)
	}
	if s.Stride != StrideHold {
		t.Errorf("dissimilarity check must still run, got %s", s.Stride)
	}
}

func TestSizeAnomaly_ShortTraceDoublesWindow(t *testing.T) {
	p := NewProducer(fixedDistance(1, nil), DefaultProducerConfig())
	in := pair
	in.Lengths = append(repeat(100, 20), 1)
	s, _ := p.Produce(in)
	if s.Window != WindowDouble {
		t.Errorf("expected %s, got %s (z=%f)", WindowDouble, s.Window, s.LengthZ)
	}
}

func TestSizeAnomaly_NoSpread(t *testing.T) {
	p := NewProducer(fixedDistance(1, nil), DefaultProducerConfig())
	in := pair
	in.Lengths = repeat(7, 30)
	s, _ := p.Produce(in)
	if s.Window != WindowHold || s.LengthZ != 0 {
		t.Errorf("expected hold with z=0, got %s z=%f", s.Window, s.LengthZ)
	}

	in.Lengths = []int{7}
	s, _ = p.Produce(in)
	if s.Window != WindowHold {
		t.Errorf("single length must hold, got %s", s.Window)
	}
}

// #endregion size-tests
