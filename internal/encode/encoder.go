package encode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/flowtrace/internal/discretize"
	"github.com/danielpatrickdp/flowtrace/internal/flow"
)

// Options controls how windows are turned into traces.
type Options struct {
	// Aggregate replaces raw values with rolling in-window statistics.
	Aggregate bool
	// NewFeatures adds spread and cardinality columns during aggregation.
	NewFeatures bool
	// Limits maps feature names to discretization boundaries. Ignored
	// when aggregating.
	Limits discretize.Set
}

// Trace is one encoded window: one row of values per event.
type Trace struct {
	Events [][]float64
	Floats bool
}

// Len returns the number of events.
func (t Trace) Len() int { return len(t.Events) }

// Strings renders each event as its comma-joined value tuple.
func (t Trace) Strings() []string {
	out := make([]string, len(t.Events))
	for i, ev := range t.Events {
		parts := make([]string, len(ev))
		for j, v := range ev {
			parts[j] = FormatValue(v, t.Floats)
		}
		out[i] = strings.Join(parts, ",")
	}
	return out
}

// Encoder restricts records to the selected features and encodes them.
type Encoder struct {
	selected []string
	cols     []int
	limits   [][]float64 // per selected feature, nil when not discretized
	agg      []aggColumn
	floats   bool
}

// NewEncoder binds the selected feature list to a block's feature layout.
func NewEncoder(blockFeatures, selected []string, opts Options) (*Encoder, error) {
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no features selected", flow.ErrSchema)
	}
	b := flow.Block{Features: blockFeatures}
	e := &Encoder{
		selected: append([]string(nil), selected...),
		cols:     make([]int, len(selected)),
		limits:   make([][]float64, len(selected)),
	}
	for i, name := range selected {
		idx, err := b.FeatureIndex(name)
		if err != nil {
			return nil, err
		}
		e.cols[i] = idx
		if !opts.Aggregate {
			e.limits[i] = opts.Limits[name]
		}
	}
	if opts.Aggregate {
		e.agg = aggregationColumns(selected, opts.NewFeatures)
		if len(e.agg) == 0 {
			return nil, fmt.Errorf("%w: no aggregation applies to %v", flow.ErrSchema, selected)
		}
		e.floats = true
	} else {
		for i, name := range selected {
			if e.limits[i] == nil && (strings.Contains(name, "duration") || strings.Contains(name, "date_diff")) {
				e.floats = true
			}
		}
	}
	return e, nil
}

// Width is the number of values per encoded event.
func (e *Encoder) Width() int {
	if e.agg != nil {
		return len(e.agg)
	}
	return len(e.selected)
}

// Columns names the values of an encoded event.
func (e *Encoder) Columns() []string {
	if e.agg == nil {
		return append([]string(nil), e.selected...)
	}
	out := make([]string, len(e.agg))
	for i, c := range e.agg {
		out[i] = c.name
	}
	return out
}

// Encode emits one event per record, or per aggregated row.
func (e *Encoder) Encode(records []flow.Record) Trace {
	rows := make([][]float64, len(records))
	for i, r := range records {
		row := make([]float64, len(e.cols))
		for j, c := range e.cols {
			v := r.Values[c]
			if e.limits[j] != nil {
				v = float64(discretize.Bin(v, e.limits[j]))
			}
			row[j] = v
		}
		rows[i] = row
	}
	if e.agg != nil {
		rows = aggregate(rows, e.agg)
	}
	return Trace{Events: rows, Floats: e.floats}
}

// #region format

// FormatValue renders v as integer text (truncated toward zero) or as
// float text that always carries a decimal point or an exponent.
func FormatValue(v float64, floats bool) string {
	switch {
	case math.IsNaN(v):
		if floats {
			return "nan"
		}
		return "0"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if !floats {
		return strconv.FormatInt(int64(v), 10)
	}
	abs := math.Abs(v)
	if abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseEvent reads a comma-joined event back into values.
func ParseEvent(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("event %q: value %d: %w", s, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// #endregion format
