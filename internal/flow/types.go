package flow

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrSchema is returned for schema and column lookup failures.
var ErrSchema = errors.New("flow schema")

// #region record
// Record is one flow record. Values are aligned with the owning Block's Features.
// Records are immutable once loaded.
type Record struct {
	Time   time.Time
	Values []float64
	Label  string
}

// #endregion record

// #region block
// Block is a time-ordered set of records. Offset is the position of
// Records[0] in the original full block, so positions reported for a
// sub-block stay relative to the block it was cut from.
type Block struct {
	Features []string
	Records  []Record
	Offset   int
}

// Len returns the number of records.
func (b Block) Len() int {
	return len(b.Records)
}

// Sort orders records by time. Equal timestamps keep their relative order.
func (b *Block) Sort() {
	sort.SliceStable(b.Records, func(i, j int) bool {
		return b.Records[i].Time.Before(b.Records[j].Time)
	})
}

// Times returns the record timestamps in block order.
func (b Block) Times() []time.Time {
	out := make([]time.Time, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Time
	}
	return out
}

// FeatureIndex returns the column position of a feature.
func (b Block) FeatureIndex(name string) (int, error) {
	for i, f := range b.Features {
		if f == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: unknown feature %q", ErrSchema, name)
}

// Column returns all values of one feature.
func (b Block) Column(name string) ([]float64, error) {
	idx, err := b.FeatureIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(b.Records))
	for i, r := range b.Records {
		out[i] = r.Values[idx]
	}
	return out, nil
}

// Slice returns records [lo, hi) as a sub-block sharing the backing array.
// The sub-block's Offset keeps positions global.
func (b Block) Slice(lo, hi int) Block {
	return Block{
		Features: b.Features,
		Records:  b.Records[lo:hi],
		Offset:   b.Offset + lo,
	}
}

// Position converts a local record index to its position in the full block.
func (b Block) Position(local int) int {
	return b.Offset + local
}

// Positions lists the global position of every record.
func (b Block) Positions() []int {
	out := make([]int, len(b.Records))
	for i := range out {
		out[i] = b.Offset + i
	}
	return out
}

// #endregion block
