package splitter

import (
	"time"

	"github.com/danielpatrickdp/flowtrace/internal/flow"
)

// DefaultGapThreshold separates independent high-level segments.
const DefaultGapThreshold = 1800 * time.Second

const (
	maxTraceCap     = 1500
	minTraceFloor   = 10
	minTraceDivisor = 10000
	maxTraceDivisor = 100
)

// Split cuts a time-sorted block before every record whose gap to its
// predecessor exceeds threshold. Sub-blocks keep global offsets. An empty
// block yields no sub-blocks.
func Split(block flow.Block, threshold time.Duration) []flow.Block {
	if block.Len() == 0 {
		return nil
	}
	var out []flow.Block
	lo := 0
	for i := 1; i < block.Len(); i++ {
		if block.Records[i].Time.Sub(block.Records[i-1].Time) > threshold {
			out = append(out, block.Slice(lo, i))
			lo = i
		}
	}
	return append(out, block.Slice(lo, block.Len()))
}

// Limits returns the (min, max) trace-length targets for a block of n
// records: min = max(n/10000, 10) clipped to n, max = max(n/100, 1500)
// capped at 1500.
func Limits(n int) (int, int) {
	lo := n / minTraceDivisor
	if lo < minTraceFloor {
		lo = minTraceFloor
	}
	hi := n / maxTraceDivisor
	if hi < maxTraceCap {
		hi = maxTraceCap
	}
	if n < lo {
		lo = n
	}
	if hi > maxTraceCap {
		hi = maxTraceCap
	}
	return lo, hi
}
