package segment

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStalled means stride growth could not find new records within
	// the configured number of rounds.
	ErrStalled = errors.New("segmentation stalled")
	// ErrInvalidBounds rejects unsatisfiable trace-length bounds.
	ErrInvalidBounds = errors.New("invalid trace length bounds")
)

// StallError carries the cursor at the point segmentation gave up.
type StallError struct {
	Start  time.Time
	Window time.Duration
	Stride time.Duration
	Rounds int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("segmentation stalled at %s after %d rounds (window %s, stride %s)",
		e.Start.Format(time.RFC3339Nano), e.Rounds, e.Window, e.Stride)
}

func (e *StallError) Unwrap() error { return ErrStalled }

// CoverageWarning lists global record positions that no emitted trace
// contains. The traces that were emitted remain valid.
type CoverageWarning struct {
	Missing []int
}

func (w *CoverageWarning) String() string {
	return fmt.Sprintf("%d records not placed in any trace", len(w.Missing))
}
