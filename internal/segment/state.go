package segment

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Phase is the control-loop step that last touched the state.
type Phase int

const (
	PhaseScanning Phase = iota
	PhaseStalled
	PhaseTooLarge
	PhaseTooSmall
	PhaseEmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseStalled:
		return "stalled"
	case PhaseTooLarge:
		return "too_large"
	case PhaseTooSmall:
		return "too_small"
	case PhaseEmitting:
		return "emitting"
	}
	return "scanning"
}

// Damped resize control.
const (
	initialMagnifier = 2.0
	initialReducer   = 0.05
)

// State is the segmentation cursor and control-loop bookkeeping. Record
// positions are local to the block being segmented; -1 means unset.
type State struct {
	Start  time.Time
	End    time.Time
	Window time.Duration
	Stride time.Duration

	// First and last record of the two most recent windows.
	PrevFirst, PrevLast int
	CurFirst, CurLast   int

	Magnifier     float64
	InitMagnifier float64
	Reducer       float64

	FirstWindow bool
	Phase       Phase
}

func newState(start time.Time, win, stride time.Duration) State {
	s := State{
		Start:       start,
		Window:      win,
		Stride:      stride,
		PrevFirst:   -1,
		PrevLast:    -1,
		CurFirst:    -1,
		CurLast:     -1,
		FirstWindow: true,
	}
	s.resetMagnifier()
	s.End = s.Start.Add(s.Window)
	return s
}

// record shifts the window history: the first window fills the previous
// slot, the second the current slot, later ones push current to previous.
func (s *State) record(first, last int) {
	switch {
	case s.PrevFirst < 0:
		s.PrevFirst, s.PrevLast = first, last
	case s.CurFirst < 0:
		s.CurFirst, s.CurLast = first, last
	default:
		s.PrevFirst, s.PrevLast = s.CurFirst, s.CurLast
		s.CurFirst, s.CurLast = first, last
	}
}

// adjust overwrites the slot of the window being resized.
func (s *State) adjust(first, last int) {
	if s.FirstWindow {
		s.PrevFirst, s.PrevLast = first, last
		return
	}
	s.CurFirst, s.CurLast = first, last
}

// unchanged reports whether the newest window captured nothing new.
func (s *State) unchanged() bool {
	return s.CurFirst >= 0 && s.PrevFirst == s.CurFirst && s.PrevLast == s.CurLast
}

// lastVisited is the last record of the newest window, or -1.
func (s *State) lastVisited() int {
	if s.CurLast >= 0 {
		return s.CurLast
	}
	return s.PrevLast
}

func (s *State) resetMagnifier() {
	s.InitMagnifier = initialMagnifier
	s.Magnifier = initialMagnifier
	s.Reducer = initialReducer
}

// damp lowers the magnifier by the reducer, rounded to the reducer's
// decimal places. At or below 1 it restarts above its initial value with
// half the reducer.
func (s *State) damp() {
	s.Magnifier -= s.Reducer
	s.Magnifier = roundTo(s.Magnifier, decimals(s.Reducer))
	if s.Magnifier <= 1 {
		s.Magnifier = s.InitMagnifier + 1
		s.Reducer /= 2
	}
}

func (s *State) moveTo(start time.Time) {
	s.Start = start
	s.End = start.Add(s.Window)
}

func (s *State) advance() {
	s.moveTo(s.Start.Add(s.Stride))
}

func decimals(v float64) int {
	str := strconv.FormatFloat(v, 'f', -1, 64)
	_, frac, ok := strings.Cut(str, ".")
	if !ok {
		return 0
	}
	return len(frac)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// scale multiplies d by f, saturating at limit.
func scale(d time.Duration, f float64, limit time.Duration) time.Duration {
	v := float64(d) * f
	if v >= float64(limit) {
		return limit
	}
	return time.Duration(v)
}
