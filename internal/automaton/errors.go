package automaton

import (
	"errors"
	"fmt"
)

// ErrStructural marks grammar mismatches and state/transition inconsistencies.
var ErrStructural = errors.New("automaton structure")

// ParseError reports the offending logical line. Want and Got are set
// when a transition's source disagrees with the currently open state.
type ParseError struct {
	Line int
	Text string
	Msg  string
	Want string
	Got  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Want != "" || e.Got != "" {
		return fmt.Sprintf("line %d: transition source %q does not match open state %q: %s", e.Line, e.Got, e.Want, e.Text)
	}
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v: %s", e.Line, e.Msg, e.Err, e.Text)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Msg, e.Text)
}

// Is matches ErrStructural.
func (e *ParseError) Is(target error) bool { return target == ErrStructural }

func (e *ParseError) Unwrap() error { return e.Err }
