// Package replay walks encoded traces through a parsed automaton and
// accumulates what each state observed.
package replay

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
)

// #region types

// ErrUnmatchedGuard is returned under PolicyFail when no guard fires.
var ErrUnmatchedGuard = errors.New("no transition guard matched")

// UnmatchedGuardError pins down where a walk found no matching guard.
type UnmatchedGuardError struct {
	Trace int
	Event int
	Node  string
}

func (e *UnmatchedGuardError) Error() string {
	return fmt.Sprintf("trace %d event %d: no transition guard matched at state %s", e.Trace, e.Event, e.Node)
}

func (e *UnmatchedGuardError) Unwrap() error { return ErrUnmatchedGuard }

// Policy decides what a walk does when no guard matches.
type Policy string

const (
	// PolicyStay keeps the walk at the current state and counts the miss.
	PolicyStay Policy = "stay"
	// PolicyFail aborts the replay with UnmatchedGuardError.
	PolicyFail Policy = "fail"
)

// ParsePolicy accepts "stay" or "fail".
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStay:
		return PolicyStay, nil
	case PolicyFail:
		return PolicyFail, nil
	}
	return "", fmt.Errorf("unknown unmatched-guard policy %q", s)
}

// ParseKind accepts "train" or "test".
func ParseKind(s string) (automaton.Kind, error) {
	switch automaton.Kind(s) {
	case "", automaton.KindTrain:
		return automaton.KindTrain, nil
	case automaton.KindTest:
		return automaton.KindTest, nil
	}
	return "", fmt.Errorf("unknown replay kind %q", s)
}

// Config selects the accumulator and the unmatched-guard policy.
type Config struct {
	Kind      automaton.Kind `json:"kind"`
	Unmatched Policy         `json:"unmatched"`
}

// DefaultConfig replays training traces and stays put on a miss.
func DefaultConfig() Config {
	return Config{Kind: automaton.KindTrain, Unmatched: PolicyStay}
}

// Result is the outcome of walking one trace.
type Result struct {
	Trace     int      `json:"trace"`
	Events    int      `json:"events"`
	Unmatched int      `json:"unmatched"`
	Path      []string `json:"path"` // state visited per event
	Final     string   `json:"final"`
}

// Summary aggregates a replay run.
type Summary struct {
	Traces      int            `json:"traces"`
	Events      int            `json:"events"`
	Unmatched   int            `json:"unmatched"`
	FinalStates map[string]int `json:"final_states"`
}

// #endregion types

// #region replay

// ReplayTrace walks one trace. The walk fires out of root with an empty
// observation, then for every event visits the current state with the
// event's values and position and fires the first matching transition.
// States without outgoing edges absorb the rest of the trace.
//
// Under PolicyFail the visits made before the unmatched event stay in
// m's accumulators; the partial Result is returned with the error.
func ReplayTrace(m *automaton.Model, trace int, events [][]float64, indices []int, cfg Config) (Result, error) {
	if len(indices) != len(events) {
		return Result{}, fmt.Errorf("trace %d: %d events but %d indices", trace, len(events), len(indices))
	}
	cfg = withDefaults(cfg)
	res := Result{Trace: trace, Events: len(events), Path: make([]string, 0, len(events))}

	cur, ok := m.Fire(m.RootIndex(), map[int]float64{})
	if !ok {
		cur = m.RootIndex()
	}
	for i, ev := range events {
		obs := observation(ev)
		node := m.At(cur)
		node.Visit(cfg.Kind, obs, indices[i])
		res.Path = append(res.Path, node.ID)

		next, fired := m.Fire(cur, obs)
		if !fired && len(node.Edges) > 0 {
			if cfg.Unmatched == PolicyFail {
				return res, &UnmatchedGuardError{Trace: trace, Event: i, Node: node.ID}
			}
			res.Unmatched++
		}
		cur = next
	}
	res.Final = m.At(cur).ID
	return res, nil
}

// Replay walks every trace in order and mutates m's accumulators.
// traces[i] and indices[i] must have equal length.
//
// Replay does not roll back. When a trace fails under PolicyFail, m keeps
// the observations of every earlier trace and of the failing trace up to
// the unmatched event, and the results of the completed traces are
// returned. Callers that need all-or-nothing replay into m.Clone() and
// keep the clone only on success.
func Replay(m *automaton.Model, traces [][][]float64, indices [][]int, cfg Config) ([]Result, error) {
	if len(traces) != len(indices) {
		return nil, fmt.Errorf("%d traces but %d index lists", len(traces), len(indices))
	}
	results := make([]Result, 0, len(traces))
	for i, tr := range traces {
		r, err := ReplayTrace(m, i, tr, indices[i], cfg)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{
		Traces:      len(results),
		FinalStates: map[string]int{},
	}
	for _, r := range results {
		s.Events += r.Events
		s.Unmatched += r.Unmatched
		s.FinalStates[r.Final]++
	}
	return s
}

// #endregion replay

// #region helpers

// observation keys event values by feature position.
func observation(ev []float64) map[int]float64 {
	obs := make(map[int]float64, len(ev))
	for i, v := range ev {
		obs[i] = v
	}
	return obs
}

func withDefaults(cfg Config) Config {
	if cfg.Kind == "" {
		cfg.Kind = automaton.KindTrain
	}
	if cfg.Unmatched == "" {
		cfg.Unmatched = PolicyStay
	}
	return cfg
}

// #endregion helpers
