package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: an
// automaton in its text form, the traces walked through it and the
// outcome each walk is expected to reach.
type Fixture struct {
	Description string        `json:"description"`
	Model       string        `json:"model"`
	Config      Config        `json:"config"`
	Traces      [][][]float64 `json:"traces"`
	Indices     [][]int       `json:"indices"`
	Expected    []Expected    `json:"expected_results"`
}

// Expected captures the expected outcome per trace.
type Expected struct {
	Trace     int    `json:"trace"`
	Final     string `json:"final"`
	Unmatched int    `json:"unmatched"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture stores f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// Run parses the fixture model and replays its traces against it.
func (f *Fixture) Run() ([]Result, *automaton.Model, error) {
	m, err := automaton.ParseString(f.Model)
	if err != nil {
		return nil, nil, fmt.Errorf("fixture model: %w", err)
	}
	results, err := Replay(m, f.Traces, f.Indices, f.Config)
	if err != nil {
		return results, m, err
	}
	return results, m, nil
}

// NewFixture builds a fixture whose expectations come from an actual
// replay of traces against modelText.
func NewFixture(description, modelText string, traces [][][]float64, indices [][]int, cfg Config) (*Fixture, error) {
	f := &Fixture{
		Description: description,
		Model:       modelText,
		Config:      withDefaults(cfg),
		Traces:      traces,
		Indices:     indices,
	}
	results, _, err := f.Run()
	if err != nil {
		return nil, err
	}
	f.Expected = make([]Expected, len(results))
	for i, r := range results {
		f.Expected[i] = Expected{Trace: r.Trace, Final: r.Final, Unmatched: r.Unmatched}
	}
	return f, nil
}

// #endregion fixture-loader
