package store

import "time"

// #region records

// ModelRecord describes one persisted automaton.
type ModelRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Source    string    `json:"source" yaml:"source"`
	Nodes     int       `json:"nodes" yaml:"nodes"`
	Edges     int       `json:"edges" yaml:"edges"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// ReplayRun is one persisted replay summary.
type ReplayRun struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	ModelID     string         `json:"model_id" yaml:"model_id"`
	Kind        string         `json:"kind" yaml:"kind"`
	Traces      int            `json:"traces" yaml:"traces"`
	Events      int            `json:"events" yaml:"events"`
	Unmatched   int            `json:"unmatched" yaml:"unmatched"`
	FinalStates map[string]int `json:"final_states" yaml:"final_states"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

// #endregion records
