package automaton

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/flowtrace/internal/guard"
)

// RootID is the canonical identifier of the entry state.
const RootID = "root"

// #region types

// Kind separates accumulators filled by training and test traces.
type Kind string

const (
	KindTrain Kind = "train"
	KindTest  Kind = "test"
)

// Observations accumulates what replay saw while visiting a node.
type Observations struct {
	Values  map[int][]float64 `json:"values"`
	Indices []int             `json:"indices"`
}

// Edge is one transition line: a destination and the guard conjunctions
// declared on it. Edges out of root carry no guards.
type Edge struct {
	To     string              `json:"to"`
	Guards []guard.Conjunction `json:"guards,omitempty"`
	Line   int                 `json:"line,omitempty"`
}

// Node is one automaton state.
type Node struct {
	ID         string
	Attributes map[int][]float64 // feature id -> quantile boundaries
	FinalCount int
	TotalCount int
	Edges      []Edge // declaration order
	Observed   map[Kind]*Observations

	targets []int // arena index of Edges[i].To
}

// Model is an arena of nodes addressed by stable integer positions.
// Structure is frozen once built; only Observed changes afterwards.
type Model struct {
	nodes []*Node
	index map[string]int
	root  int
}

// #endregion types

// #region build

// Build assembles a Model from nodes in file order and resolves edges.
// It fails on duplicate ids, a missing or repeated root, dangling
// destinations, and guardless edges out of non-root states.
func Build(nodes []*Node) (*Model, error) {
	m := &Model{index: make(map[string]int, len(nodes)), root: -1}
	for _, n := range nodes {
		if _, dup := m.index[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrStructural, n.ID)
		}
		if n.Attributes == nil {
			n.Attributes = map[int][]float64{}
		}
		if n.Observed == nil {
			n.Observed = map[Kind]*Observations{}
		}
		m.index[n.ID] = len(m.nodes)
		m.nodes = append(m.nodes, n)
		if n.ID == RootID {
			m.root = m.index[n.ID]
		}
	}
	if err := m.link(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) link() error {
	for _, n := range m.nodes {
		n.targets = make([]int, len(n.Edges))
		for i, e := range n.Edges {
			idx, ok := m.index[e.To]
			if !ok {
				return fmt.Errorf("%w: state %q has transition to undeclared state %q", ErrStructural, n.ID, e.To)
			}
			n.targets[i] = idx
		}
	}
	return nil
}

// Validate checks the structural invariants of a built model.
func (m *Model) Validate() error {
	if m.root < 0 {
		return fmt.Errorf("%w: no root state", ErrStructural)
	}
	for _, n := range m.nodes {
		if n.ID == RootID {
			continue
		}
		for _, e := range n.Edges {
			if len(e.Guards) == 0 {
				return fmt.Errorf("%w: transition %s -> %s has no guard", ErrStructural, n.ID, e.To)
			}
		}
	}
	return nil
}

// #endregion build

// #region accessors

// Len returns the number of nodes, root included.
func (m *Model) Len() int { return len(m.nodes) }

// Nodes returns nodes in file order.
func (m *Model) Nodes() []*Node { return m.nodes }

// Root returns the entry node.
func (m *Model) Root() *Node { return m.nodes[m.root] }

// Node looks a node up by id.
func (m *Model) Node(id string) (*Node, bool) {
	idx, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.nodes[idx], true
}

// Destinations returns distinct destination ids in first-declared order.
func (n *Node) Destinations() []string {
	seen := make(map[string]bool, len(n.Edges))
	var out []string
	for _, e := range n.Edges {
		if !seen[e.To] {
			seen[e.To] = true
			out = append(out, e.To)
		}
	}
	return out
}

// Guards returns every conjunction leading to dst, in declared order.
func (n *Node) Guards(dst string) []guard.Conjunction {
	var out []guard.Conjunction
	for _, e := range n.Edges {
		if e.To == dst {
			out = append(out, e.Guards...)
		}
	}
	return out
}

// #endregion accessors

// #region fire

// Fire selects the next node for obs from the node at position cur.
// Root fires unconditionally to its first destination. Other nodes fire
// on the first conjunction that matches, scanning edges then conjunctions
// in declared order. ok is false when nothing fires.
func (m *Model) Fire(cur int, obs map[int]float64) (next int, ok bool) {
	n := m.nodes[cur]
	if len(n.Edges) == 0 {
		return cur, false
	}
	if cur == m.root {
		return n.targets[0], true
	}
	for i, e := range n.Edges {
		if guard.FirstMatch(e.Guards, obs) >= 0 {
			return n.targets[i], true
		}
	}
	return cur, false
}

// RootIndex returns the arena position of root.
func (m *Model) RootIndex() int { return m.root }

// At returns the node at arena position i.
func (m *Model) At(i int) *Node { return m.nodes[i] }

// #endregion fire

// #region accumulate

// Visit records one observation and its source record position.
func (n *Node) Visit(kind Kind, obs map[int]float64, index int) {
	acc, ok := n.Observed[kind]
	if !ok {
		acc = &Observations{Values: map[int][]float64{}}
		n.Observed[kind] = acc
	}
	for f, v := range obs {
		acc.Values[f] = append(acc.Values[f], v)
	}
	acc.Indices = append(acc.Indices, index)
}

// Visits returns how many observations of kind the node has absorbed.
func (n *Node) Visits(kind Kind) int {
	if acc, ok := n.Observed[kind]; ok {
		return len(acc.Indices)
	}
	return 0
}

// Reset drops every accumulator.
func (m *Model) Reset() {
	for _, n := range m.nodes {
		n.Observed = map[Kind]*Observations{}
	}
}

// Clone copies structure and accumulators into an independent Model.
func (m *Model) Clone() *Model {
	out := &Model{
		nodes: make([]*Node, len(m.nodes)),
		index: make(map[string]int, len(m.index)),
		root:  m.root,
	}
	for i, n := range m.nodes {
		c := &Node{
			ID:         n.ID,
			Attributes: make(map[int][]float64, len(n.Attributes)),
			FinalCount: n.FinalCount,
			TotalCount: n.TotalCount,
			Edges:      append([]Edge(nil), n.Edges...),
			Observed:   make(map[Kind]*Observations, len(n.Observed)),
			targets:    append([]int(nil), n.targets...),
		}
		for f, b := range n.Attributes {
			c.Attributes[f] = append([]float64(nil), b...)
		}
		for k, acc := range n.Observed {
			cp := &Observations{
				Values:  make(map[int][]float64, len(acc.Values)),
				Indices: append([]int(nil), acc.Indices...),
			}
			for f, vs := range acc.Values {
				cp.Values[f] = append([]float64(nil), vs...)
			}
			c.Observed[k] = cp
		}
		out.nodes[i] = c
		out.index[n.ID] = i
	}
	return out
}

// #endregion accumulate

// #region analysis

// Reachable walks the model breadth-first from root and returns node ids
// in visit order.
func (m *Model) Reachable() []string {
	visited := make([]bool, len(m.nodes))
	queue := []int{m.root}
	visited[m.root] = true
	var order []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, m.nodes[cur].ID)
		for _, t := range m.nodes[cur].targets {
			if !visited[t] {
				visited[t] = true
				queue = append(queue, t)
			}
		}
	}
	return order
}

// Unreachable returns ids of nodes that no path from root reaches, sorted.
func (m *Model) Unreachable() []string {
	seen := make(map[string]bool, len(m.nodes))
	for _, id := range m.Reachable() {
		seen[id] = true
	}
	var out []string
	for _, n := range m.nodes {
		if !seen[n.ID] {
			out = append(out, n.ID)
		}
	}
	sort.Strings(out)
	return out
}

// Overlap names two guard conjunctions on one node that can match the
// same observation. First-match order then decides which one fires.
type Overlap struct {
	Node     string
	First    guard.Conjunction
	FirstTo  string
	Second   guard.Conjunction
	SecondTo string
}

// Overlaps lists every overlapping pair of conjunctions that lead to
// different destinations.
func (m *Model) Overlaps() []Overlap {
	type entry struct {
		to string
		cj guard.Conjunction
	}
	var out []Overlap
	for _, n := range m.nodes {
		var all []entry
		for _, e := range n.Edges {
			for _, cj := range e.Guards {
				all = append(all, entry{e.To, cj})
			}
		}
		for i := 0; i < len(all); i++ {
			for j := i + 1; j < len(all); j++ {
				if all[i].to == all[j].to || !guard.Overlap(all[i].cj, all[j].cj) {
					continue
				}
				out = append(out, Overlap{
					Node:     n.ID,
					First:    all[i].cj,
					FirstTo:  all[i].to,
					Second:   all[j].cj,
					SecondTo: all[j].to,
				})
			}
		}
	}
	return out
}

// #endregion analysis
