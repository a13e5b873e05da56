package automaton

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danielpatrickdp/flowtrace/internal/guard"
)

// rootSpellings are ids that always denote root, whatever the label.
var rootSpellings = map[string]bool{"I": true, RootID: true}

// #region options

// ParseOption adjusts how a description is parsed.
type ParseOption func(*modelParser)

// SkipBadLines drops statements the grammar cannot use and hands each
// one to skipped instead of aborting. Lexical errors and the structural
// checks on the finished model still fail the parse.
func SkipBadLines(skipped func(*ParseError)) ParseOption {
	return func(p *modelParser) {
		if skipped == nil {
			skipped = func(*ParseError) {}
		}
		p.skipped = skipped
	}
}

// #endregion options

// #region entry

// ParseFile reads an automaton description from path.
func ParseFile(path string, opts ...ParseOption) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %s: %w", path, err)
	}
	defer f.Close()
	m, err := Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	return m, nil
}

// Parse reads a directed-graph automaton description. Statements are
// processed in order: a state statement closes the previous state and
// opens a new one, transition statements attach to the open state.
func Parse(r io.Reader, opts ...ParseOption) (*Model, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseString(string(src), opts...)
}

// ParseString is Parse over an in-memory description.
func ParseString(src string, opts ...ParseOption) (*Model, error) {
	stmts, err := statements(src)
	if err != nil {
		return nil, err
	}
	p := &modelParser{}
	for _, opt := range opts {
		opt(p)
	}
	for _, st := range stmts {
		if err := p.statement(st); err != nil {
			var pe *ParseError
			if p.skipped == nil || !errors.As(err, &pe) {
				return nil, err
			}
			p.skipped(pe)
		}
	}
	p.flush()
	p.resolveAlias()
	return Build(p.nodes)
}

// #endregion entry

// #region statements

type modelParser struct {
	nodes     []*Node
	open      *Node
	rootAlias string // raw id of the state labelled root
	skipped   func(*ParseError)
}

func (p *modelParser) flush() {
	if p.open != nil {
		p.nodes = append(p.nodes, p.open)
		p.open = nil
	}
}

func (p *modelParser) statement(st statement) error {
	toks := st.toks
	if ignorable(toks) {
		return nil
	}
	if len(toks) >= 1 && isIdent(toks[0]) {
		if len(toks) >= 3 && toks[1].kind == tArrow && isIdent(toks[2]) {
			attrs, err := attributes(st, toks[3:])
			if err != nil {
				return err
			}
			return p.transition(st, toks[0].text, toks[2].text, attrs)
		}
		attrs, err := attributes(st, toks[1:])
		if err != nil {
			return err
		}
		return p.state(st, toks[0].text, attrs)
	}
	return &ParseError{Line: st.line, Text: st.text, Msg: "unrecognized statement"}
}

func (p *modelParser) state(st statement, id string, attrs map[string]string) error {
	label, ok := attrs["label"]
	if !ok {
		return &ParseError{Line: st.line, Text: st.text, Msg: fmt.Sprintf("state %q has no label", id)}
	}
	info, err := parseStateLabel(label)
	if err != nil {
		return &ParseError{Line: st.line, Text: st.text, Msg: "state label", Err: err}
	}
	p.flush()
	if info.root || rootSpellings[id] {
		p.rootAlias = id
		id = RootID
	}
	p.open = &Node{
		ID:         id,
		Attributes: info.attributes,
		FinalCount: info.final,
		TotalCount: info.total(),
		Observed:   map[Kind]*Observations{},
	}
	return nil
}

func (p *modelParser) transition(st statement, src, dst string, attrs map[string]string) error {
	src = p.source(src)
	if rootSpellings[dst] {
		dst = RootID
	}
	if p.open == nil {
		return &ParseError{Line: st.line, Text: st.text, Msg: fmt.Sprintf("transition from %q before any state", src)}
	}
	if src != p.open.ID {
		return &ParseError{Line: st.line, Text: st.text, Want: p.open.ID, Got: src}
	}
	edge := Edge{To: dst, Line: st.line}
	label, ok := attrs["label"]
	if !ok && src != RootID {
		return &ParseError{Line: st.line, Text: st.text, Msg: fmt.Sprintf("transition %s -> %s has no guard", src, dst)}
	}
	// Guards on root edges are kept for inspection; root still fires
	// unconditionally.
	if ok && (src != RootID || strings.TrimSpace(label) != "") {
		guards, err := guard.Parse(label)
		if err != nil {
			return &ParseError{Line: st.line, Text: st.text, Msg: "transition guard", Err: err}
		}
		edge.Guards = guards
	}
	p.open.Edges = append(p.open.Edges, edge)
	return nil
}

// source maps I and root to root. The raw id of the root-labelled state
// only means root while that state is open: a later state line may reuse
// the id for a node of its own.
func (p *modelParser) source(id string) string {
	if rootSpellings[id] {
		return RootID
	}
	if p.rootAlias != "" && id == p.rootAlias && p.open != nil && p.open.ID == RootID {
		return RootID
	}
	return id
}

// resolveAlias points edges at the root-labelled state's raw id back to
// root when no state line reused that id.
func (p *modelParser) resolveAlias() {
	if p.rootAlias == "" || rootSpellings[p.rootAlias] {
		return
	}
	for _, n := range p.nodes {
		if n.ID == p.rootAlias {
			return
		}
	}
	for _, n := range p.nodes {
		for i := range n.Edges {
			if n.Edges[i].To == p.rootAlias {
				n.Edges[i].To = RootID
			}
		}
	}
}

// #endregion statements

// #region grammar

func isIdent(t tok) bool { return t.kind == tID || t.kind == tString }

// ignorable reports graph headers, braces, attribute defaults and
// graph-level assignments such as rankdir=LR.
func ignorable(toks []tok) bool {
	if len(toks) == 0 {
		return true
	}
	first := toks[0]
	if first.kind == tLBrace || first.kind == tRBrace {
		return len(toks) == 1
	}
	if first.kind != tID {
		return false
	}
	switch first.text {
	case "digraph", "strict":
		return toks[len(toks)-1].kind == tLBrace
	case "graph":
		return toks[len(toks)-1].kind == tLBrace || len(toks) == 1 || toks[1].kind == tLBrack
	case "node", "edge":
		return len(toks) == 1 || toks[1].kind == tLBrack
	}
	return len(toks) == 3 && toks[1].kind == tEq && isIdent(toks[2])
}

// attributes reads an optional "[k=v, k=v]" list that must end the statement.
func attributes(st statement, toks []tok) (map[string]string, error) {
	out := map[string]string{}
	if len(toks) == 0 {
		return out, nil
	}
	fail := func(msg string) error {
		return &ParseError{Line: st.line, Text: st.text, Msg: msg}
	}
	if toks[0].kind != tLBrack {
		return nil, fail(fmt.Sprintf("unexpected %s", toks[0].kind))
	}
	i := 1
	for {
		if i >= len(toks) {
			return nil, fail("unclosed attribute list")
		}
		if toks[i].kind == tRBrack {
			i++
			break
		}
		if toks[i].kind == tComma {
			i++
			continue
		}
		if !isIdent(toks[i]) {
			return nil, fail(fmt.Sprintf("expected attribute name, got %s", toks[i].kind))
		}
		key := toks[i].text
		if i+2 >= len(toks) || toks[i+1].kind != tEq || !isIdent(toks[i+2]) {
			return nil, fail(fmt.Sprintf("attribute %q has no value", key))
		}
		out[key] = toks[i+2].text
		i += 3
	}
	if i != len(toks) {
		return nil, fail(fmt.Sprintf("unexpected %s after attribute list", toks[i].kind))
	}
	return out, nil
}

// #endregion grammar
