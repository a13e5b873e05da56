package guard

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrSyntax is wrapped by every guard grammar error.
var ErrSyntax = errors.New("guard syntax")

// SyntaxError locates a grammar failure inside a guard label.
type SyntaxError struct {
	Pos  int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("guard %q at %d: %s", e.Text, e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// #region lexer

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokOp
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\\' && i+1 < len(src) && (src[i+1] == 'n' || src[i+1] == 'l' || src[i+1] == 'r'):
			i += 2
		case c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, src[i : i+2], i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, src[i : i+1], i})
				i++
			}
		case c == '=' && i+1 < len(src) && src[i+1] == '=':
			toks = append(toks, token{tokOp, "==", i})
			i += 2
		case c == '&' && i+1 < len(src) && src[i+1] == '&':
			toks = append(toks, token{tokAnd, "&&", i})
			i += 2
		case c == ',':
			toks = append(toks, token{tokAnd, ",", i})
			i++
		case c == '|' && i+1 < len(src) && src[i+1] == '|':
			toks = append(toks, token{tokOr, "||", i})
			i += 2
		case isNumberStart(src, i):
			j := scanNumber(src, i)
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		default:
			return nil, &SyntaxError{Pos: i, Text: src, Msg: fmt.Sprintf("unexpected %q", c)}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNumberStart(src string, i int) bool {
	c := src[i]
	if isDigit(c) {
		return true
	}
	if (c == '-' || c == '+' || c == '.') && i+1 < len(src) {
		return isDigit(src[i+1]) || (src[i+1] == '.' && i+2 < len(src) && isDigit(src[i+2]))
	}
	return false
}

func scanNumber(src string, i int) int {
	j := i
	if src[j] == '-' || src[j] == '+' {
		j++
	}
	for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
		j++
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '-' || src[k] == '+') {
			k++
		}
		if k < len(src) && isDigit(src[k]) {
			j = k
			for j < len(src) && isDigit(src[j]) {
				j++
			}
		}
	}
	return j
}

// #endregion lexer

// #region parser

// Parse reads a guard label:
//
//	guard  := conj { "||" conj }
//	conj   := clause { [ "&&" | "," ] clause }
//	clause := feature comparator number
//
// Label line-break escapes (\n, \l, \r) count as whitespace.
func Parse(src string) ([]Conjunction, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	if p.peek().kind == tokEOF {
		return nil, p.fail("empty guard")
	}
	var out []Conjunction
	for {
		cj, err := p.conjunction()
		if err != nil {
			return nil, err
		}
		out = append(out, cj)
		if p.peek().kind != tokOr {
			break
		}
		p.next()
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.fail(fmt.Sprintf("unexpected %q", t.text))
	}
	return out, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) fail(msg string) error {
	return &SyntaxError{Pos: p.peek().pos, Text: p.src, Msg: msg}
}

func (p *parser) conjunction() (Conjunction, error) {
	var cj Conjunction
	for {
		c, err := p.clause()
		if err != nil {
			return nil, err
		}
		cj = append(cj, c)
		switch p.peek().kind {
		case tokAnd:
			p.next()
		case tokNumber:
		default:
			return cj, nil
		}
	}
}

func (p *parser) clause() (Clause, error) {
	ft := p.peek()
	if ft.kind != tokNumber {
		return Clause{}, p.fail("expected feature id")
	}
	feature, err := strconv.Atoi(ft.text)
	if err != nil || feature < 0 {
		return Clause{}, p.fail(fmt.Sprintf("feature id %q is not a non-negative integer", ft.text))
	}
	p.next()

	ot := p.peek()
	if ot.kind != tokOp {
		return Clause{}, p.fail("expected comparator")
	}
	p.next()

	bt := p.peek()
	if bt.kind != tokNumber {
		return Clause{}, p.fail("expected boundary")
	}
	bound, err := strconv.ParseFloat(bt.text, 64)
	if err != nil {
		return Clause{}, p.fail(fmt.Sprintf("boundary %q: %v", bt.text, err))
	}
	p.next()

	return Clause{Feature: feature, Op: Comparator(ot.text), Bound: bound}, nil
}

// #endregion parser
