package automaton

import (
	"fmt"
	"strings"
)

// #region tokens

type tokKind int

const (
	tID tokKind = iota
	tString
	tArrow
	tLBrack
	tRBrack
	tEq
	tComma
	tLBrace
	tRBrace
)

func (k tokKind) String() string {
	switch k {
	case tID:
		return "identifier"
	case tString:
		return "string"
	case tArrow:
		return "'->'"
	case tLBrack:
		return "'['"
	case tRBrack:
		return "']'"
	case tEq:
		return "'='"
	case tComma:
		return "','"
	case tLBrace:
		return "'{'"
	case tRBrace:
		return "'}'"
	}
	return "token"
}

type tok struct {
	kind       tokKind
	text       string
	line       int
	start, end int
}

// statement is one logical line: the tokens between newlines, semicolons
// and braces. Newlines inside quoted strings do not end a statement.
type statement struct {
	toks []tok
	line int
	text string
}

// #endregion tokens

// #region scanner

func statements(src string) ([]statement, error) {
	var (
		out  []statement
		cur  []tok
		line = 1
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		out = append(out, statement{
			toks: cur,
			line: cur[0].line,
			text: src[cur[0].start:cur[len(cur)-1].end],
		})
		cur = nil
	}
	emit := func(k tokKind, text string, start, end int) {
		cur = append(cur, tok{kind: k, text: text, line: line, start: start, end: end})
	}

	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			flush()
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == ';':
			flush()
			i++
		case c == '#' || strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, &ParseError{Line: line, Msg: "unterminated comment", Text: src[i:]}
			}
			line += strings.Count(src[i:i+2+end], "\n")
			i += end + 4
		case c == '{':
			emit(tLBrace, "{", i, i+1)
			flush()
			i++
		case c == '}':
			flush()
			emit(tRBrace, "}", i, i+1)
			flush()
			i++
		case c == '[':
			emit(tLBrack, "[", i, i+1)
			i++
		case c == ']':
			emit(tRBrack, "]", i, i+1)
			i++
		case c == '=':
			emit(tEq, "=", i, i+1)
			i++
		case c == ',':
			emit(tComma, ",", i, i+1)
			i++
		case strings.HasPrefix(src[i:], "->"):
			emit(tArrow, "->", i, i+2)
			i += 2
		case c == '"':
			start, startLine := i, line
			var b strings.Builder
			i++
			closed := false
			for i < len(src) {
				ch := src[i]
				if ch == '\\' && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\\') {
					b.WriteByte(src[i+1])
					i += 2
					continue
				}
				if ch == '"' {
					closed = true
					i++
					break
				}
				if ch == '\n' {
					line++
				}
				b.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, &ParseError{Line: startLine, Msg: "unterminated string", Text: src[start:]}
			}
			cur = append(cur, tok{kind: tString, text: b.String(), line: startLine, start: start, end: i})
		case isIDByte(c) || (c == '-' && i+1 < len(src) && isDigitByte(src[i+1])):
			j := i + 1
			for j < len(src) && isIDByte(src[j]) {
				j++
			}
			emit(tID, src[i:j], i, j)
			i = j
		default:
			return nil, &ParseError{Line: line, Msg: fmt.Sprintf("unexpected character %q", c), Text: lineAt(src, i)}
		}
	}
	flush()
	return out, nil
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func isIDByte(c byte) bool {
	return c == '_' || c == '.' || isDigitByte(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func lineAt(src string, i int) string {
	lo := strings.LastIndexByte(src[:i], '\n') + 1
	hi := strings.IndexByte(src[i:], '\n')
	if hi < 0 {
		return src[lo:]
	}
	return src[lo : i+hi]
}

// #endregion scanner
