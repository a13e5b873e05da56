package guard

import (
	"fmt"
	"strconv"
	"strings"
)

// #region comparator

// Comparator enumerates the numeric comparisons a clause may use.
type Comparator string

const (
	Less         Comparator = "<"
	Greater      Comparator = ">"
	LessEqual    Comparator = "<="
	GreaterEqual Comparator = ">="
	Equal        Comparator = "=="
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case Less, Greater, LessEqual, GreaterEqual, Equal:
		return true
	}
	return false
}

// Apply evaluates v <c> bound.
func (c Comparator) Apply(v, bound float64) bool {
	switch c {
	case Less:
		return v < bound
	case Greater:
		return v > bound
	case LessEqual:
		return v <= bound
	case GreaterEqual:
		return v >= bound
	case Equal:
		return v == bound
	}
	return false
}

// #endregion comparator

// #region clause

// Clause is one (feature, comparator, boundary) triple.
type Clause struct {
	Feature int        `json:"feature"`
	Op      Comparator `json:"op"`
	Bound   float64    `json:"bound"`
}

func (c Clause) String() string {
	return fmt.Sprintf("%d %s %s", c.Feature, c.Op, strconv.FormatFloat(c.Bound, 'f', -1, 64))
}

// Conjunction holds when every clause holds.
type Conjunction []Clause

func (cj Conjunction) String() string {
	parts := make([]string, len(cj))
	for i, c := range cj {
		parts[i] = c.String()
	}
	return strings.Join(parts, " && ")
}

// #endregion clause
