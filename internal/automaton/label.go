package automaton

import (
	"fmt"
	"strconv"
	"strings"
)

// stateInfo is what a state label declares about its node.
type stateInfo struct {
	root       bool
	final      int
	symbols    int
	attributes map[int][]float64
}

// parseStateLabel reads a state label. The literal "root" marks the entry
// state; anything else is a run of tagged fields
//
//	fin(n):[count]  symb(n):[count,]  attr(n):[b1,b2,...,]
//
// separated by arbitrary text. Unknown tags are skipped. Empty list
// elements, such as the trailing one after the last comma, are dropped.
func parseStateLabel(label string) (stateInfo, error) {
	info := stateInfo{attributes: map[int][]float64{}}
	if strings.TrimSpace(label) == RootID {
		info.root = true
		return info, nil
	}
	s := labelBreaks.Replace(label)
	for {
		open := strings.Index(s, "(")
		if open < 0 {
			return info, nil
		}
		tag := trailingWord(s[:open])
		rest := s[open+1:]
		closeP := strings.Index(rest, ")")
		if closeP < 0 {
			return info, fmt.Errorf("unclosed %q field", tag)
		}
		arg := rest[:closeP]
		rest = rest[closeP+1:]
		if !strings.HasPrefix(rest, ":[") {
			s = rest
			continue
		}
		end := strings.Index(rest, "]")
		if end < 0 {
			return info, fmt.Errorf("unclosed value list in %s(%s)", tag, arg)
		}
		values := rest[2:end]
		s = rest[end+1:]

		switch tag {
		case "fin", "symb", "attr":
		default:
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			return info, fmt.Errorf("%s(%s): index is not an integer", tag, arg)
		}
		nums, err := parseList(values)
		if err != nil {
			return info, fmt.Errorf("%s(%d): %w", tag, n, err)
		}
		switch tag {
		case "fin":
			info.final, err = singleCount(nums)
		case "symb":
			info.symbols, err = singleCount(nums)
		case "attr":
			info.attributes[n] = nums
		}
		if err != nil {
			return info, fmt.Errorf("%s(%d): %w", tag, n, err)
		}
	}
}

var labelBreaks = strings.NewReplacer(`\n`, " ", `\l`, " ", `\r`, " ")

// total is independent of whether fin or symb came first in the label.
func (s stateInfo) total() int { return s.final + s.symbols }

func trailingWord(s string) string {
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
			break
		}
		i--
	}
	return s[i:]
}

func parseList(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not numeric", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func singleCount(nums []float64) (int, error) {
	switch len(nums) {
	case 0:
		return 0, nil
	case 1:
		if nums[0] < 0 || nums[0] != float64(int(nums[0])) {
			return 0, fmt.Errorf("count %v is not a non-negative integer", nums[0])
		}
		return int(nums[0]), nil
	}
	return 0, fmt.Errorf("expected one count, got %d", len(nums))
}
