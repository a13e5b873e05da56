package flow

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// #region filter
// Filter is a compiled CEL predicate deciding which rows enter a Block.
// Expressions see `label` (string), `time` (timestamp) and `record`
// (map of feature name to double for numeric features, string for
// categorical ones), e.g. `label != "Background" && record.duration > 0.0`.
type Filter struct {
	source  string
	program cel.Program
}

// NewFilter compiles expr. The expression must evaluate to bool.
func NewFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("label", cel.StringType),
		cel.Variable("time", cel.TimestampType),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, issues.Err())
	}
	if got := ast.OutputType().String(); got != cel.BoolType.String() {
		return nil, fmt.Errorf("filter %q must return bool, got %s", expr, got)
	}
	prog, err := env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("filter program: %w", err)
	}
	return &Filter{source: expr, program: prog}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Keep evaluates the predicate for one row. A nil Filter keeps everything.
func (f *Filter) Keep(label string, ts time.Time, fields map[string]any) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.program.Eval(map[string]any{
		"label":  label,
		"time":   ts,
		"record": fields,
	})
	if err != nil {
		return false, fmt.Errorf("eval filter: %w", err)
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T, want bool", out.Value())
	}
	return keep, nil
}

// #endregion filter
