package config

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"abiguard/pkg/abi"
)

// celRule is a growability predicate written in CEL. It sees two string
// variables: kind ("struct" or "enum") and name.
type celRule struct {
	expr string
	prg  cel.Program
}

func (r *celRule) Growable(kind abi.Kind, name string) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"kind": kind.String(),
		"name": name,
	})
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.expr, err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q: result is %T, not bool", r.expr, out.Value())
	}
	return v, nil
}

// CompileRules type-checks every expression up front so a bad rule fails
// the config rather than the render.
func CompileRules(exprs []string) ([]abi.Rule, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]abi.Rule, 0, len(exprs))
	for i, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: growable rule %d: %v", ErrInvalid, i, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("%w: growable rule %d returns %s, want bool", ErrInvalid, i, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("%w: growable rule %d: %v", ErrInvalid, i, err)
		}
		rules = append(rules, &celRule{expr: expr, prg: prg})
	}
	return rules, nil
}
