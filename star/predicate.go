package star

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Predicate is a compiled, cached CEL convergence expression evaluated by
// the aggregator loop against {result, iteration} after each aggregate call.
// A true result forces convergence regardless of what the role itself
// returned. The analyzer loop does not evaluate it.
//
// Adapted from the workflow runner's condition evaluator: one compiled
// cel.Program per expression, built once and reused for every iteration.
type Predicate struct {
	expr string
	prg  cel.Program
}

// NewPredicate compiles expr once. Empty expr is valid and Evaluate on it
// always returns false (no additional convergence forcing).
func NewPredicate(expr string) (*Predicate, error) {
	if expr == "" {
		return &Predicate{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("result", cel.DynType),
		cel.Variable("iteration", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("star: create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("star: compile convergence predicate: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("star: build convergence predicate program: %w", err)
	}

	return &Predicate{expr: expr, prg: prg}, nil
}

// Evaluate runs the predicate against the current result and iteration
// count. An unset predicate always evaluates to false.
func (p *Predicate) Evaluate(result any, iteration int) (bool, error) {
	if p == nil || p.prg == nil {
		return false, nil
	}

	out, _, err := p.prg.Eval(map[string]any{
		"result":    result,
		"iteration": iteration,
	})
	if err != nil {
		return false, fmt.Errorf("star: evaluate convergence predicate %q: %w", p.expr, err)
	}

	converged, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("star: convergence predicate %q did not return a bool", p.expr)
	}
	return converged, nil
}
