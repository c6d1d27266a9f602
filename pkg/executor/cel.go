package executor

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/openfroyo/policyforge/pkg/engine"
)

// ExpressionEvaluator evaluates check expressions written in CEL.
//
// Expressions see four variables: state (the target's parameters), target
// (host, platform and labels), expected (the requirement's expected value)
// and params (the raw check specification). They must return a bool.
type ExpressionEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewExpressionEvaluator creates an evaluator with its own compile cache.
func NewExpressionEvaluator() (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("expected", cel.DynType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ExpressionEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile checks an expression without running it.
func (e *ExpressionEvaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval runs expr against a target's state.
func (e *ExpressionEvaluator) Eval(expr string, target engine.Target, state map[string]any, spec engine.CheckSpec) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	params := spec.Params
	if params == nil {
		params = map[string]any{}
	}
	if state == nil {
		state = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"state":    state,
		"target":   targetVars(target),
		"expected": spec.Expected,
		"params":   params,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("check expression must return boolean, got %T", out.Value())
	}
	return passed, nil
}

func (e *ExpressionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}

func targetVars(target engine.Target) map[string]any {
	labels := make(map[string]any, len(target.Labels))
	for k, v := range target.Labels {
		labels[k] = v
	}
	return map[string]any{
		"host":     target.Host,
		"platform": string(target.Platform),
		"labels":   labels,
	}
}
