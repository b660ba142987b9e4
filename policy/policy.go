// Package policy decides which callers may run privileged commands. Rules are
// CEL expressions over the caller identity.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"disputeflow/errs"
)

// DefaultOracleRule admits callers holding the oracle role.
const DefaultOracleRule = `caller.role == "oracle"`

// DefaultAdminRule admits callers holding the admin role.
const DefaultAdminRule = `caller.role == "admin"`

var ErrDenied = errs.New(errs.ErrUnauthorized, "policy: caller not permitted")

// Caller is the authenticated identity a command runs as.
type Caller struct {
	ID   string
	Role string
}

func (c Caller) activation() map[string]any {
	return map[string]any{
		"caller": map[string]any{
			"id":   c.ID,
			"role": c.Role,
		},
	}
}

// Evaluator compiles and caches CEL programs.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("caller", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	return &Evaluator{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.cache[expr]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy: %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("policy: program %q: %w", expr, err)
	}
	e.cache[expr] = prg
	return prg, nil
}

// Compile checks expr without evaluating it.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Allow evaluates expr for caller.
func (e *Evaluator) Allow(ctx context.Context, expr string, caller Caller) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.ContextEval(ctx, caller.activation())
	if err != nil {
		return false, fmt.Errorf("policy: eval %q: %w", expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: %q returned %T", expr, out.Value())
	}
	return allowed, nil
}

// Rule binds one expression to an evaluator.
type Rule struct {
	eval *Evaluator
	expr string
}

// NewRule compiles expr up front so a bad rule fails at startup.
func NewRule(eval *Evaluator, expr string) (*Rule, error) {
	if err := eval.Compile(expr); err != nil {
		return nil, err
	}
	return &Rule{eval: eval, expr: expr}, nil
}

// Check returns ErrDenied unless caller satisfies the rule.
func (r *Rule) Check(ctx context.Context, caller Caller) error {
	ok, err := r.eval.Allow(ctx, r.expr, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrDenied, caller.ID)
	}
	return nil
}

func (r *Rule) String() string { return r.expr }
