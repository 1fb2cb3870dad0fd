package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Validator compile-checks condition expressions before they are written to
// a policy. Compiled ASTs are cached per expression; the environment exposes
// the variables IAM conditions may reference.
type Validator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]*cel.Ast
}

// NewValidator creates a Validator with the IAM condition environment.
func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
		cel.Variable("resource", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Validator{env: env, cache: make(map[string]*cel.Ast)}, nil
}

// Check compiles expr and returns the compile error, if any. Expressions
// must type-check as bool.
func (v *Validator) Check(expr string) error {
	v.mu.RLock()
	_, hit := v.cache[expr]
	v.mu.RUnlock()
	if hit {
		return nil
	}

	ast, issues := v.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile condition: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return fmt.Errorf("condition must evaluate to bool, got %s", ast.OutputType())
	}

	v.mu.Lock()
	v.cache[expr] = ast
	v.mu.Unlock()
	return nil
}
