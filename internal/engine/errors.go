package engine

import "fmt"

// EvalError reports that a condition expression failed to evaluate: unknown
// field, malformed token, or a type mismatch. It is distinct from a condition
// that evaluates cleanly to false, so callers record FAILED rather than
// CONDITION_NOT_MET.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("condition evaluation failed: %s (expression: %q)", e.Reason, e.Expr)
}

func evalErrorf(expr, format string, args ...interface{}) *EvalError {
	return &EvalError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}
