package evaluator

import (
	"errors"
	"fmt"
)

// ErrEvaluation is the base class of runtime expression failures. Stages
// translate it per the SPARQL contract: BIND binds the Unbound sentinel,
// FILTER drops the solution, HAVING drops the group.
var ErrEvaluation = errors.New("expression evaluation error")

// evalErrorf builds a runtime evaluation error
func evalErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEvaluation, fmt.Sprintf(format, args...))
}

// UnknownFunctionError is a compile-time failure: the expression
// references a function IRI no registry resolves.
type UnknownFunctionError struct {
	IRI string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function <%s>", e.IRI)
}

// AggregationOutsideGroupError is raised when an aggregate is evaluated
// against a solution that carries no grouped rows.
type AggregationOutsideGroupError struct {
	Aggregation string
}

func (e *AggregationOutsideGroupError) Error() string {
	return fmt.Sprintf("aggregate %s used outside of a GROUP BY context", e.Aggregation)
}

// UnsupportedExpressionError is a compile-time failure for expression
// nodes the evaluator does not understand.
type UnsupportedExpressionError struct {
	Detail string
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("unsupported expression: %s", e.Detail)
}
