package algebra

import "github.com/aleksaelezovic/sparq/pkg/rdf"

// ExpressionType discriminates expression nodes
type ExpressionType int

const (
	// ExprTerm is a constant term or a variable reference
	ExprTerm ExpressionType = iota + 1
	// ExprList is a verbatim list of terms (IN / NOT IN operands)
	ExprList
	// ExprOperation is a built-in operator application
	ExprOperation
	// ExprAggregate is an aggregate application (SUM, COUNT, ...)
	ExprAggregate
	// ExprFunction is a call to an IRI-named function
	ExprFunction
	// ExprExists is an EXISTS / NOT EXISTS group test
	ExprExists
)

// Expression is a tagged variant over SPARQL expression nodes. Only the
// fields relevant to Type are populated.
type Expression struct {
	Type ExpressionType

	// ExprTerm
	Term rdf.Term

	// ExprList
	Terms []rdf.Term

	// ExprOperation: operator symbol or builtin name ("&&", "+", "str", ...)
	Operator string
	Args     []*Expression

	// ExprAggregate: aggregation name ("sum", "count", ...), Distinct flag
	// and GROUP_CONCAT separator. Args holds the single aggregated
	// expression; a nil Args entry means COUNT(*).
	Aggregation string
	Distinct    bool
	Separator   string

	// ExprFunction: full IRI of the function
	Function string

	// ExprExists
	Patterns []Pattern
	Not      bool
}

// TermExpr wraps a term (or variable) as an expression
func TermExpr(t rdf.Term) *Expression {
	return &Expression{Type: ExprTerm, Term: t}
}

// VarExpr wraps a variable name as an expression
func VarExpr(name string) *Expression {
	return TermExpr(rdf.NewVariable(name))
}

// Op builds an operator application
func Op(operator string, args ...*Expression) *Expression {
	return &Expression{Type: ExprOperation, Operator: operator, Args: args}
}
