// Package evaluator compiles SPARQL expressions into closures evaluated
// once per solution mapping. FILTER, BIND and HAVING stages share one
// compiled form; each applies its own policy when evaluation fails.
package evaluator

import (
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// AggregateProperty is the property bag key under which the aggregation
// stage stores grouped rows: a map from variable name to the terms the
// variable took across the group. The "*" entry holds one marker term per
// group row and backs COUNT(*).
const AggregateProperty = "__aggregate"

// GroupRows is the value type stored under AggregateProperty
type GroupRows = map[string][]rdf.Term

// Compiled is an expression compiled against a solution mapping. A nil
// term with a nil error means the expression evaluated to no value (an
// unbound variable).
type Compiled func(b *graph.Binding) (rdf.Term, error)

// Function is a user-supplied scalar function keyed by IRI
type Function func(args []rdf.Term) (rdf.Term, error)

// AggregateFunc reduces the terms a variable took across one group
type AggregateFunc func(terms []rdf.Term, separator string) (rdf.Term, error)

// ExistsFunc evaluates an EXISTS group against the current mapping; it is
// injected by the plan builder since it needs the query pipeline.
type ExistsFunc func(patterns []algebra.Pattern, b *graph.Binding) (bool, error)

// Evaluator compiles expressions. Custom registrations are searched
// before built-ins: custom aggregates first, then custom functions.
type Evaluator struct {
	functions  map[string]Function
	aggregates map[string]AggregateFunc
	exists     ExistsFunc
}

// New creates an evaluator with the built-in operator set only
func New() *Evaluator {
	return &Evaluator{
		functions:  make(map[string]Function),
		aggregates: make(map[string]AggregateFunc),
	}
}

// RegisterFunction registers a custom scalar function under an IRI
func (e *Evaluator) RegisterFunction(iri string, fn Function) {
	e.functions[iri] = fn
}

// RegisterAggregate registers a custom aggregate under an IRI
func (e *Evaluator) RegisterAggregate(iri string, fn AggregateFunc) {
	e.aggregates[iri] = fn
}

// SetExistsFunc injects the EXISTS group evaluation hook
func (e *Evaluator) SetExistsFunc(fn ExistsFunc) {
	e.exists = fn
}

// Compile translates an expression tree into a closure. Structural
// problems (unknown operators or function IRIs) surface here, once per
// occurrence; data-dependent failures surface at evaluation time.
func (e *Evaluator) Compile(expr *algebra.Expression) (Compiled, error) {
	if expr == nil {
		return nil, &UnsupportedExpressionError{Detail: "nil expression"}
	}

	switch expr.Type {
	case algebra.ExprTerm:
		return e.compileTerm(expr.Term)
	case algebra.ExprOperation:
		return e.compileOperation(expr)
	case algebra.ExprAggregate:
		return e.compileAggregate(expr)
	case algebra.ExprFunction:
		return e.compileFunction(expr)
	case algebra.ExprExists:
		return e.compileExists(expr)
	default:
		return nil, &UnsupportedExpressionError{Detail: "unknown expression node"}
	}
}

func (e *Evaluator) compileTerm(term rdf.Term) (Compiled, error) {
	if term == nil {
		return nil, &UnsupportedExpressionError{Detail: "nil term"}
	}
	if v, ok := term.(*rdf.Variable); ok {
		name := v.Name
		return func(b *graph.Binding) (rdf.Term, error) {
			if t, ok := b.Get(name); ok {
				return t, nil
			}
			return nil, nil
		}, nil
	}
	return func(*graph.Binding) (rdf.Term, error) {
		return term, nil
	}, nil
}

func (e *Evaluator) compileOperation(expr *algebra.Expression) (Compiled, error) {
	op := strings.ToLower(expr.Operator)

	switch op {
	case "&&", "||", "!":
		return e.compileLogical(op, expr.Args)
	case "bound":
		return e.compileBound(expr.Args)
	case "coalesce":
		return e.compileCoalesce(expr.Args)
	case "if":
		return e.compileIf(expr.Args)
	case "in", "notin", "not in":
		return e.compileIn(op != "in", expr.Args)
	case "exists", "notexists", "not exists":
		return e.compileExists(&algebra.Expression{
			Type:     algebra.ExprExists,
			Patterns: expr.Patterns,
			Not:      op != "exists",
		})
	}

	builtin, ok := builtins[op]
	if !ok {
		return nil, &UnsupportedExpressionError{Detail: "operator " + expr.Operator}
	}

	args, err := e.compileAll(expr.Args)
	if err != nil {
		return nil, err
	}
	return func(b *graph.Binding) (rdf.Term, error) {
		terms, err := evalArgs(args, b)
		if err != nil {
			return nil, err
		}
		return builtin(terms)
	}, nil
}

func (e *Evaluator) compileAll(exprs []*algebra.Expression) ([]Compiled, error) {
	out := make([]Compiled, len(exprs))
	for i, ex := range exprs {
		c, err := e.Compile(ex)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// evalArgs evaluates operands left to right; an unbound variable is an
// evaluation error for strict operators
func evalArgs(args []Compiled, b *graph.Binding) ([]rdf.Term, error) {
	terms := make([]rdf.Term, len(args))
	for i, arg := range args {
		t, err := arg(b)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, evalErrorf("unbound operand")
		}
		terms[i] = t
	}
	return terms, nil
}

// compileLogical implements SPARQL three-valued logic with
// short-circuiting: for ||, an error on one side is recoverable when the
// other side is true; for &&, when the other side is false.
func (e *Evaluator) compileLogical(op string, argExprs []*algebra.Expression) (Compiled, error) {
	args, err := e.compileAll(argExprs)
	if err != nil {
		return nil, err
	}

	if op == "!" {
		if len(args) != 1 {
			return nil, &UnsupportedExpressionError{Detail: "! expects one operand"}
		}
		return func(b *graph.Binding) (rdf.Term, error) {
			v, err := ebvOf(args[0], b)
			if err != nil {
				return nil, err
			}
			return rdf.NewBooleanLiteral(!v), nil
		}, nil
	}

	if len(args) != 2 {
		return nil, &UnsupportedExpressionError{Detail: op + " expects two operands"}
	}
	and := op == "&&"
	return func(b *graph.Binding) (rdf.Term, error) {
		left, leftErr := ebvOf(args[0], b)
		if leftErr == nil {
			if and && !left {
				return rdf.NewBooleanLiteral(false), nil
			}
			if !and && left {
				return rdf.NewBooleanLiteral(true), nil
			}
		}
		right, rightErr := ebvOf(args[1], b)
		if rightErr == nil {
			if and && !right {
				return rdf.NewBooleanLiteral(false), nil
			}
			if !and && right {
				return rdf.NewBooleanLiteral(true), nil
			}
		}
		if leftErr != nil {
			return nil, leftErr
		}
		if rightErr != nil {
			return nil, rightErr
		}
		if and {
			return rdf.NewBooleanLiteral(left && right), nil
		}
		return rdf.NewBooleanLiteral(left || right), nil
	}, nil
}

func ebvOf(c Compiled, b *graph.Binding) (bool, error) {
	t, err := c(b)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, evalErrorf("unbound operand")
	}
	return EffectiveBooleanValue(t)
}

// compileBound implements BOUND(?v): it inspects the mapping domain
// instead of evaluating its argument
func (e *Evaluator) compileBound(args []*algebra.Expression) (Compiled, error) {
	if len(args) != 1 || args[0].Type != algebra.ExprTerm {
		return nil, &UnsupportedExpressionError{Detail: "BOUND expects a variable"}
	}
	v, ok := args[0].Term.(*rdf.Variable)
	if !ok {
		return nil, &UnsupportedExpressionError{Detail: "BOUND expects a variable"}
	}
	name := v.Name
	return func(b *graph.Binding) (rdf.Term, error) {
		t, bound := b.Get(name)
		bound = bound && t.Type() != rdf.TermTypeUnbound
		return rdf.NewBooleanLiteral(bound), nil
	}, nil
}

func (e *Evaluator) compileCoalesce(argExprs []*algebra.Expression) (Compiled, error) {
	args, err := e.compileAll(argExprs)
	if err != nil {
		return nil, err
	}
	return func(b *graph.Binding) (rdf.Term, error) {
		for _, arg := range args {
			if t, err := arg(b); err == nil && t != nil {
				return t, nil
			}
		}
		return nil, evalErrorf("COALESCE: no operand evaluated")
	}, nil
}

func (e *Evaluator) compileIf(argExprs []*algebra.Expression) (Compiled, error) {
	if len(argExprs) != 3 {
		return nil, &UnsupportedExpressionError{Detail: "IF expects three operands"}
	}
	args, err := e.compileAll(argExprs)
	if err != nil {
		return nil, err
	}
	return func(b *graph.Binding) (rdf.Term, error) {
		cond, err := ebvOf(args[0], b)
		if err != nil {
			return nil, err
		}
		if cond {
			return args[1](b)
		}
		return args[2](b)
	}, nil
}

// compileIn implements IN / NOT IN. The right operand is a verbatim term
// list; evaluation failures of individual members are skipped per SPARQL.
func (e *Evaluator) compileIn(negate bool, argExprs []*algebra.Expression) (Compiled, error) {
	if len(argExprs) != 2 || argExprs[1].Type != algebra.ExprList {
		return nil, &UnsupportedExpressionError{Detail: "IN expects an expression and a term list"}
	}
	needle, err := e.Compile(argExprs[0])
	if err != nil {
		return nil, err
	}
	list := argExprs[1].Terms
	return func(b *graph.Binding) (rdf.Term, error) {
		t, err := needle(b)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, evalErrorf("unbound operand")
		}
		found := false
		for _, candidate := range list {
			if t.Equals(candidate) {
				found = true
				break
			}
		}
		if negate {
			found = !found
		}
		return rdf.NewBooleanLiteral(found), nil
	}, nil
}

func (e *Evaluator) compileExists(expr *algebra.Expression) (Compiled, error) {
	if e.exists == nil {
		return nil, &UnsupportedExpressionError{Detail: "EXISTS evaluation not wired"}
	}
	patterns := expr.Patterns
	negate := expr.Not
	exists := e.exists
	return func(b *graph.Binding) (rdf.Term, error) {
		found, err := exists(patterns, b)
		if err != nil {
			return nil, err
		}
		if negate {
			found = !found
		}
		return rdf.NewBooleanLiteral(found), nil
	}, nil
}

// compileFunction resolves an IRI-named call: custom aggregates first,
// then custom functions, then built-ins (XSD constructor casts).
func (e *Evaluator) compileFunction(expr *algebra.Expression) (Compiled, error) {
	iri := expr.Function

	if agg, ok := e.aggregates[iri]; ok {
		return e.compileAggregateCall(expr, iri, agg)
	}

	if fn, ok := e.functions[iri]; ok {
		args, err := e.compileAll(expr.Args)
		if err != nil {
			return nil, err
		}
		return func(b *graph.Binding) (rdf.Term, error) {
			terms, err := evalArgs(args, b)
			if err != nil {
				return nil, err
			}
			t, err := fn(terms)
			if err != nil {
				return nil, evalErrorf("%s: %v", iri, err)
			}
			return t, nil
		}, nil
	}

	if strings.HasPrefix(iri, xsdNamespace) {
		args, err := e.compileAll(expr.Args)
		if err != nil {
			return nil, err
		}
		return func(b *graph.Binding) (rdf.Term, error) {
			terms, err := evalArgs(args, b)
			if err != nil {
				return nil, err
			}
			return castTo(iri, terms)
		}, nil
	}

	return nil, &UnknownFunctionError{IRI: iri}
}
