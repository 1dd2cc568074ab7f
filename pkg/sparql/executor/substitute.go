package executor

import (
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// substitutePatterns deep-copies a pattern list with every variable of
// the row replaced by its term. Used by VALUES rewriting.
func substitutePatterns(patterns []algebra.Pattern, row map[string]rdf.Term) []algebra.Pattern {
	out := make([]algebra.Pattern, len(patterns))
	for i, node := range patterns {
		out[i] = substitutePattern(node, row)
	}
	return out
}

func substitutePattern(node algebra.Pattern, row map[string]rdf.Term) algebra.Pattern {
	switch n := node.(type) {
	case *algebra.BGP:
		triples := make([]algebra.TriplePattern, len(n.Triples))
		for i, tp := range n.Triples {
			triples[i] = substituteTriple(tp, row)
		}
		return &algebra.BGP{Triples: triples}
	case *algebra.Group:
		return &algebra.Group{Patterns: substitutePatterns(n.Patterns, row)}
	case *algebra.Optional:
		return &algebra.Optional{Patterns: substitutePatterns(n.Patterns, row)}
	case *algebra.Minus:
		return &algebra.Minus{Patterns: substitutePatterns(n.Patterns, row)}
	case *algebra.Union:
		branches := make([][]algebra.Pattern, len(n.Branches))
		for i, branch := range n.Branches {
			branches[i] = substitutePatterns(branch, row)
		}
		return &algebra.Union{Branches: branches}
	case *algebra.GraphPattern:
		return &algebra.GraphPattern{
			Name:     substituteTerm(n.Name, row),
			Patterns: substitutePatterns(n.Patterns, row),
		}
	case *algebra.Service:
		return &algebra.Service{
			Name:     substituteTerm(n.Name, row),
			Silent:   n.Silent,
			Patterns: substitutePatterns(n.Patterns, row),
		}
	case *algebra.Filter:
		return &algebra.Filter{Expression: substituteExpression(n.Expression, row)}
	case *algebra.Bind:
		// The bound variable is a binder, not a reference
		return &algebra.Bind{Variable: n.Variable, Expression: substituteExpression(n.Expression, row)}
	default:
		return node
	}
}

func substituteTriple(tp algebra.TriplePattern, row map[string]rdf.Term) algebra.TriplePattern {
	out := tp
	out.Subject = substituteTerm(tp.Subject, row)
	if tp.Path == nil {
		out.Predicate = substituteTerm(tp.Predicate, row)
	}
	out.Object = substituteTerm(tp.Object, row)
	return out
}

func substituteTerm(t rdf.Term, row map[string]rdf.Term) rdf.Term {
	if v, ok := t.(*rdf.Variable); ok {
		if bound, ok := row[v.Name]; ok {
			return bound
		}
	}
	return t
}

func substituteExpression(expr *algebra.Expression, row map[string]rdf.Term) *algebra.Expression {
	if expr == nil {
		return nil
	}
	out := *expr
	if expr.Type == algebra.ExprTerm {
		out.Term = substituteTerm(expr.Term, row)
		return &out
	}
	if len(expr.Args) > 0 {
		out.Args = make([]*algebra.Expression, len(expr.Args))
		for i, arg := range expr.Args {
			out.Args[i] = substituteExpression(arg, row)
		}
	}
	if len(expr.Patterns) > 0 {
		out.Patterns = substitutePatterns(expr.Patterns, row)
	}
	return &out
}
