package evaluator

import (
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// builtinAggregates maps aggregation names to reducers over one group's
// term list
var builtinAggregates = map[string]AggregateFunc{
	"count":        aggCount,
	"sum":          aggSum,
	"avg":          aggAvg,
	"min":          aggMin,
	"max":          aggMax,
	"group_concat": aggGroupConcat,
	"sample":       aggSample,
}

// compileAggregate compiles a built-in aggregate. The aggregated operand
// must be a variable (or absent for COUNT(*)); grouped rows are read from
// the mapping's property bag at evaluation time.
func (e *Evaluator) compileAggregate(expr *algebra.Expression) (Compiled, error) {
	name := strings.ToLower(expr.Aggregation)
	agg, ok := builtinAggregates[name]
	if !ok {
		return nil, &UnknownFunctionError{IRI: expr.Aggregation}
	}
	return e.compileAggregateApply(expr, name, agg)
}

// compileAggregateCall compiles a custom aggregate resolved by IRI
func (e *Evaluator) compileAggregateCall(expr *algebra.Expression, iri string, agg AggregateFunc) (Compiled, error) {
	return e.compileAggregateApply(expr, iri, agg)
}

func (e *Evaluator) compileAggregateApply(expr *algebra.Expression, name string, agg AggregateFunc) (Compiled, error) {
	varName := "*"
	if len(expr.Args) == 1 && expr.Args[0] != nil {
		v, ok := expr.Args[0].Term.(*rdf.Variable)
		if !ok || expr.Args[0].Type != algebra.ExprTerm {
			return nil, &UnsupportedExpressionError{Detail: "aggregates apply to a variable; bind complex expressions first"}
		}
		varName = v.Name
	}
	distinct := expr.Distinct
	separator := expr.Separator

	return func(b *graph.Binding) (rdf.Term, error) {
		raw, ok := b.Property(AggregateProperty)
		if !ok {
			return nil, &AggregationOutsideGroupError{Aggregation: name}
		}
		rows, ok := raw.(GroupRows)
		if !ok {
			return nil, &AggregationOutsideGroupError{Aggregation: name}
		}
		terms := rows[varName]
		if distinct {
			terms = dedupeTerms(terms)
		}
		t, err := agg(terms, separator)
		if err != nil {
			return nil, evalErrorf("%s: %v", name, err)
		}
		return t, nil
	}, nil
}

// dedupeTerms drops duplicate terms by canonical N-Triples form,
// preserving first-occurrence order
func dedupeTerms(terms []rdf.Term) []rdf.Term {
	seen := make(map[string]bool, len(terms))
	var out []rdf.Term
	for _, t := range terms {
		key := rdf.CanonicalTerm(t)
		if !seen[key] {
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}

func aggCount(terms []rdf.Term, _ string) (rdf.Term, error) {
	return rdf.NewIntegerLiteral(int64(len(terms))), nil
}

func aggSum(terms []rdf.Term, _ string) (rdf.Term, error) {
	total := 0.0
	integral := true
	for _, t := range terms {
		v, ok := NumericValue(t)
		if !ok {
			return nil, evalErrorf("SUM over non-numeric term %s", t.String())
		}
		total += v
		integral = integral && isIntegerTerm(t)
	}
	if integral {
		return rdf.NewIntegerLiteral(int64(total)), nil
	}
	return rdf.NewDoubleLiteral(total), nil
}

func aggAvg(terms []rdf.Term, _ string) (rdf.Term, error) {
	if len(terms) == 0 {
		return rdf.NewIntegerLiteral(0), nil
	}
	total := 0.0
	for _, t := range terms {
		v, ok := NumericValue(t)
		if !ok {
			return nil, evalErrorf("AVG over non-numeric term %s", t.String())
		}
		total += v
	}
	return rdf.NewDoubleLiteral(total / float64(len(terms))), nil
}

func aggMin(terms []rdf.Term, _ string) (rdf.Term, error) {
	if len(terms) == 0 {
		return nil, evalErrorf("MIN over an empty group")
	}
	best := terms[0]
	for _, t := range terms[1:] {
		if CompareTerms(t, best) < 0 {
			best = t
		}
	}
	return best, nil
}

func aggMax(terms []rdf.Term, _ string) (rdf.Term, error) {
	if len(terms) == 0 {
		return nil, evalErrorf("MAX over an empty group")
	}
	best := terms[0]
	for _, t := range terms[1:] {
		if CompareTerms(t, best) > 0 {
			best = t
		}
	}
	return best, nil
}

func aggGroupConcat(terms []rdf.Term, separator string) (rdf.Term, error) {
	if separator == "" {
		separator = " "
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		s, err := lexicalForm(t)
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return rdf.NewLiteral(strings.Join(parts, separator)), nil
}

func aggSample(terms []rdf.Term, _ string) (rdf.Term, error) {
	if len(terms) == 0 {
		return nil, evalErrorf("SAMPLE over an empty group")
	}
	return terms[0], nil
}
