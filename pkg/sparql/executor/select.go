package executor

import (
	"fmt"
	"sort"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
	"github.com/aleksaelezovic/sparq/pkg/sparql/evaluator"
)

// buildSelect assembles the SELECT pipeline: WHERE, aggregation when
// grouping is in play, expression binds, ORDER BY, projection, DISTINCT,
// OFFSET and LIMIT, in that order.
func (p *PlanBuilder) buildSelect(q *algebra.Query, ctx *graph.ExecutionContext) (Result, error) {
	iter, err := p.buildWhere(ctx, q.Where)
	if err != nil {
		return nil, err
	}

	var plainVars []string
	var exprItems []algebra.SelectItem
	for _, item := range q.Variables {
		if item.Expression == nil {
			plainVars = append(plainVars, item.Variable.Name)
		} else {
			exprItems = append(exprItems, item)
		}
	}

	grouping := len(q.GroupBy) > 0 || len(q.Having) > 0
	for _, item := range exprItems {
		grouping = grouping || containsAggregate(item.Expression)
	}

	if grouping {
		iter, err = p.aggregateStage(ctx, iter, q)
		if err != nil {
			return nil, err
		}
	}

	for _, item := range exprItems {
		iter, err = p.bindExpression(iter, item.Variable, item.Expression)
		if err != nil {
			return nil, err
		}
	}

	if len(q.OrderBy) > 0 {
		iter, err = p.orderByStage(iter, q.OrderBy)
		if err != nil {
			return nil, err
		}
	}

	star := len(q.Variables) == 0
	visible := plainVars
	for _, item := range exprItems {
		visible = append(visible, item.Variable.Name)
	}
	if star {
		visible = collectPatternVariables(q.Where)
	} else {
		iter = projectStage(iter, visible)
	}

	if q.Distinct {
		iter = distinctStage(iter)
	}
	// REDUCED permits but does not require duplicate elimination; the
	// engine keeps all solutions

	if q.Offset > 0 {
		iter = pipeline.Skip(iter, q.Offset)
	}
	if q.Limit >= 0 {
		iter = pipeline.Limit(iter, q.Limit)
	}

	return &Solutions{Variables: visible, Iter: iter}, nil
}

// buildAsk evaluates the body until the first solution
func (p *PlanBuilder) buildAsk(q *algebra.Query, ctx *graph.ExecutionContext) (Result, error) {
	iter, err := p.buildWhere(ctx, q.Where)
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	if iter.Next() {
		return &Boolean{Value: true}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return &Boolean{Value: false}, nil
}

// buildConstruct instantiates the template once per solution, dropping
// any triple with an unbound term and deduplicating the emitted triples
func (p *PlanBuilder) buildConstruct(q *algebra.Query, ctx *graph.ExecutionContext) (Result, error) {
	iter, err := p.buildWhere(ctx, q.Where)
	if err != nil {
		return nil, err
	}

	template := q.Template
	seen := make(map[string]bool)
	var queue []*rdf.Triple

	out := pipeline.FromFuncWithClose(func() (*rdf.Triple, bool, error) {
		for {
			if len(queue) > 0 {
				t := queue[0]
				queue = queue[1:]
				return t, true, nil
			}
			if !iter.Next() {
				return nil, false, iter.Err()
			}
			b := iter.Value()
			for _, tp := range template {
				t, ok := instantiateTriple(tp, b)
				if !ok {
					continue
				}
				key := rdf.CanonicalTerm(t.Subject) + " " + rdf.CanonicalTerm(t.Predicate) + " " + rdf.CanonicalTerm(t.Object)
				if !seen[key] {
					seen[key] = true
					queue = append(queue, t)
				}
			}
		}
	}, iter.Close)

	return &Triples{Iter: out}, nil
}

// instantiateTriple resolves a template pattern against a solution. The
// triple is dropped when any position stays a variable or resolves to the
// Unbound sentinel.
func instantiateTriple(tp algebra.TriplePattern, b *graph.Binding) (*rdf.Triple, bool) {
	resolve := func(t rdf.Term) (rdf.Term, bool) {
		if v, ok := t.(*rdf.Variable); ok {
			bound, ok := b.Get(v.Name)
			if !ok || bound.Type() == rdf.TermTypeUnbound {
				return nil, false
			}
			return bound, true
		}
		return t, t != nil
	}

	s, ok := resolve(tp.Subject)
	if !ok {
		return nil, false
	}
	pr, ok := resolve(tp.Predicate)
	if !ok {
		return nil, false
	}
	o, ok := resolve(tp.Object)
	if !ok {
		return nil, false
	}
	return rdf.NewTriple(s, pr, o), true
}

// rewriteDescribe lowers DESCRIBE into the equivalent CONSTRUCT: each
// described resource contributes a { res ?p ?o } pattern and template
func rewriteDescribe(q *algebra.Query) *algebra.Query {
	out := *q
	out.Type = algebra.QueryConstruct
	out.Describe = nil

	where := append([]algebra.Pattern(nil), q.Where...)
	var template []algebra.TriplePattern
	for i, res := range q.Describe {
		tp := algebra.TriplePattern{
			Subject:   res,
			Predicate: rdf.NewVariable(fmt.Sprintf("__describe_p_%d", i)),
			Object:    rdf.NewVariable(fmt.Sprintf("__describe_o_%d", i)),
		}
		template = append(template, tp)
		where = append(where, &algebra.BGP{Triples: []algebra.TriplePattern{tp}})
	}
	out.Where = where
	out.Template = template
	return &out
}

// bindExpression extends every solution with a computed variable. An
// evaluation failure binds the Unbound sentinel; the solution is still
// emitted and the query continues.
func (p *PlanBuilder) bindExpression(source BindingIter, variable *rdf.Variable, expr *algebra.Expression) (BindingIter, error) {
	compiled, err := p.eval.Compile(expr)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	name := variable.Name
	return pipeline.Map(source, func(b *graph.Binding) (*graph.Binding, error) {
		out := b.Clone()
		t, evalErr := compiled(b)
		if evalErr != nil || t == nil {
			out.Set(name, rdf.UnboundValue)
		} else {
			out.Set(name, t)
		}
		return out, nil
	}), nil
}

// orderByStage buffers the source and sorts it stably per the SPARQL
// comparison rules: unbound sorts before bound, then term order
func (p *PlanBuilder) orderByStage(source BindingIter, conditions []algebra.OrderCondition) (BindingIter, error) {
	type comparator struct {
		compiled   evaluator.Compiled
		descending bool
	}
	comparators := make([]comparator, len(conditions))
	for i, cond := range conditions {
		compiled, err := p.eval.Compile(cond.Expression)
		if err != nil {
			_ = source.Close()
			return nil, err
		}
		comparators[i] = comparator{compiled: compiled, descending: cond.Descending}
	}

	var buffered []*graph.Binding
	loaded := false
	pos := 0

	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		if !loaded {
			loaded = true
			var err error
			buffered, err = pipeline.Collect(source)
			if err != nil {
				return nil, false, err
			}
			sort.SliceStable(buffered, func(i, j int) bool {
				for _, c := range comparators {
					ti, errI := c.compiled(buffered[i])
					tj, errJ := c.compiled(buffered[j])
					cmp := compareForOrder(ti, errI, tj, errJ)
					if cmp == 0 {
						continue
					}
					if c.descending {
						cmp = -cmp
					}
					return cmp < 0
				}
				return false
			})
		}
		if pos >= len(buffered) {
			return nil, false, nil
		}
		b := buffered[pos]
		pos++
		return b, true, nil
	}, source.Close), nil
}

// compareForOrder treats evaluation failures and absent values as lowest
func compareForOrder(a rdf.Term, errA error, b rdf.Term, errB error) int {
	aMissing := errA != nil || a == nil
	bMissing := errB != nil || b == nil
	switch {
	case aMissing && bMissing:
		return 0
	case aMissing:
		return -1
	case bMissing:
		return 1
	default:
		return evaluator.CompareTerms(a, b)
	}
}

// projectStage keeps only the requested variables
func projectStage(source BindingIter, visible []string) BindingIter {
	return pipeline.Map(source, func(b *graph.Binding) (*graph.Binding, error) {
		out := graph.NewBinding()
		for _, name := range visible {
			if t, ok := b.Get(name); ok {
				out.Set(name, t)
			}
		}
		return out, nil
	})
}

// distinctStage deduplicates solutions by canonical form, preserving
// first-occurrence order
func distinctStage(source BindingIter) BindingIter {
	seen := make(map[string]bool)
	return pipeline.Filter(source, func(b *graph.Binding) bool {
		key := b.Key()
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	})
}

// containsAggregate walks an expression tree for aggregate applications
func containsAggregate(expr *algebra.Expression) bool {
	if expr == nil {
		return false
	}
	if expr.Type == algebra.ExprAggregate {
		return true
	}
	for _, arg := range expr.Args {
		if containsAggregate(arg) {
			return true
		}
	}
	return false
}

// collectPatternVariables gathers in-scope variable names in first
// appearance order, for SELECT * projection
func collectPatternVariables(patterns []algebra.Pattern) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(t rdf.Term) {
		if v, ok := t.(*rdf.Variable); ok && !seen[v.Name] {
			seen[v.Name] = true
			names = append(names, v.Name)
		}
	}

	var walk func(nodes []algebra.Pattern)
	walk = func(nodes []algebra.Pattern) {
		for _, node := range nodes {
			switch n := node.(type) {
			case *algebra.BGP:
				for _, tp := range n.Triples {
					add(tp.Subject)
					if tp.Path == nil {
						add(tp.Predicate)
					}
					add(tp.Object)
				}
			case *algebra.Group:
				walk(n.Patterns)
			case *algebra.Optional:
				walk(n.Patterns)
			case *algebra.Minus:
				walk(n.Patterns)
			case *algebra.Union:
				for _, branch := range n.Branches {
					walk(branch)
				}
			case *algebra.GraphPattern:
				add(n.Name)
				walk(n.Patterns)
			case *algebra.Service:
				walk(n.Patterns)
			case *algebra.Bind:
				if n.Variable != nil && !seen[n.Variable.Name] {
					seen[n.Variable.Name] = true
					names = append(names, n.Variable.Name)
				}
			case *algebra.Values:
				for _, v := range n.Variables {
					if !seen[v.Name] {
						seen[v.Name] = true
						names = append(names, v.Name)
					}
				}
			}
		}
	}
	walk(patterns)
	return names
}
