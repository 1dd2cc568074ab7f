package executor

import (
	"fmt"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
	"github.com/aleksaelezovic/sparq/pkg/sparql/evaluator"
)

// groupStage evaluates a braced group as a join with its siblings
func groupStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	g := node.(*algebra.Group)
	return p.applyPatterns(ctx, source, g.Patterns)
}

// optionalStage is the left outer join: solutions of the body extend the
// input mapping; an input without any body match passes through unchanged
func optionalStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	opt := node.(*algebra.Optional)
	patterns := opt.Patterns

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		body, err := p.applyPatterns(ctx, pipeline.Of(b.Clone()), patterns)
		if err != nil {
			return pipeline.Error[*graph.Binding](err)
		}
		matched := false
		return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
			if body.Next() {
				matched = true
				return body.Value(), true, nil
			}
			if err := body.Err(); err != nil {
				return nil, false, err
			}
			if !matched {
				matched = true
				return b, true, nil
			}
			return nil, false, nil
		}, body.Close)
	}), nil
}

// unionStage evaluates every branch seeded with the input mapping and
// interleaves the results
func unionStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	u := node.(*algebra.Union)

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		iters := make([]BindingIter, 0, len(u.Branches))
		for _, branch := range u.Branches {
			it, err := p.applyPatterns(ctx, pipeline.Of(b.Clone()), branch)
			if err != nil {
				for _, open := range iters {
					_ = open.Close()
				}
				return pipeline.Error[*graph.Binding](err)
			}
			iters = append(iters, it)
		}
		return pipeline.Merge(iters...)
	}), nil
}

// minusStage drops input mappings compatible with some solution of its
// body on at least one shared variable
func minusStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	m := node.(*algebra.Minus)
	var right []*graph.Binding
	loaded := false

	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		if !loaded {
			loaded = true
			it, err := p.applyPatterns(ctx, pipeline.Of(graph.NewBinding()), m.Patterns)
			if err != nil {
				return nil, false, err
			}
			right, err = pipeline.Collect(it)
			if err != nil {
				return nil, false, err
			}
		}
		for source.Next() {
			b := source.Value()
			excluded := false
			for _, r := range right {
				if minusExcludes(b, r) {
					excluded = true
					break
				}
			}
			if !excluded {
				return b, true, nil
			}
		}
		return nil, false, source.Err()
	}, source.Close), nil
}

// minusExcludes reports whether the right mapping is compatible with the
// left and shares at least one variable with it
func minusExcludes(left, right *graph.Binding) bool {
	shared := 0
	conflict := false
	right.ForEach(func(name string, term rdf.Term) {
		if t, ok := left.Get(name); ok {
			shared++
			if !t.Equals(term) {
				conflict = true
			}
		}
	})
	return shared > 0 && !conflict
}

// graphStage scopes its body to a named graph. A constant name narrows
// the context; a variable name resolves per input mapping, iterating the
// dataset's named graphs when unbound.
func graphStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	gp := node.(*algebra.GraphPattern)

	if nn, ok := gp.Name.(*rdf.NamedNode); ok {
		scoped := ctx.Clone()
		scoped.DefaultGraphs = []string{nn.IRI}
		return p.applyPatterns(scoped, source, gp.Patterns)
	}

	v, ok := gp.Name.(*rdf.Variable)
	if !ok {
		return nil, &UnsupportedPatternError{Kind: algebra.KindGraph}
	}
	name := v.Name

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		if t, bound := b.Get(name); bound {
			nn, ok := t.(*rdf.NamedNode)
			if !ok {
				return pipeline.Empty[*graph.Binding]()
			}
			return p.graphBranch(ctx, b, gp.Patterns, nn.IRI, name)
		}

		iris := ctx.NamedGraphs
		if len(iris) == 0 {
			iris = p.dataset.GraphIRIs()
		}
		iters := make([]BindingIter, 0, len(iris))
		for _, iri := range iris {
			iters = append(iters, p.graphBranch(ctx, b, gp.Patterns, iri, name))
		}
		return pipeline.Merge(iters...)
	}), nil
}

// graphBranch evaluates a graph body against one concrete named graph,
// binding the graph variable in the seed. A missing graph is created when
// the context permits it; otherwise it is a fatal error.
func (p *PlanBuilder) graphBranch(ctx *graph.ExecutionContext, b *graph.Binding, patterns []algebra.Pattern, iri, varName string) BindingIter {
	if !p.dataset.HasNamedGraph(iri) {
		if !ctx.AutoCreateGraphs {
			return pipeline.Error[*graph.Binding](fmt.Errorf("%w: %s", graph.ErrGraphNotFound, iri))
		}
		if _, err := p.dataset.CreateGraph(iri); err != nil {
			return pipeline.Error[*graph.Binding](err)
		}
	}

	seed := b.Clone()
	seed.Set(varName, rdf.NewNamedNode(iri))

	scoped := ctx.Clone()
	scoped.DefaultGraphs = []string{iri}
	it, err := p.applyPatterns(scoped, pipeline.Of(seed), patterns)
	if err != nil {
		return pipeline.Error[*graph.Binding](err)
	}
	return it
}

// serviceStage evaluates its body against the named graph registered for
// the endpoint IRI, the engine's local view of federation. SILENT turns a
// missing endpoint or a failing evaluation into a pass-through.
func serviceStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	svc := node.(*algebra.Service)
	nn, ok := svc.Name.(*rdf.NamedNode)
	if !ok {
		return nil, &UnsupportedPatternError{Kind: algebra.KindService}
	}

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		if !p.dataset.HasNamedGraph(nn.IRI) {
			if svc.Silent {
				return pipeline.Of(b)
			}
			return pipeline.Error[*graph.Binding](fmt.Errorf("%w: service endpoint %s", graph.ErrGraphNotFound, nn.IRI))
		}
		scoped := ctx.Clone()
		scoped.DefaultGraphs = []string{nn.IRI}
		it, err := p.applyPatterns(scoped, pipeline.Of(b.Clone()), svc.Patterns)
		if err != nil {
			if svc.Silent {
				return pipeline.Of(b)
			}
			return pipeline.Error[*graph.Binding](err)
		}
		if !svc.Silent {
			return it
		}
		// SILENT: swallow evaluation errors mid-stream
		return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
			if it.Next() {
				return it.Value(), true, nil
			}
			return nil, false, nil
		}, it.Close)
	}), nil
}

// filterStage keeps solutions whose expression evaluates to true; an
// evaluation error excludes the solution and the query continues
func filterStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	f := node.(*algebra.Filter)
	compiled, err := p.eval.Compile(f.Expression)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	return pipeline.Filter(source, func(b *graph.Binding) bool {
		t, err := compiled(b)
		if err != nil || t == nil {
			return false
		}
		ebv, err := evaluator.EffectiveBooleanValue(t)
		return err == nil && ebv
	}), nil
}

// bindStage extends every solution with a computed variable, binding the
// Unbound sentinel on evaluation failure
func bindStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	bind := node.(*algebra.Bind)
	return p.bindExpression(source, bind.Variable, bind.Expression)
}

// valuesStage joins the source with the inline rows; it serves VALUES
// blocks nested below the level the builder rewrites
func valuesStage(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	v := node.(*algebra.Values)
	rows := make([]*graph.Binding, len(v.Rows))
	for i, row := range v.Rows {
		rows[i] = graph.BindingFromMap(row)
	}
	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		var out []*graph.Binding
		for _, row := range rows {
			if merged := b.Merge(row); merged != nil {
				out = append(out, merged)
			}
		}
		return pipeline.From(out)
	}), nil
}
