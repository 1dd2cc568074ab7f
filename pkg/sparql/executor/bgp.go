package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

const (
	// SearchNamespace is the reserved IRI namespace of full-text-search
	// magic predicates
	SearchNamespace = "https://sparq.dev/search#"

	// HintNamespace is the reserved IRI namespace of query-hint magic
	// predicates
	HintNamespace = "https://sparq.dev/hints#"

	// boundJoinBatchSize is the number of input mappings bundled into one
	// bulk union request
	boundJoinBatchSize = 15

	// boundJoinSuffix separates a variable name from its batch row index
	boundJoinSuffix = "_bj_"

	syntheticBlankPrefix = "__bnode_"
)

// BGPStage evaluates basic graph patterns. Preprocessing extracts query
// hints and full-text queries, replaces blank nodes with fresh variables
// and splits off property-path triples; evaluation delegates to bound
// join when the graph is capable, and to the semantic cache when enabled.
type BGPStage struct{}

func (s *BGPStage) Execute(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	bgp := node.(*algebra.BGP)
	triples := append([]algebra.TriplePattern(nil), bgp.Triples...)

	triples = extractHints(ctx, triples)
	triples, ftsQueries, err := extractFullTextQueries(triples)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	triples, synthetic := replaceBlankNodes(triples)

	var classic, paths []algebra.TriplePattern
	for _, tp := range triples {
		if tp.Path != nil {
			paths = append(paths, tp)
		} else {
			classic = append(classic, tp)
		}
	}

	g, graphIRI, err := s.resolveGraph(p, ctx)
	if err != nil {
		_ = source.Close()
		return nil, err
	}

	classic = orderByCardinality(g, classic)

	iter := source
	if len(classic) > 0 {
		iter = s.joinBGP(ctx, iter, g, graphIRI, classic)
	}
	for _, tp := range paths {
		iter = pathJoin(ctx, iter, g, tp)
	}
	for _, q := range ftsQueries {
		iter = fullTextJoin(ctx, iter, g, q)
	}

	if len(synthetic) > 0 {
		iter = pipeline.Map(iter, func(b *graph.Binding) (*graph.Binding, error) {
			out := b.Clone()
			for _, name := range synthetic {
				out.Delete(name)
			}
			return out, nil
		})
	}
	return iter, nil
}

// resolveGraph picks the evaluation target: the dataset default graph
// without FROM, the single FROM graph, or a union over several FROM
// graphs. A missing required graph is fatal.
func (s *BGPStage) resolveGraph(p *PlanBuilder, ctx *graph.ExecutionContext) (graph.Graph, string, error) {
	switch len(ctx.DefaultGraphs) {
	case 0:
		return p.dataset.DefaultGraph(), "", nil
	case 1:
		iri := ctx.DefaultGraphs[0]
		g, ok := p.dataset.NamedGraph(iri)
		if !ok {
			if !ctx.AutoCreateGraphs {
				return nil, "", fmt.Errorf("%w: %s", graph.ErrGraphNotFound, iri)
			}
			created, err := p.dataset.CreateGraph(iri)
			if err != nil {
				return nil, "", err
			}
			g = created
		}
		return g, iri, nil
	default:
		union, err := p.dataset.UnionOf(ctx.DefaultGraphs)
		if err != nil {
			return nil, "", err
		}
		sorted := append([]string(nil), ctx.DefaultGraphs...)
		sort.Strings(sorted)
		return union, strings.Join(sorted, "\x00"), nil
	}
}

// joinBGP joins the source mappings with the BGP's solutions
func (s *BGPStage) joinBGP(ctx *graph.ExecutionContext, source BindingIter, g graph.Graph, graphIRI string, patterns []algebra.TriplePattern) BindingIter {
	useCache := ctx.Cache != nil && !ctx.HasLimitOffset
	if g.Capabilities().Has(graph.CapUnion) && !ctx.ForceIndexJoin && !useCache {
		return s.boundJoin(ctx, source, g, patterns)
	}

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		bound := make([]algebra.TriplePattern, len(patterns))
		for i, tp := range patterns {
			bound[i] = b.Bound(tp)
		}
		if useCache {
			return s.evalWithCache(ctx, g, graphIRI, b, bound)
		}
		return mergeWithInput(b, graph.EvalBGP(g, ctx, bound))
	})
}

// mergeWithInput extends the input mapping with every BGP solution,
// dropping incompatible ones
func mergeWithInput(b *graph.Binding, results pipeline.Iterator[*graph.Binding]) BindingIter {
	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		for results.Next() {
			if merged := b.Merge(results.Value()); merged != nil {
				return merged, true, nil
			}
		}
		return nil, false, results.Err()
	}, results.Close)
}

// evalWithCache evaluates one bound BGP through the semantic cache: a
// cached subset is joined with evaluation of the missing patterns only;
// otherwise the full evaluation is staged into the cache and committed on
// exhaustion. A consumer cancelling mid-stream discards the staging.
func (s *BGPStage) evalWithCache(ctx *graph.ExecutionContext, g graph.Graph, graphIRI string, b *graph.Binding, bound []algebra.TriplePattern) BindingIter {
	bgp := graph.BGP{Patterns: bound, GraphIRI: graphIRI}

	subset, missing := ctx.Cache.FindSubset(bgp)
	if len(subset) > 0 {
		if ch, ok := ctx.Cache.Get(graph.BGP{Patterns: subset, GraphIRI: graphIRI}); ok {
			if cached, received := <-ch; received {
				return s.joinCached(ctx, g, b, cached, missing)
			}
		}
		// The entry vanished between FindSubset and Get: evaluate fully
	}

	writer := uuid.NewString()
	results := graph.EvalBGP(g, ctx, bound)
	committed := false

	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		for results.Next() {
			v := results.Value()
			ctx.Cache.Update(bgp, v, writer)
			if merged := b.Merge(v); merged != nil {
				return merged, true, nil
			}
		}
		if err := results.Err(); err != nil {
			return nil, false, err
		}
		if !committed {
			committed = true
			ctx.Cache.Commit(bgp, writer)
		}
		return nil, false, nil
	}, func() error {
		if !committed {
			ctx.Cache.Discard(bgp, writer)
		}
		return results.Close()
	})
}

// joinCached joins the input with cached mappings, then evaluates the
// patterns the cached subset does not cover with an ordinary index join
func (s *BGPStage) joinCached(ctx *graph.ExecutionContext, g graph.Graph, b *graph.Binding, cached []*graph.Binding, missing []algebra.TriplePattern) BindingIter {
	return pipeline.FlatMap(pipeline.From(cached), func(v *graph.Binding) BindingIter {
		merged := b.Merge(v)
		if merged == nil {
			return pipeline.Empty[*graph.Binding]()
		}
		if len(missing) == 0 {
			return pipeline.Of(merged)
		}
		rest := make([]algebra.TriplePattern, len(missing))
		for i, tp := range missing {
			rest[i] = merged.Bound(tp)
		}
		return mergeWithInput(merged, graph.EvalBGP(g, ctx, rest))
	})
}

// boundJoin partitions the input into batches and dispatches one bulk
// union request per batch, demultiplexing results back to their rows by
// variable renaming. Rows whose bound BGP has no free variable cannot be
// demultiplexed and are evaluated individually.
func (s *BGPStage) boundJoin(ctx *graph.ExecutionContext, source BindingIter, g graph.Graph, patterns []algebra.TriplePattern) BindingIter {
	var cur BindingIter

	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		for {
			if cur != nil {
				if cur.Next() {
					return cur.Value(), true, nil
				}
				if err := cur.Err(); err != nil {
					return nil, false, err
				}
				_ = cur.Close()
				cur = nil
			}

			batch := make([]*graph.Binding, 0, boundJoinBatchSize)
			for len(batch) < boundJoinBatchSize && source.Next() {
				batch = append(batch, source.Value())
			}
			if len(batch) == 0 {
				return nil, false, source.Err()
			}

			var bgps [][]algebra.TriplePattern
			rows := make([]*graph.Binding, 0, len(batch))
			var extra []BindingIter
			for _, b := range batch {
				bound := make([]algebra.TriplePattern, len(patterns))
				free := false
				for i, tp := range patterns {
					bound[i] = b.Bound(tp)
					free = free || len(bound[i].Variables()) > 0
				}
				if !free {
					extra = append(extra, askRow(ctx, g, b, bound))
					continue
				}
				row := len(rows)
				rows = append(rows, b)
				bgps = append(bgps, renamePatterns(bound, row))
			}

			var iters []BindingIter
			if len(bgps) > 0 {
				iters = append(iters, demux(graph.EvalUnion(g, ctx, bgps), rows))
			}
			iters = append(iters, extra...)
			cur = pipeline.Merge(iters...)
		}
	}, func() error {
		if cur != nil {
			_ = cur.Close()
		}
		return source.Close()
	})
}

// askRow handles a fully bound row: the input passes through once per
// solution of its ground BGP
func askRow(ctx *graph.ExecutionContext, g graph.Graph, b *graph.Binding, bound []algebra.TriplePattern) BindingIter {
	results := graph.EvalBGP(g, ctx, bound)
	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		if results.Next() {
			return b.Clone(), true, nil
		}
		return nil, false, results.Err()
	}, results.Close)
}

// renamePatterns rewrites every variable of the patterns with the batch
// row suffix
func renamePatterns(patterns []algebra.TriplePattern, row int) []algebra.TriplePattern {
	suffix := boundJoinSuffix + strconv.Itoa(row)
	rename := func(t rdf.Term) rdf.Term {
		if v, ok := t.(*rdf.Variable); ok {
			return rdf.NewVariable(v.Name + suffix)
		}
		return t
	}
	out := make([]algebra.TriplePattern, len(patterns))
	for i, tp := range patterns {
		renamed := tp
		renamed.Subject = rename(tp.Subject)
		if tp.Path == nil {
			renamed.Predicate = rename(tp.Predicate)
		}
		renamed.Object = rename(tp.Object)
		out[i] = renamed
	}
	return out
}

// demux routes bulk results back to their batch rows by stripping the
// renaming suffix and merging with the row's input mapping
func demux(results pipeline.Iterator[*graph.Binding], rows []*graph.Binding) BindingIter {
	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		for results.Next() {
			v := results.Value()
			row := -1
			stripped := graph.NewBinding()
			valid := true
			v.ForEach(func(name string, term rdf.Term) {
				idx := strings.LastIndex(name, boundJoinSuffix)
				if idx < 0 {
					valid = false
					return
				}
				r, err := strconv.Atoi(name[idx+len(boundJoinSuffix):])
				if err != nil || (row >= 0 && r != row) {
					valid = false
					return
				}
				row = r
				stripped.Set(name[:idx], term)
			})
			if !valid || row < 0 || row >= len(rows) {
				continue
			}
			if merged := rows[row].Merge(stripped); merged != nil {
				return merged, true, nil
			}
		}
		return nil, false, results.Err()
	}, results.Close)
}

// orderByCardinality reorders patterns by ascending estimated
// cardinality. Estimation errors are non-fatal: the default order stands.
func orderByCardinality(g graph.Graph, patterns []algebra.TriplePattern) []algebra.TriplePattern {
	if len(patterns) < 2 {
		return patterns
	}
	cards := make([]int, len(patterns))
	for i, tp := range patterns {
		card, err := g.EstimateCardinality(tp)
		if err != nil {
			return patterns
		}
		cards[i] = card
	}
	idx := make([]int, len(patterns))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return cards[idx[a]] < cards[idx[b]] })
	out := make([]algebra.TriplePattern, len(patterns))
	for i, j := range idx {
		out[i] = patterns[j]
	}
	return out
}

// extractHints merges magic hint triples into the context and removes
// them from the pattern
func extractHints(ctx *graph.ExecutionContext, triples []algebra.TriplePattern) []algebra.TriplePattern {
	var out []algebra.TriplePattern
	for _, tp := range triples {
		if nn, ok := tp.Predicate.(*rdf.NamedNode); ok && strings.HasPrefix(nn.IRI, HintNamespace) {
			ctx.SetHint(strings.TrimPrefix(nn.IRI, HintNamespace), tp.Object)
			continue
		}
		out = append(out, tp)
	}
	return out
}

// replaceBlankNodes substitutes blank nodes with fresh variables so BGP
// evaluation treats them as wildcards; the synthetic names are projected
// out of final bindings
func replaceBlankNodes(triples []algebra.TriplePattern) ([]algebra.TriplePattern, []string) {
	fresh := make(map[string]*rdf.Variable)
	replace := func(t rdf.Term) rdf.Term {
		bn, ok := t.(*rdf.BlankNode)
		if !ok {
			return t
		}
		v, ok := fresh[bn.ID]
		if !ok {
			v = rdf.NewVariable(syntheticBlankPrefix + bn.ID)
			fresh[bn.ID] = v
		}
		return v
	}

	out := make([]algebra.TriplePattern, len(triples))
	for i, tp := range triples {
		replaced := tp
		replaced.Subject = replace(tp.Subject)
		if tp.Path == nil {
			replaced.Predicate = replace(tp.Predicate)
		}
		replaced.Object = replace(tp.Object)
		out[i] = replaced
	}

	synthetic := make([]string, 0, len(fresh))
	for _, v := range fresh {
		synthetic = append(synthetic, v.Name)
	}
	sort.Strings(synthetic)
	return out, synthetic
}
