// Package executor turns parsed SPARQL queries into pipelines of streaming
// stages over solution mappings. The PlanBuilder walks the algebra tree
// top-down and dispatches each pattern kind to a registered stage; leaves
// are BGP stages evaluated against the dataset, optionally through the
// semantic cache.
package executor

import (
	"fmt"
	"sort"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
	"github.com/aleksaelezovic/sparq/pkg/sparql/cache"
	"github.com/aleksaelezovic/sparq/pkg/sparql/evaluator"
)

// BindingIter is the element stream stages produce and consume
type BindingIter = pipeline.Iterator[*graph.Binding]

// Stage builds one pipeline step for a pattern kind. Implementations
// receive the builder for recursive plan construction.
type Stage interface {
	Execute(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error)
}

// StageFunc adapts a function to the Stage interface
type StageFunc func(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error)

func (f StageFunc) Execute(p *PlanBuilder, ctx *graph.ExecutionContext, source BindingIter, node algebra.Pattern) (BindingIter, error) {
	return f(p, ctx, source, node)
}

// Optimizer rewrites a query before plan construction
type Optimizer interface {
	Optimize(q *algebra.Query) *algebra.Query
}

// Parser translates SPARQL text into algebra trees; it is injected, the
// engine carries no parser of its own
type Parser interface {
	ParseQuery(text string) (*algebra.Query, error)
	ParseUpdate(text string) (*algebra.Update, error)
}

// LoadFunc fetches and parses a remote RDF document for the LOAD update
type LoadFunc func(source string) ([]*rdf.Triple, error)

// Result is the outcome of building a query: Solutions for SELECT,
// Triples for CONSTRUCT/DESCRIBE, Boolean for ASK
type Result interface {
	resultKind()
}

// Solutions is a lazy sequence of solution mappings
type Solutions struct {
	Variables []string
	Iter      BindingIter
}

func (*Solutions) resultKind() {}

// Triples is a lazy sequence of constructed triples
type Triples struct {
	Iter pipeline.Iterator[*rdf.Triple]
}

func (*Triples) resultKind() {}

// Boolean is an ASK verdict
type Boolean struct {
	Value bool
}

func (*Boolean) resultKind() {}

var knownKinds = map[algebra.PatternKind]bool{
	algebra.KindBGP:      true,
	algebra.KindGroup:    true,
	algebra.KindOptional: true,
	algebra.KindUnion:    true,
	algebra.KindMinus:    true,
	algebra.KindGraph:    true,
	algebra.KindService:  true,
	algebra.KindFilter:   true,
	algebra.KindBind:     true,
	algebra.KindValues:   true,
}

// PlanBuilder is the long-lived entry point of the engine, bound to a
// dataset at construction. A fresh execution context is derived per Build.
type PlanBuilder struct {
	dataset          *graph.Dataset
	eval             *evaluator.Evaluator
	stages           map[algebra.PatternKind]Stage
	cache            graph.BGPCache
	optimizer        Optimizer
	parser           Parser
	loader           LoadFunc
	autoCreateGraphs bool
}

// NewPlanBuilder creates a builder with the default stage registry and
// caching disabled
func NewPlanBuilder(dataset *graph.Dataset) *PlanBuilder {
	p := &PlanBuilder{
		dataset: dataset,
		eval:    evaluator.New(),
		stages:  make(map[algebra.PatternKind]Stage),
	}

	p.stages[algebra.KindBGP] = &BGPStage{}
	p.stages[algebra.KindGroup] = StageFunc(groupStage)
	p.stages[algebra.KindOptional] = StageFunc(optionalStage)
	p.stages[algebra.KindUnion] = StageFunc(unionStage)
	p.stages[algebra.KindMinus] = StageFunc(minusStage)
	p.stages[algebra.KindGraph] = StageFunc(graphStage)
	p.stages[algebra.KindService] = StageFunc(serviceStage)
	p.stages[algebra.KindFilter] = StageFunc(filterStage)
	p.stages[algebra.KindBind] = StageFunc(bindStage)
	p.stages[algebra.KindValues] = StageFunc(valuesStage)

	// EXISTS evaluates its group seeded with the current mapping, against
	// the builder's dataset without cache involvement
	p.eval.SetExistsFunc(func(patterns []algebra.Pattern, b *graph.Binding) (bool, error) {
		ctx := graph.NewExecutionContext()
		iter, err := p.applyPatterns(ctx, pipeline.Of(b.Clone()), patterns)
		if err != nil {
			return false, err
		}
		defer func() { _ = iter.Close() }()
		if iter.Next() {
			return true, nil
		}
		return false, iter.Err()
	})

	return p
}

// Dataset returns the dataset the builder is bound to
func (p *PlanBuilder) Dataset() *graph.Dataset {
	return p.dataset
}

// Evaluator exposes the expression evaluator for custom function and
// aggregate registration
func (p *PlanBuilder) Evaluator() *evaluator.Evaluator {
	return p.eval
}

// SetOptimizer installs a query rewriter applied before planning
func (p *PlanBuilder) SetOptimizer(opt Optimizer) {
	p.optimizer = opt
}

// SetParser injects the SPARQL text parser used by BuildQuery
func (p *PlanBuilder) SetParser(parser Parser) {
	p.parser = parser
}

// SetLoader injects the HTTP+parse function backing the LOAD update
func (p *PlanBuilder) SetLoader(loader LoadFunc) {
	p.loader = loader
}

// SetAutoCreateGraphs permits resolving a variable graph to a freshly
// created named graph during evaluation
func (p *PlanBuilder) SetAutoCreateGraphs(enabled bool) {
	p.autoCreateGraphs = enabled
}

// RegisterStage registers or replaces the stage for a pattern kind
func (p *PlanBuilder) RegisterStage(kind algebra.PatternKind, s Stage) {
	p.stages[kind] = s
}

// UseCache enables BGP caching with the default semantic cache
func (p *PlanBuilder) UseCache() {
	p.cache = cache.New()
}

// UseCustomCache enables BGP caching with a caller-supplied cache
func (p *PlanBuilder) UseCustomCache(c graph.BGPCache) {
	p.cache = c
}

// DisableCache turns BGP caching off
func (p *PlanBuilder) DisableCache() {
	p.cache = nil
}

// Cache returns the cache in effect, nil when disabled
func (p *PlanBuilder) Cache() graph.BGPCache {
	return p.cache
}

// BuildQuery parses query text with the injected parser and builds it
func (p *PlanBuilder) BuildQuery(text string) (Result, error) {
	if p.parser == nil {
		return nil, fmt.Errorf("%w: no parser injected", ErrParse)
	}
	q, err := p.parser.ParseQuery(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return p.Build(q)
}

// Build compiles a query into a lazily evaluated result. An optional
// caller context seeds the derived execution context.
func (p *PlanBuilder) Build(q *algebra.Query, ctxs ...*graph.ExecutionContext) (Result, error) {
	if p.optimizer != nil {
		q = p.optimizer.Optimize(q)
	}

	var ctx *graph.ExecutionContext
	if len(ctxs) > 0 && ctxs[0] != nil {
		ctx = ctxs[0].Clone()
	} else {
		ctx = graph.NewExecutionContext()
	}
	ctx.Cache = p.cache
	ctx.AutoCreateGraphs = ctx.AutoCreateGraphs || p.autoCreateGraphs
	ctx.HasLimitOffset = q.HasLimitOffset()
	if ctx.Prefixes == nil {
		ctx.Prefixes = make(map[string]string)
	}
	for prefix, iri := range q.Prefixes {
		ctx.Prefixes[prefix] = iri
	}
	if len(q.From.Default) > 0 {
		ctx.DefaultGraphs = q.From.Default
	}
	if len(q.From.Named) > 0 {
		ctx.NamedGraphs = q.From.Named
	}

	switch q.Type {
	case algebra.QuerySelect:
		return p.buildSelect(q, ctx)
	case algebra.QueryAsk:
		return p.buildAsk(q, ctx)
	case algebra.QueryConstruct:
		return p.buildConstruct(q, ctx)
	case algebra.QueryDescribe:
		return p.buildConstruct(rewriteDescribe(q), ctx)
	default:
		return nil, &UnsupportedQueryTypeError{Type: q.Type}
	}
}

// buildWhere constructs the pipeline for a query body, handling VALUES
// rewriting: each row of the VALUES product is substituted into the
// remaining groups, the rewritten bodies are evaluated independently and
// their results extended with the row's bindings.
func (p *PlanBuilder) buildWhere(ctx *graph.ExecutionContext, patterns []algebra.Pattern) (BindingIter, error) {
	var values []*algebra.Values
	var rest []algebra.Pattern
	for _, node := range patterns {
		if v, ok := node.(*algebra.Values); ok {
			values = append(values, v)
			continue
		}
		rest = append(rest, node)
	}

	if len(values) == 0 {
		return p.applyPatterns(ctx, pipeline.Of(graph.NewBinding()), patterns)
	}

	rows := valuesProduct(values)
	branches := make([]BindingIter, 0, len(rows))
	for _, row := range rows {
		substituted := substitutePatterns(rest, row)
		body, err := p.applyPatterns(ctx, pipeline.Of(graph.NewBinding()), substituted)
		if err != nil {
			for _, b := range branches {
				_ = b.Close()
			}
			return nil, err
		}
		rowBinding := graph.BindingFromMap(row)
		extended := pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
			for body.Next() {
				// The VALUES binding is authoritative: solutions that
				// would conflict with the row are rejected
				if merged := body.Value().Merge(rowBinding); merged != nil {
					return merged, true, nil
				}
			}
			return nil, false, body.Err()
		}, body.Close)
		branches = append(branches, extended)
	}
	return pipeline.Merge(branches...), nil
}

// applyPatterns orders the group's children, merges consecutive BGPs and
// folds the registered stages over the source
func (p *PlanBuilder) applyPatterns(ctx *graph.ExecutionContext, source BindingIter, patterns []algebra.Pattern) (BindingIter, error) {
	ordered := orderPatterns(patterns)
	ordered = mergeAdjacentBGPs(ordered)

	iter := source
	for _, node := range ordered {
		stage, err := p.stageFor(node)
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		iter, err = stage.Execute(p, ctx, iter, node)
		if err != nil {
			return nil, err
		}
	}
	return iter, nil
}

func (p *PlanBuilder) stageFor(node algebra.Pattern) (Stage, error) {
	kind := node.Kind()
	if !knownKinds[kind] {
		return nil, &UnsupportedPatternError{Kind: kind}
	}
	s, ok := p.stages[kind]
	if !ok {
		return nil, &MissingStageError{Kind: kind}
	}
	return s, nil
}

// patternRank orders a group's children: constant-selective producers
// early, FILTER late, variable graphs last
func patternRank(node algebra.Pattern) int {
	switch n := node.(type) {
	case *algebra.BGP:
		return 0
	case *algebra.GraphPattern:
		if rdf.IsVariable(n.Name) {
			return 5
		}
		return 0
	case *algebra.Values:
		return 3
	case *algebra.Filter:
		return 4
	default:
		return 1
	}
}

func orderPatterns(patterns []algebra.Pattern) []algebra.Pattern {
	ordered := append([]algebra.Pattern(nil), patterns...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return patternRank(ordered[i]) < patternRank(ordered[j])
	})
	return ordered
}

func mergeAdjacentBGPs(patterns []algebra.Pattern) []algebra.Pattern {
	var out []algebra.Pattern
	for _, node := range patterns {
		bgp, ok := node.(*algebra.BGP)
		if !ok {
			out = append(out, node)
			continue
		}
		if len(out) > 0 {
			if prev, ok := out[len(out)-1].(*algebra.BGP); ok {
				merged := &algebra.BGP{Triples: append(append([]algebra.TriplePattern(nil), prev.Triples...), bgp.Triples...)}
				out[len(out)-1] = merged
				continue
			}
		}
		out = append(out, bgp)
	}
	return out
}

// valuesProduct builds the Cartesian product of several VALUES clauses as
// merged rows
func valuesProduct(values []*algebra.Values) []map[string]rdf.Term {
	rows := []map[string]rdf.Term{{}}
	for _, v := range values {
		var next []map[string]rdf.Term
		for _, base := range rows {
			for _, row := range v.Rows {
				merged := make(map[string]rdf.Term, len(base)+len(row))
				for k, t := range base {
					merged[k] = t
				}
				for k, t := range row {
					merged[k] = t
				}
				next = append(next, merged)
			}
		}
		rows = next
	}
	return rows
}
