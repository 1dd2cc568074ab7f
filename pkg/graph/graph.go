// Package graph defines the contract between the query engine and dataset
// backends, together with the solution mapping type and the default BGP
// evaluation strategy shared by all backends.
package graph

import (
	"errors"
	"sort"
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

var (
	// ErrGraphNotFound is returned when a query references a named graph
	// the dataset does not contain
	ErrGraphNotFound = errors.New("graph not found")

	// ErrReadOnlyGraph is returned by mutation methods of composite graphs
	ErrReadOnlyGraph = errors.New("graph is read-only")
)

// Capability is a bit in a backend's capability set
type Capability uint32

const (
	// CapUnion declares support for bulk union evaluation (EvalUnion),
	// enabling the bound-join strategy
	CapUnion Capability = 1 << iota
	// CapFullText declares support for full-text search
	CapFullText
)

// Has reports whether the set contains the given capability
func (c Capability) Has(cap Capability) bool {
	return c&cap != 0
}

// Graph is an abstract RDF graph a backend must provide
type Graph interface {
	// Find returns the triples matching a pattern; variables act as
	// wildcards
	Find(ctx *ExecutionContext, pattern algebra.TriplePattern) pipeline.Iterator[*rdf.Triple]

	// Insert adds a triple
	Insert(t *rdf.Triple) error

	// Delete removes a triple
	Delete(t *rdf.Triple) error

	// Clear removes all triples
	Clear() error

	// EstimateCardinality approximates the number of triples matching a
	// pattern. Estimation errors are non-fatal to query planning.
	EstimateCardinality(pattern algebra.TriplePattern) (int, error)

	// Capabilities returns the backend's capability set
	Capabilities() Capability
}

// BGPEvaluator is an optional backend upgrade: a graph that evaluates a
// whole basic graph pattern natively instead of per-triple Find calls.
type BGPEvaluator interface {
	EvalBGP(ctx *ExecutionContext, patterns []algebra.TriplePattern) pipeline.Iterator[*Binding]
}

// UnionEvaluator is an optional backend upgrade backing the bound-join
// strategy: one bulk call evaluating several BGPs and merging the results.
type UnionEvaluator interface {
	EvalUnion(ctx *ExecutionContext, bgps [][]algebra.TriplePattern) pipeline.Iterator[*Binding]
}

// FullTextMatch is one full-text search hit
type FullTextMatch struct {
	Triple *rdf.Triple
	Score  float64
	Rank   int
}

// FullTextSearcher is an optional backend upgrade for keyword search over
// literal objects
type FullTextSearcher interface {
	FullTextSearch(ctx *ExecutionContext, pattern algebra.TriplePattern, variable *rdf.Variable,
		keywords []string, matchAll bool, minScore, maxScore *float64, minRank, maxRank *int) pipeline.Iterator[FullTextMatch]
}

// EvalBGP evaluates a basic graph pattern against a graph. Backends that
// implement BGPEvaluator are delegated to; everyone else gets the default
// strategy: iterate the leftmost pattern via Find, substitute the matched
// terms, recurse on the remaining patterns.
func EvalBGP(g Graph, ctx *ExecutionContext, patterns []algebra.TriplePattern) pipeline.Iterator[*Binding] {
	if be, ok := g.(BGPEvaluator); ok {
		return be.EvalBGP(ctx, patterns)
	}
	return DefaultEvalBGP(g, ctx, patterns)
}

// DefaultEvalBGP is the index-nested-loop BGP evaluation every Graph
// supports through Find
func DefaultEvalBGP(g Graph, ctx *ExecutionContext, patterns []algebra.TriplePattern) pipeline.Iterator[*Binding] {
	return evalPatterns(g, ctx, patterns, NewBinding())
}

func evalPatterns(g Graph, ctx *ExecutionContext, patterns []algebra.TriplePattern, acc *Binding) pipeline.Iterator[*Binding] {
	if len(patterns) == 0 {
		return pipeline.Of(acc)
	}
	first := acc.Bound(patterns[0])
	rest := patterns[1:]
	return pipeline.FlatMap(g.Find(ctx, first), func(t *rdf.Triple) pipeline.Iterator[*Binding] {
		matched, ok := MatchPattern(first, t)
		if !ok {
			return pipeline.Empty[*Binding]()
		}
		return evalPatterns(g, ctx, rest, acc.Union(matched))
	})
}

// EvalUnion evaluates several BGPs and merges their solutions. Backends
// that implement UnionEvaluator are delegated to.
func EvalUnion(g Graph, ctx *ExecutionContext, bgps [][]algebra.TriplePattern) pipeline.Iterator[*Binding] {
	if ue, ok := g.(UnionEvaluator); ok {
		return ue.EvalUnion(ctx, bgps)
	}
	iters := make([]pipeline.Iterator[*Binding], len(bgps))
	for i, patterns := range bgps {
		iters[i] = EvalBGP(g, ctx, patterns)
	}
	return pipeline.Merge(iters...)
}

// MatchPattern binds the variables of a triple pattern against a concrete
// triple. Returns (nil, false) when a variable repeated inside the pattern
// would have to take two different values, or a constant position
// disagrees with the triple.
func MatchPattern(pattern algebra.TriplePattern, t *rdf.Triple) (*Binding, bool) {
	b := NewBinding()
	positions := []struct {
		pat  rdf.Term
		term rdf.Term
	}{
		{pattern.Subject, t.Subject},
		{pattern.Predicate, t.Predicate},
		{pattern.Object, t.Object},
	}
	for _, pos := range positions {
		if v, ok := pos.pat.(*rdf.Variable); ok {
			if existing, bound := b.Get(v.Name); bound {
				if !existing.Equals(pos.term) {
					return nil, false
				}
				continue
			}
			b.Set(v.Name, pos.term)
			continue
		}
		if pos.pat != nil && !pos.pat.Equals(pos.term) {
			return nil, false
		}
	}
	return b, true
}

// BGP is a canonical basic graph pattern value: the triple patterns plus
// the target graph IRI. Two BGPs with the same patterns in different order
// are equal; Key normalizes order.
type BGP struct {
	Patterns []algebra.TriplePattern
	GraphIRI string
}

// Key returns the canonical cache key of the BGP
func (b BGP) Key() string {
	canon := make([]string, len(b.Patterns))
	for i, p := range b.Patterns {
		canon[i] = p.Canonical()
	}
	sort.Strings(canon)
	return b.GraphIRI + "\n" + strings.Join(canon, "\n")
}

// BGPCache is the semantic cache consulted by the BGP evaluation stage.
// Multiple writers may stage results for the same BGP concurrently; only
// the first commit installs an entry.
type BGPCache interface {
	// Update appends a mapping to the writer's staging buffer. Calls for
	// an already committed BGP are dropped.
	Update(bgp BGP, mapping *Binding, writerID string)

	// Commit atomically installs the writer's staging buffer; only the
	// first committer wins
	Commit(bgp BGP, writerID string)

	// Discard drops the writer's staging buffer without committing
	Discard(bgp BGP, writerID string)

	// Get returns a channel resolving to the committed entry. The second
	// result is false when no writer has touched the BGP. The channel is
	// closed without a value when the entry is discarded before commit.
	Get(bgp BGP) (<-chan []*Binding, bool)

	// Has reports whether a committed entry exists
	Has(bgp BGP) bool

	// Count returns the number of committed entries
	Count() int

	// Delete evicts a key, discarding staged buffers and failing pending
	// Get futures
	Delete(bgp BGP)

	// FindSubset returns the largest committed BGP whose pattern set is a
	// subset of bgp's (same graph IRI) and the patterns still missing.
	// When no subset exists the first result is empty and missing holds
	// all of bgp's patterns.
	FindSubset(bgp BGP) (subset []algebra.TriplePattern, missing []algebra.TriplePattern)
}
