package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// MemoryGraph is the reference in-memory backend. It keeps per-position
// indexes keyed by canonical term form and advertises bulk union support,
// which makes it eligible for the bound-join strategy.
type MemoryGraph struct {
	mu          sync.RWMutex
	triples     map[string]*rdf.Triple
	bySubject   map[string]map[string]struct{}
	byPredicate map[string]map[string]struct{}
	byObject    map[string]map[string]struct{}
}

// NewMemoryGraph creates an empty in-memory graph
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		triples:     make(map[string]*rdf.Triple),
		bySubject:   make(map[string]map[string]struct{}),
		byPredicate: make(map[string]map[string]struct{}),
		byObject:    make(map[string]map[string]struct{}),
	}
}

func tripleKey(t *rdf.Triple) string {
	return rdf.CanonicalTerm(t.Subject) + " " + rdf.CanonicalTerm(t.Predicate) + " " + rdf.CanonicalTerm(t.Object)
}

func addIndex(idx map[string]map[string]struct{}, term rdf.Term, key string) {
	canon := rdf.CanonicalTerm(term)
	set, ok := idx[canon]
	if !ok {
		set = make(map[string]struct{})
		idx[canon] = set
	}
	set[key] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, term rdf.Term, key string) {
	canon := rdf.CanonicalTerm(term)
	if set, ok := idx[canon]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(idx, canon)
		}
	}
}

func (g *MemoryGraph) Insert(t *rdf.Triple) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := tripleKey(t)
	if _, ok := g.triples[key]; ok {
		return nil
	}
	g.triples[key] = t
	addIndex(g.bySubject, t.Subject, key)
	addIndex(g.byPredicate, t.Predicate, key)
	addIndex(g.byObject, t.Object, key)
	return nil
}

func (g *MemoryGraph) Delete(t *rdf.Triple) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := tripleKey(t)
	if _, ok := g.triples[key]; !ok {
		return nil
	}
	delete(g.triples, key)
	dropIndex(g.bySubject, t.Subject, key)
	dropIndex(g.byPredicate, t.Predicate, key)
	dropIndex(g.byObject, t.Object, key)
	return nil
}

func (g *MemoryGraph) Clear() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triples = make(map[string]*rdf.Triple)
	g.bySubject = make(map[string]map[string]struct{})
	g.byPredicate = make(map[string]map[string]struct{})
	g.byObject = make(map[string]map[string]struct{})
	return nil
}

// Size returns the number of stored triples
func (g *MemoryGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.triples)
}

// candidates picks the smallest index set matching the bound positions of
// the pattern, or nil to scan everything
func (g *MemoryGraph) candidates(pattern algebra.TriplePattern) map[string]struct{} {
	var best map[string]struct{}
	consider := func(idx map[string]map[string]struct{}, term rdf.Term) {
		if term == nil || rdf.IsVariable(term) {
			return
		}
		set := idx[rdf.CanonicalTerm(term)]
		if best == nil || len(set) < len(best) {
			best = set
			if best == nil {
				best = map[string]struct{}{}
			}
		}
	}
	consider(g.bySubject, pattern.Subject)
	consider(g.byPredicate, pattern.Predicate)
	consider(g.byObject, pattern.Object)
	return best
}

// matchTriples snapshots the triples matching a pattern in stable
// (canonical key) order
func (g *MemoryGraph) matchTriples(pattern algebra.TriplePattern) []*rdf.Triple {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var keys []string
	if cand := g.candidates(pattern); cand != nil {
		keys = make([]string, 0, len(cand))
		for key := range cand {
			keys = append(keys, key)
		}
	} else {
		keys = make([]string, 0, len(g.triples))
		for key := range g.triples {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []*rdf.Triple
	for _, key := range keys {
		t, ok := g.triples[key]
		if !ok {
			continue
		}
		if _, matches := MatchPattern(pattern, t); matches {
			out = append(out, t)
		}
	}
	return out
}

func (g *MemoryGraph) Find(_ *ExecutionContext, pattern algebra.TriplePattern) pipeline.Iterator[*rdf.Triple] {
	return pipeline.From(g.matchTriples(pattern))
}

func (g *MemoryGraph) EstimateCardinality(pattern algebra.TriplePattern) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cand := g.candidates(pattern); cand != nil {
		return len(cand), nil
	}
	return len(g.triples), nil
}

func (g *MemoryGraph) Capabilities() Capability {
	return CapUnion | CapFullText
}

// EvalUnion evaluates each BGP with the default strategy and merges the
// solutions, satisfying the bulk contract behind CapUnion
func (g *MemoryGraph) EvalUnion(ctx *ExecutionContext, bgps [][]algebra.TriplePattern) pipeline.Iterator[*Binding] {
	iters := make([]pipeline.Iterator[*Binding], len(bgps))
	for i, patterns := range bgps {
		iters[i] = DefaultEvalBGP(g, ctx, patterns)
	}
	return pipeline.Merge(iters...)
}

// FullTextSearch scores literal objects of triples matching the pattern
// by the fraction of query keywords they contain. Hits are ranked by
// descending score; rank starts at 0.
func (g *MemoryGraph) FullTextSearch(ctx *ExecutionContext, pattern algebra.TriplePattern, variable *rdf.Variable,
	keywords []string, matchAll bool, minScore, maxScore *float64, minRank, maxRank *int) pipeline.Iterator[FullTextMatch] {

	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}

	var hits []FullTextMatch
	for _, t := range g.matchTriples(pattern) {
		lit, ok := t.Object.(*rdf.Literal)
		if !ok {
			continue
		}
		text := strings.ToLower(lit.Value)
		matched := 0
		for _, kw := range lowered {
			if strings.Contains(text, kw) {
				matched++
			}
		}
		if matched == 0 || (matchAll && matched < len(lowered)) {
			continue
		}
		score := float64(matched) / float64(len(lowered))
		if minScore != nil && score < *minScore {
			continue
		}
		if maxScore != nil && score > *maxScore {
			continue
		}
		hits = append(hits, FullTextMatch{Triple: t, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	var ranked []FullTextMatch
	for rank, hit := range hits {
		if minRank != nil && rank < *minRank {
			continue
		}
		if maxRank != nil && rank > *maxRank {
			continue
		}
		hit.Rank = rank
		ranked = append(ranked, hit)
	}
	return pipeline.From(ranked)
}
