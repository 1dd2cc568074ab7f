package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// fullTextQuery bundles one real triple pattern with the search
// configuration parsed from its magic triples
type fullTextQuery struct {
	pattern  algebra.TriplePattern
	variable *rdf.Variable
	keywords []string
	matchAll bool
	minScore *float64
	maxScore *float64
	minRank  *int
	maxRank  *int
	scoreVar *rdf.Variable
	rankVar  *rdf.Variable
}

// extractFullTextQueries splits a BGP into classic triples and full-text
// queries. Magic triples share their subject variable with the real
// pattern they configure.
func extractFullTextQueries(triples []algebra.TriplePattern) ([]algebra.TriplePattern, []*fullTextQuery, error) {
	magic := make(map[string][]algebra.TriplePattern)
	var classic []algebra.TriplePattern

	for _, tp := range triples {
		nn, ok := tp.Predicate.(*rdf.NamedNode)
		if ok && strings.HasPrefix(nn.IRI, SearchNamespace) {
			v, ok := tp.Subject.(*rdf.Variable)
			if !ok {
				return nil, nil, fmt.Errorf("full-text magic triple requires a variable subject, got %s", tp.Subject)
			}
			magic[v.Name] = append(magic[v.Name], tp)
			continue
		}
		classic = append(classic, tp)
	}

	if len(magic) == 0 {
		return classic, nil, nil
	}

	var queries []*fullTextQuery
	for varName, configs := range magic {
		q := &fullTextQuery{variable: rdf.NewVariable(varName)}

		// Claim the first classic pattern mentioning the query variable
		claimed := -1
		for i, tp := range classic {
			if termIsVariable(tp.Subject, varName) || termIsVariable(tp.Object, varName) {
				claimed = i
				break
			}
		}
		if claimed < 0 {
			return nil, nil, fmt.Errorf("full-text query variable ?%s matches no triple pattern", varName)
		}
		q.pattern = classic[claimed]
		classic = append(classic[:claimed], classic[claimed+1:]...)

		for _, tp := range configs {
			if err := applyMagicTriple(q, tp); err != nil {
				return nil, nil, err
			}
		}
		if len(q.keywords) == 0 {
			return nil, nil, fmt.Errorf("full-text query on ?%s has no search keywords", varName)
		}
		if q.minScore != nil && q.maxScore != nil && *q.minScore > *q.maxScore {
			return nil, nil, fmt.Errorf("full-text query on ?%s: minRelevance exceeds maxRelevance", varName)
		}
		if q.minRank != nil && q.maxRank != nil && *q.minRank > *q.maxRank {
			return nil, nil, fmt.Errorf("full-text query on ?%s: minRank exceeds maxRank", varName)
		}
		queries = append(queries, q)
	}
	return classic, queries, nil
}

func termIsVariable(t rdf.Term, name string) bool {
	v, ok := t.(*rdf.Variable)
	return ok && v.Name == name
}

func applyMagicTriple(q *fullTextQuery, tp algebra.TriplePattern) error {
	name := strings.TrimPrefix(tp.Predicate.(*rdf.NamedNode).IRI, SearchNamespace)
	switch name {
	case "search":
		lit, ok := tp.Object.(*rdf.Literal)
		if !ok {
			return fmt.Errorf("search expects a literal of keywords")
		}
		q.keywords = strings.Fields(lit.Value)
	case "matchAllTerms":
		lit, ok := tp.Object.(*rdf.Literal)
		if !ok {
			return fmt.Errorf("matchAllTerms expects a boolean literal")
		}
		q.matchAll = lit.Value == "true" || lit.Value == "1"
	case "minRelevance":
		v, err := magicFloat(tp.Object, name)
		if err != nil {
			return err
		}
		q.minScore = &v
	case "maxRelevance":
		v, err := magicFloat(tp.Object, name)
		if err != nil {
			return err
		}
		q.maxScore = &v
	case "minRank":
		v, err := magicRank(tp.Object, name)
		if err != nil {
			return err
		}
		q.minRank = &v
	case "maxRank":
		v, err := magicRank(tp.Object, name)
		if err != nil {
			return err
		}
		q.maxRank = &v
	case "relevance":
		v, ok := tp.Object.(*rdf.Variable)
		if !ok {
			return fmt.Errorf("relevance expects a variable")
		}
		q.scoreVar = v
	case "rank":
		v, ok := tp.Object.(*rdf.Variable)
		if !ok {
			return fmt.Errorf("rank expects a variable")
		}
		q.rankVar = v
	default:
		return fmt.Errorf("unknown full-text magic predicate %q", name)
	}
	return nil
}

func magicFloat(t rdf.Term, name string) (float64, error) {
	lit, ok := t.(*rdf.Literal)
	if !ok {
		return 0, fmt.Errorf("%s expects a numeric literal", name)
	}
	v, err := strconv.ParseFloat(lit.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", name, lit.Value)
	}
	return v, nil
}

func magicRank(t rdf.Term, name string) (int, error) {
	lit, ok := t.(*rdf.Literal)
	if !ok {
		return 0, fmt.Errorf("%s expects an integer literal", name)
	}
	v, err := strconv.Atoi(lit.Value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", name, lit.Value)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %d", name, v)
	}
	return v, nil
}

// fullTextJoin applies one full-text query as a join stage: each input
// mapping is extended with the matched triple's bindings and, when
// requested, the typed score and rank variables
func fullTextJoin(ctx *graph.ExecutionContext, source BindingIter, g graph.Graph, q *fullTextQuery) BindingIter {
	searcher, ok := g.(graph.FullTextSearcher)
	if !ok {
		_ = source.Close()
		return pipeline.Error[*graph.Binding](fmt.Errorf("graph does not support full-text search"))
	}

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		bound := b.Bound(q.pattern)
		matches := searcher.FullTextSearch(ctx, bound, q.variable, q.keywords, q.matchAll,
			q.minScore, q.maxScore, q.minRank, q.maxRank)

		return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
			for matches.Next() {
				m := matches.Value()
				matched, ok := graph.MatchPattern(bound, m.Triple)
				if !ok {
					continue
				}
				merged := b.Merge(matched)
				if merged == nil {
					continue
				}
				if q.scoreVar != nil {
					merged.Set(q.scoreVar.Name, rdf.NewFloatLiteral(m.Score))
				}
				if q.rankVar != nil {
					merged.Set(q.rankVar.Name, rdf.NewIntegerLiteral(int64(m.Rank)))
				}
				return merged, true, nil
			}
			return nil, false, matches.Err()
		}, matches.Close)
	})
}
