package graph

import (
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// UnionGraph is a read-only view over several member graphs, used when a
// query carries multiple FROM clauses.
type UnionGraph struct {
	members []Graph
}

// NewUnionGraph builds a union view over the given members
func NewUnionGraph(members ...Graph) *UnionGraph {
	return &UnionGraph{members: members}
}

func (u *UnionGraph) Find(ctx *ExecutionContext, pattern algebra.TriplePattern) pipeline.Iterator[*rdf.Triple] {
	iters := make([]pipeline.Iterator[*rdf.Triple], len(u.members))
	for i, m := range u.members {
		iters[i] = m.Find(ctx, pattern)
	}
	return pipeline.Merge(iters...)
}

func (u *UnionGraph) Insert(*rdf.Triple) error { return ErrReadOnlyGraph }
func (u *UnionGraph) Delete(*rdf.Triple) error { return ErrReadOnlyGraph }
func (u *UnionGraph) Clear() error             { return ErrReadOnlyGraph }

func (u *UnionGraph) EstimateCardinality(pattern algebra.TriplePattern) (int, error) {
	total := 0
	for _, m := range u.members {
		n, err := m.EstimateCardinality(pattern)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Capabilities is the intersection of the members' capability sets: a
// bulk strategy is only sound when every member supports it.
func (u *UnionGraph) Capabilities() Capability {
	if len(u.members) == 0 {
		return 0
	}
	caps := u.members[0].Capabilities()
	for _, m := range u.members[1:] {
		caps &= m.Capabilities()
	}
	return caps
}

// EvalBGP merges the members' BGP evaluations
func (u *UnionGraph) EvalBGP(ctx *ExecutionContext, patterns []algebra.TriplePattern) pipeline.Iterator[*Binding] {
	iters := make([]pipeline.Iterator[*Binding], len(u.members))
	for i, m := range u.members {
		iters[i] = EvalBGP(m, ctx, patterns)
	}
	return pipeline.Merge(iters...)
}

// EvalUnion merges the members' bulk union evaluations
func (u *UnionGraph) EvalUnion(ctx *ExecutionContext, bgps [][]algebra.TriplePattern) pipeline.Iterator[*Binding] {
	iters := make([]pipeline.Iterator[*Binding], len(u.members))
	for i, m := range u.members {
		iters[i] = EvalUnion(m, ctx, bgps)
	}
	return pipeline.Merge(iters...)
}
