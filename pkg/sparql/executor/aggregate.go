package executor

import (
	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
	"github.com/aleksaelezovic/sparq/pkg/sparql/evaluator"
)

// groupMarker backs COUNT(*): one marker per group row
var groupMarker = rdf.NewIntegerLiteral(1)

// aggregateStage is the grouping full-buffer point: the source is drained,
// solutions are partitioned by the GROUP BY key and one output mapping is
// produced per group, carrying the grouped rows in its property bag for
// the aggregate expressions downstream. HAVING drops groups whose
// condition errors or does not hold.
func (p *PlanBuilder) aggregateStage(ctx *graph.ExecutionContext, source BindingIter, q *algebra.Query) (BindingIter, error) {
	type keyPart struct {
		name     string
		compiled evaluator.Compiled // nil for a plain variable
	}

	parts := make([]keyPart, 0, len(q.GroupBy))
	for _, item := range q.GroupBy {
		kp := keyPart{name: item.Variable.Name}
		if item.Expression != nil {
			compiled, err := p.eval.Compile(item.Expression)
			if err != nil {
				_ = source.Close()
				return nil, err
			}
			kp.compiled = compiled
		}
		parts = append(parts, kp)
	}

	having := make([]evaluator.Compiled, len(q.Having))
	for i, expr := range q.Having {
		compiled, err := p.eval.Compile(expr)
		if err != nil {
			_ = source.Close()
			return nil, err
		}
		having[i] = compiled
	}

	type group struct {
		repr *graph.Binding
		rows evaluator.GroupRows
	}

	var groups []*group
	loaded := false
	pos := 0

	return pipeline.FromFuncWithClose(func() (*graph.Binding, bool, error) {
		if !loaded {
			loaded = true
			index := make(map[string]*group)
			var order []string

			solutions, err := pipeline.Collect(source)
			if err != nil {
				return nil, false, err
			}

			implicit := len(parts) == 0
			for _, b := range solutions {
				key := ""
				repr := graph.NewBinding()
				for _, kp := range parts {
					var term rdf.Term
					if kp.compiled == nil {
						term, _ = b.Get(kp.name)
					} else if t, err := kp.compiled(b); err == nil {
						term = t
					}
					key += rdf.CanonicalTerm(term) + "\x00"
					if term != nil {
						repr.Set(kp.name, term)
					}
				}
				grp, ok := index[key]
				if !ok {
					grp = &group{repr: repr, rows: make(evaluator.GroupRows)}
					index[key] = grp
					order = append(order, key)
				}
				b.ForEach(func(name string, term rdf.Term) {
					grp.rows[name] = append(grp.rows[name], term)
				})
				grp.rows["*"] = append(grp.rows["*"], groupMarker)
			}

			if implicit && len(order) == 0 {
				// Aggregates over an empty input still produce one group
				grp := &group{repr: graph.NewBinding(), rows: make(evaluator.GroupRows)}
				index[""] = grp
				order = append(order, "")
			}

			for _, key := range order {
				grp := index[key]
				grp.repr.SetProperty(evaluator.AggregateProperty, grp.rows)
				keep := true
				for _, h := range having {
					t, err := h(grp.repr)
					if err != nil || t == nil {
						keep = false
						break
					}
					ebv, err := evaluator.EffectiveBooleanValue(t)
					if err != nil || !ebv {
						keep = false
						break
					}
				}
				if keep {
					groups = append(groups, grp)
				}
			}
		}

		if pos >= len(groups) {
			return nil, false, nil
		}
		g := groups[pos]
		pos++
		return g.repr, true, nil
	}, source.Close), nil
}
