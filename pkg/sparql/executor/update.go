package executor

import (
	"fmt"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// ExecuteUpdateText parses update text with the injected parser and
// executes it
func (p *PlanBuilder) ExecuteUpdateText(text string) error {
	if p.parser == nil {
		return fmt.Errorf("%w: no parser injected", ErrParse)
	}
	u, err := p.parser.ParseUpdate(text)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return p.ExecuteUpdate(u)
}

// ExecuteUpdate runs the operations of an update request sequentially; a
// failing operation aborts the remaining ones
func (p *PlanBuilder) ExecuteUpdate(u *algebra.Update) error {
	for i, op := range u.Operations {
		if err := p.executeOperation(op); err != nil {
			return fmt.Errorf("update operation %d (%s): %w", i, op.Kind, err)
		}
	}
	return nil
}

func (p *PlanBuilder) executeOperation(op *algebra.UpdateOperation) error {
	switch op.Kind {
	case algebra.UpdateInsertData:
		return p.insertQuads(op.Insert, nil)
	case algebra.UpdateDeleteData:
		return p.deleteQuads(op.Delete, nil)
	case algebra.UpdateModify:
		return p.executeModify(op)
	case algebra.UpdateLoad:
		return p.executeLoad(op)
	case algebra.UpdateCreate:
		return p.executeCreate(op)
	case algebra.UpdateDrop:
		return p.executeDrop(op)
	case algebra.UpdateClear:
		return p.executeClear(op)
	case algebra.UpdateCopy:
		return p.executeCopy(op, true, false)
	case algebra.UpdateMove:
		return p.executeCopy(op, true, true)
	case algebra.UpdateAdd:
		return p.executeCopy(op, false, false)
	default:
		return fmt.Errorf("unsupported update kind %q", string(op.Kind))
	}
}

// targetGraph resolves a quad's graph term, creating named graphs on
// demand as SPARQL Update requires
func (p *PlanBuilder) targetGraph(name rdf.Term) (graph.Graph, error) {
	switch t := name.(type) {
	case nil, *rdf.DefaultGraph:
		return p.dataset.DefaultGraph(), nil
	case *rdf.NamedNode:
		if g, ok := p.dataset.NamedGraph(t.IRI); ok {
			return g, nil
		}
		return p.dataset.CreateGraph(t.IRI)
	default:
		return nil, fmt.Errorf("invalid graph term %s", name)
	}
}

func (p *PlanBuilder) insertQuads(quads []algebra.QuadPattern, b *graph.Binding) error {
	for _, q := range quads {
		t, ok := groundQuad(q, b)
		if !ok {
			continue
		}
		g, err := p.targetGraph(q.Graph)
		if err != nil {
			return err
		}
		if err := g.Insert(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *PlanBuilder) deleteQuads(quads []algebra.QuadPattern, b *graph.Binding) error {
	for _, q := range quads {
		t, ok := groundQuad(q, b)
		if !ok {
			continue
		}
		var g graph.Graph
		switch name := q.Graph.(type) {
		case nil, *rdf.DefaultGraph:
			g = p.dataset.DefaultGraph()
		case *rdf.NamedNode:
			named, ok := p.dataset.NamedGraph(name.IRI)
			if !ok {
				// Deleting from an absent graph is a no-op
				continue
			}
			g = named
		default:
			return fmt.Errorf("invalid graph term %s", q.Graph)
		}
		if err := g.Delete(t); err != nil {
			return err
		}
	}
	return nil
}

// groundQuad instantiates a quad pattern against a solution; quads with
// an unresolved position are skipped
func groundQuad(q algebra.QuadPattern, b *graph.Binding) (*rdf.Triple, bool) {
	if b == nil {
		b = graph.NewBinding()
	}
	return instantiateTriple(q.TriplePattern, b)
}

// executeModify evaluates the WHERE clause, then deletes and inserts the
// instantiated quads per solution. Deletions run before insertions, over
// a fully materialized solution set.
func (p *PlanBuilder) executeModify(op *algebra.UpdateOperation) error {
	ctx := graph.NewExecutionContext()
	if len(op.Using.Default) > 0 {
		ctx.DefaultGraphs = op.Using.Default
	}
	if len(op.Using.Named) > 0 {
		ctx.NamedGraphs = op.Using.Named
	}

	iter, err := p.buildWhere(ctx, op.Where)
	if err != nil {
		return err
	}
	solutions, err := pipeline.Collect(iter)
	if err != nil {
		return err
	}

	for _, b := range solutions {
		if err := p.deleteQuads(op.Delete, b); err != nil {
			return err
		}
	}
	for _, b := range solutions {
		if err := p.insertQuads(op.Insert, b); err != nil {
			return err
		}
	}
	return nil
}

// executeLoad fetches a remote document through the injected loader and
// inserts its triples into the destination graph
func (p *PlanBuilder) executeLoad(op *algebra.UpdateOperation) error {
	if p.loader == nil {
		return fmt.Errorf("LOAD requires an injected loader")
	}
	triples, err := p.loader(op.Source)
	if err != nil {
		if op.Silent {
			return nil
		}
		return fmt.Errorf("LOAD %s: %w", op.Source, err)
	}
	g, err := p.targetGraph(op.Destination)
	if err != nil {
		return err
	}
	for _, t := range triples {
		if err := g.Insert(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *PlanBuilder) executeCreate(op *algebra.UpdateOperation) error {
	nn, ok := op.Graph.(*rdf.NamedNode)
	if !ok {
		return fmt.Errorf("CREATE requires a graph IRI")
	}
	if p.dataset.HasNamedGraph(nn.IRI) {
		if op.Silent {
			return nil
		}
		return fmt.Errorf("graph %s already exists", nn.IRI)
	}
	_, err := p.dataset.CreateGraph(nn.IRI)
	return err
}

func (p *PlanBuilder) executeDrop(op *algebra.UpdateOperation) error {
	switch t := op.Graph.(type) {
	case nil, *rdf.DefaultGraph:
		return p.dataset.DefaultGraph().Clear()
	case *rdf.NamedNode:
		err := p.dataset.DeleteNamedGraph(t.IRI)
		if err != nil && op.Silent {
			return nil
		}
		return err
	default:
		return fmt.Errorf("invalid DROP target %s", op.Graph)
	}
}

func (p *PlanBuilder) executeClear(op *algebra.UpdateOperation) error {
	switch t := op.Graph.(type) {
	case nil, *rdf.DefaultGraph:
		return p.dataset.DefaultGraph().Clear()
	case *rdf.NamedNode:
		g, ok := p.dataset.NamedGraph(t.IRI)
		if !ok {
			if op.Silent {
				return nil
			}
			return fmt.Errorf("%w: %s", graph.ErrGraphNotFound, t.IRI)
		}
		return g.Clear()
	default:
		return fmt.Errorf("invalid CLEAR target %s", op.Graph)
	}
}

// executeCopy implements COPY (clear destination first), ADD (keep it)
// and MOVE (COPY then drop the source)
func (p *PlanBuilder) executeCopy(op *algebra.UpdateOperation, clearDest, dropSource bool) error {
	src, err := p.resolveCopyEnd(op.Graph, op.Silent)
	if err != nil || src == nil {
		return err
	}
	dest, err := p.targetGraph(op.Destination)
	if err != nil {
		return err
	}
	if src == dest {
		return nil
	}

	all := algebra.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewVariable("p"),
		Object:    rdf.NewVariable("o"),
	}
	triples, err := pipeline.Collect(src.Find(graph.NewExecutionContext(), all))
	if err != nil {
		return err
	}

	if clearDest {
		if err := dest.Clear(); err != nil {
			return err
		}
	}
	for _, t := range triples {
		if err := dest.Insert(t); err != nil {
			return err
		}
	}

	if dropSource {
		if nn, ok := op.Graph.(*rdf.NamedNode); ok {
			return p.dataset.DeleteNamedGraph(nn.IRI)
		}
		return src.Clear()
	}
	return nil
}

// resolveCopyEnd resolves a COPY/MOVE/ADD source; a missing source is an
// error unless SILENT, which turns the operation into a no-op
func (p *PlanBuilder) resolveCopyEnd(name rdf.Term, silent bool) (graph.Graph, error) {
	switch t := name.(type) {
	case nil, *rdf.DefaultGraph:
		return p.dataset.DefaultGraph(), nil
	case *rdf.NamedNode:
		g, ok := p.dataset.NamedGraph(t.IRI)
		if !ok {
			if silent {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", graph.ErrGraphNotFound, t.IRI)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("invalid graph term %s", name)
	}
}
