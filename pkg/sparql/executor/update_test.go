package executor

import (
	"errors"
	"testing"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

func quad(s, p, o rdf.Term, g rdf.Term) algebra.QuadPattern {
	return algebra.QuadPattern{
		TriplePattern: algebra.TriplePattern{Subject: s, Predicate: p, Object: o},
		Graph:         g,
	}
}

// S6: CREATE GRAPH
func TestUpdate_CreateGraph(t *testing.T) {
	ds, _ := memDataset()
	p := NewPlanBuilder(ds)

	u := &algebra.Update{Operations: []*algebra.UpdateOperation{
		{Kind: algebra.UpdateCreate, Graph: ex("g")},
	}}
	if err := p.ExecuteUpdate(u); err != nil {
		t.Fatalf("ExecuteUpdate failed: %v", err)
	}
	if !ds.HasNamedGraph(exNS + "g") {
		t.Error("Expected the dataset to report the created graph as present")
	}

	// Creating it again fails unless SILENT
	if err := p.ExecuteUpdate(u); err == nil {
		t.Error("Expected CREATE of an existing graph to fail")
	}
	silent := &algebra.Update{Operations: []*algebra.UpdateOperation{
		{Kind: algebra.UpdateCreate, Graph: ex("g"), Silent: true},
	}}
	if err := p.ExecuteUpdate(silent); err != nil {
		t.Errorf("Expected SILENT CREATE to succeed, got %v", err)
	}
}

func TestUpdate_InsertDeleteData(t *testing.T) {
	ds, g := memDataset()
	p := NewPlanBuilder(ds)

	insert := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind: algebra.UpdateInsertData,
		Insert: []algebra.QuadPattern{
			quad(ex("a"), ex("p"), rdf.NewLiteral("v"), nil),
			quad(ex("b"), ex("p"), rdf.NewLiteral("w"), ex("named")),
		},
	}}}
	if err := p.ExecuteUpdate(insert); err != nil {
		t.Fatalf("INSERT DATA failed: %v", err)
	}
	if g.Size() != 1 {
		t.Errorf("Expected 1 triple in the default graph, got %d", g.Size())
	}
	if !ds.HasNamedGraph(exNS + "named") {
		t.Error("Expected INSERT DATA to create the named graph")
	}

	remove := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind:   algebra.UpdateDeleteData,
		Delete: []algebra.QuadPattern{quad(ex("a"), ex("p"), rdf.NewLiteral("v"), nil)},
	}}}
	if err := p.ExecuteUpdate(remove); err != nil {
		t.Fatalf("DELETE DATA failed: %v", err)
	}
	if g.Size() != 0 {
		t.Errorf("Expected the default graph to be empty, got %d triples", g.Size())
	}
}

func TestUpdate_Modify(t *testing.T) {
	ds, g := memDataset()
	_ = g.Insert(rdf.NewTriple(ex("a"), ex("status"), rdf.NewLiteral("old")))
	_ = g.Insert(rdf.NewTriple(ex("b"), ex("status"), rdf.NewLiteral("old")))

	p := NewPlanBuilder(ds)
	u := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind:   algebra.UpdateModify,
		Delete: []algebra.QuadPattern{quad(rdf.NewVariable("s"), ex("status"), rdf.NewLiteral("old"), nil)},
		Insert: []algebra.QuadPattern{quad(rdf.NewVariable("s"), ex("status"), rdf.NewLiteral("new"), nil)},
		Where: []algebra.Pattern{&algebra.BGP{Triples: []algebra.TriplePattern{{
			Subject: rdf.NewVariable("s"), Predicate: ex("status"), Object: rdf.NewLiteral("old"),
		}}}},
	}}}
	if err := p.ExecuteUpdate(u); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}

	if g.Size() != 2 {
		t.Fatalf("Expected 2 triples after modify, got %d", g.Size())
	}
	q := spoQuery(&algebra.BGP{Triples: []algebra.TriplePattern{{
		Subject: rdf.NewVariable("s"), Predicate: ex("status"), Object: rdf.NewLiteral("new"),
	}}})
	solutions := collectSolutions(t, mustBuild(t, p, q))
	if len(solutions) != 2 {
		t.Errorf("Expected both subjects rewritten to new, got %d", len(solutions))
	}
}

func TestUpdate_Load(t *testing.T) {
	ds, g := memDataset()
	p := NewPlanBuilder(ds)
	p.SetLoader(func(source string) ([]*rdf.Triple, error) {
		if source != "http://example.org/data.nt" {
			return nil, errors.New("unexpected source")
		}
		return []*rdf.Triple{rdf.NewTriple(ex("loaded"), ex("p"), rdf.NewLiteral("v"))}, nil
	})

	u := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind:   algebra.UpdateLoad,
		Source: "http://example.org/data.nt",
	}}}
	if err := p.ExecuteUpdate(u); err != nil {
		t.Fatalf("LOAD failed: %v", err)
	}
	if g.Size() != 1 {
		t.Errorf("Expected 1 loaded triple, got %d", g.Size())
	}

	// A failing load aborts unless SILENT
	failing := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind:   algebra.UpdateLoad,
		Source: "http://example.org/missing.nt",
	}}}
	if err := p.ExecuteUpdate(failing); err == nil {
		t.Error("Expected LOAD failure to surface")
	}
	silent := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind:   algebra.UpdateLoad,
		Source: "http://example.org/missing.nt",
		Silent: true,
	}}}
	if err := p.ExecuteUpdate(silent); err != nil {
		t.Errorf("Expected SILENT LOAD failure to be swallowed, got %v", err)
	}
}

func TestUpdate_DropClear(t *testing.T) {
	ds, g := memDataset()
	_ = g.Insert(rdf.NewTriple(ex("a"), ex("p"), rdf.NewLiteral("v")))
	named := graph.NewMemoryGraph()
	_ = named.Insert(rdf.NewTriple(ex("b"), ex("p"), rdf.NewLiteral("w")))
	ds.AddNamedGraph(exNS+"g", named)

	p := NewPlanBuilder(ds)

	clear := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind: algebra.UpdateClear, Graph: ex("g"),
	}}}
	if err := p.ExecuteUpdate(clear); err != nil {
		t.Fatalf("CLEAR failed: %v", err)
	}
	if named.Size() != 0 {
		t.Error("Expected the named graph to be empty after CLEAR")
	}
	if !ds.HasNamedGraph(exNS + "g") {
		t.Error("Expected CLEAR to keep the graph registered")
	}

	drop := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind: algebra.UpdateDrop, Graph: ex("g"),
	}}}
	if err := p.ExecuteUpdate(drop); err != nil {
		t.Fatalf("DROP failed: %v", err)
	}
	if ds.HasNamedGraph(exNS + "g") {
		t.Error("Expected DROP to remove the graph")
	}
}

func TestUpdate_CopyMove(t *testing.T) {
	ds, g := memDataset()
	_ = g.Insert(rdf.NewTriple(ex("a"), ex("p"), rdf.NewLiteral("v")))

	p := NewPlanBuilder(ds)

	copyOp := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind: algebra.UpdateCopy, Destination: ex("backup"),
	}}}
	if err := p.ExecuteUpdate(copyOp); err != nil {
		t.Fatalf("COPY failed: %v", err)
	}
	backup, ok := ds.NamedGraph(exNS + "backup")
	if !ok {
		t.Fatal("Expected COPY to create the destination graph")
	}
	if backup.(*graph.MemoryGraph).Size() != 1 {
		t.Error("Expected the destination to hold the copied triple")
	}

	moveOp := &algebra.Update{Operations: []*algebra.UpdateOperation{{
		Kind: algebra.UpdateMove, Graph: ex("backup"), Destination: ex("archive"),
	}}}
	if err := p.ExecuteUpdate(moveOp); err != nil {
		t.Fatalf("MOVE failed: %v", err)
	}
	if ds.HasNamedGraph(exNS + "backup") {
		t.Error("Expected MOVE to drop the source graph")
	}
	archive, _ := ds.NamedGraph(exNS + "archive")
	if archive.(*graph.MemoryGraph).Size() != 1 {
		t.Error("Expected the archive to hold the moved triple")
	}
}

func TestUpdate_SequentialAbort(t *testing.T) {
	ds, g := memDataset()
	p := NewPlanBuilder(ds)

	u := &algebra.Update{Operations: []*algebra.UpdateOperation{
		{Kind: algebra.UpdateInsertData, Insert: []algebra.QuadPattern{
			quad(ex("a"), ex("p"), rdf.NewLiteral("v"), nil),
		}},
		{Kind: algebra.UpdateCreate}, // invalid: no graph IRI
		{Kind: algebra.UpdateInsertData, Insert: []algebra.QuadPattern{
			quad(ex("b"), ex("p"), rdf.NewLiteral("w"), nil),
		}},
	}}
	if err := p.ExecuteUpdate(u); err == nil {
		t.Fatal("Expected the failing operation to abort the request")
	}
	if g.Size() != 1 {
		t.Errorf("Expected only the first operation to have run, got %d triples", g.Size())
	}
}
