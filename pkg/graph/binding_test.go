package graph

import (
	"testing"

	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

func namedNode(iri string) *rdf.NamedNode { return rdf.NewNamedNode(iri) }

func TestBinding_SetGet(t *testing.T) {
	b := NewBinding()
	b.Set("s", namedNode("http://example.org/a"))

	term, ok := b.Get("s")
	if !ok {
		t.Fatal("Expected variable s to be bound")
	}
	if !term.Equals(namedNode("http://example.org/a")) {
		t.Errorf("Unexpected term: %v", term)
	}
	if b.Has("o") {
		t.Error("Expected variable o to be unbound")
	}
}

func TestBinding_CloneIsIndependent(t *testing.T) {
	b := NewBinding()
	b.Set("s", namedNode("http://example.org/a"))
	b.SetProperty("__aggregate", map[string][]rdf.Term{})

	clone := b.Clone()
	clone.Set("s", namedNode("http://example.org/b"))
	clone.Set("o", rdf.NewLiteral("x"))

	if term, _ := b.Get("s"); !term.Equals(namedNode("http://example.org/a")) {
		t.Error("Clone mutation leaked into the original")
	}
	if b.Has("o") {
		t.Error("Clone mutation leaked into the original domain")
	}
	if _, ok := clone.Property("__aggregate"); !ok {
		t.Error("Expected property bag to be cloned")
	}
}

func TestBinding_UnionRightOverwrites(t *testing.T) {
	left := NewBinding()
	left.Set("x", rdf.NewLiteral("left"))
	left.Set("y", rdf.NewLiteral("only-left"))

	right := NewBinding()
	right.Set("x", rdf.NewLiteral("right"))

	merged := left.Union(right)
	if term, _ := merged.Get("x"); !term.Equals(rdf.NewLiteral("right")) {
		t.Errorf("Expected right operand to overwrite, got %v", term)
	}
	if term, _ := merged.Get("y"); !term.Equals(rdf.NewLiteral("only-left")) {
		t.Errorf("Expected left-only variable to survive, got %v", term)
	}
}

func TestBinding_MergeIncompatible(t *testing.T) {
	left := NewBinding()
	left.Set("x", rdf.NewLiteral("a"))
	right := NewBinding()
	right.Set("x", rdf.NewLiteral("b"))

	if left.Merge(right) != nil {
		t.Error("Expected incompatible merge to return nil")
	}

	right2 := NewBinding()
	right2.Set("x", rdf.NewLiteral("a"))
	right2.Set("y", rdf.NewLiteral("c"))
	merged := left.Merge(right2)
	if merged == nil || !merged.Has("y") {
		t.Error("Expected compatible merge to extend the binding")
	}
}

func TestBinding_SetAlgebra(t *testing.T) {
	a := NewBinding()
	a.Set("x", rdf.NewLiteral("1"))
	a.Set("y", rdf.NewLiteral("2"))

	b := NewBinding()
	b.Set("x", rdf.NewLiteral("1"))

	if !b.IsSubset(a) {
		t.Error("Expected {x} to be a subset of {x,y}")
	}
	if a.IsSubset(b) {
		t.Error("Expected {x,y} not to be a subset of {x}")
	}

	inter := a.Intersection(b)
	if inter.Size() != 1 || !inter.Has("x") {
		t.Errorf("Unexpected intersection: %v", inter.Variables())
	}

	diff := a.Difference(b)
	if diff.Size() != 1 || !diff.Has("y") {
		t.Errorf("Unexpected difference: %v", diff.Variables())
	}
}

func TestBinding_Equals(t *testing.T) {
	a := NewBinding()
	a.Set("x", rdf.NewIntegerLiteral(1))
	b := NewBinding()
	b.Set("x", rdf.NewIntegerLiteral(1))

	if !a.Equals(b) {
		t.Error("Expected equal bindings")
	}
	b.Set("y", rdf.NewIntegerLiteral(2))
	if a.Equals(b) {
		t.Error("Expected different domains to not be equal")
	}
}

func TestBinding_Bound(t *testing.T) {
	b := NewBinding()
	b.Set("s", namedNode("http://example.org/a"))

	tp := algebra.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewVariable("p"),
		Object:    rdf.NewVariable("o"),
	}
	bound := b.Bound(tp)
	if !bound.Subject.Equals(namedNode("http://example.org/a")) {
		t.Error("Expected subject variable to be substituted")
	}
	if !rdf.IsVariable(bound.Predicate) || !rdf.IsVariable(bound.Object) {
		t.Error("Expected unbound positions to stay variables")
	}
}

func TestBinding_BoundSkipsUnboundSentinel(t *testing.T) {
	b := NewBinding()
	b.Set("s", rdf.UnboundValue)

	tp := algebra.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: namedNode("http://example.org/p"),
		Object:    rdf.NewVariable("o"),
	}
	bound := b.Bound(tp)
	if !rdf.IsVariable(bound.Subject) {
		t.Error("Expected Unbound sentinel to not substitute into patterns")
	}
}

func TestBinding_KeyStable(t *testing.T) {
	a := NewBinding()
	a.Set("y", rdf.NewLiteral("2"))
	a.Set("x", rdf.NewLiteral("1"))

	b := NewBinding()
	b.Set("x", rdf.NewLiteral("1"))
	b.Set("y", rdf.NewLiteral("2"))

	if a.Key() != b.Key() {
		t.Errorf("Expected insertion order to not affect the key: %q vs %q", a.Key(), b.Key())
	}
	if a.Hash() != b.Hash() {
		t.Error("Expected equal bindings to hash equally")
	}
}
