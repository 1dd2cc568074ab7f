package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

func testBGP(predicates ...string) graph.BGP {
	patterns := make([]algebra.TriplePattern, len(predicates))
	for i, p := range predicates {
		patterns[i] = algebra.TriplePattern{
			Subject:   rdf.NewVariable("s"),
			Predicate: rdf.NewNamedNode("http://example.org/" + p),
			Object:    rdf.NewVariable("o" + p),
		}
	}
	return graph.BGP{Patterns: patterns}
}

func binding(name, value string) *graph.Binding {
	b := graph.NewBinding()
	b.Set(name, rdf.NewLiteral(value))
	return b
}

func TestCache_UpdateCommitGet(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "1"), "w1")
	c.Update(bgp, binding("s", "2"), "w1")

	if c.Has(bgp) {
		t.Error("Expected no committed entry before commit")
	}

	c.Commit(bgp, "w1")

	if !c.Has(bgp) {
		t.Fatal("Expected committed entry after commit")
	}
	if c.Count() != 1 {
		t.Errorf("Expected 1 entry, got %d", c.Count())
	}

	ch, ok := c.Get(bgp)
	if !ok {
		t.Fatal("Expected Get to find the entry")
	}
	bindings := <-ch
	if len(bindings) != 2 {
		t.Fatalf("Expected 2 mappings, got %d", len(bindings))
	}
	// Insertion order preserved
	if v, _ := bindings[0].Get("s"); !v.Equals(rdf.NewLiteral("1")) {
		t.Errorf("Expected first mapping s=1, got %v", v)
	}
}

func TestCache_GetUntouched(t *testing.T) {
	c := New()
	if _, ok := c.Get(testBGP("p")); ok {
		t.Error("Expected Get on an untouched BGP to report absence")
	}
}

func TestCache_FirstCommitterWins(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "first"), "w1")
	c.Update(bgp, binding("s", "late"), "w2")
	c.Update(bgp, binding("s", "late2"), "w2")

	c.Commit(bgp, "w1")
	c.Commit(bgp, "w2") // discarded

	ch, _ := c.Get(bgp)
	bindings := <-ch
	if len(bindings) != 1 {
		t.Fatalf("Expected the first committer's single mapping, got %d", len(bindings))
	}
	if v, _ := bindings[0].Get("s"); !v.Equals(rdf.NewLiteral("first")) {
		t.Errorf("Expected s=first, got %v", v)
	}
}

func TestCache_UpdateAfterCommitDropped(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "1"), "w1")
	c.Commit(bgp, "w1")
	c.Update(bgp, binding("s", "2"), "w2")
	c.Commit(bgp, "w2")

	ch, _ := c.Get(bgp)
	if bindings := <-ch; len(bindings) != 1 {
		t.Errorf("Expected late updates to be dropped, got %d mappings", len(bindings))
	}
}

func TestCache_GetAwaitsCommit(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "1"), "w1")

	ch, ok := c.Get(bgp)
	if !ok {
		t.Fatal("Expected a pending future once a writer touched the BGP")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got []*graph.Binding
	go func() {
		defer wg.Done()
		got = <-ch
	}()

	c.Commit(bgp, "w1")
	wg.Wait()

	if len(got) != 1 {
		t.Fatalf("Expected 1 mapping from the resolved future, got %d", len(got))
	}
}

func TestCache_DeleteFailsPendingGets(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "1"), "w1")
	ch, _ := c.Get(bgp)

	c.Delete(bgp)

	select {
	case bindings, open := <-ch:
		if open && bindings != nil {
			t.Error("Expected the future to fail without a value")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the pending future to resolve on Delete")
	}

	if c.Has(bgp) {
		t.Error("Expected key to be gone after Delete")
	}
	// Staged buffers were discarded: a late commit installs an empty entry,
	// not the stale buffer
	c.Commit(bgp, "w1")
	ch2, _ := c.Get(bgp)
	if bindings := <-ch2; len(bindings) != 0 {
		t.Errorf("Expected discarded staging to stay discarded, got %d mappings", len(bindings))
	}
}

func TestCache_DiscardLastWriterFailsWaiters(t *testing.T) {
	c := New()
	bgp := testBGP("p")

	c.Update(bgp, binding("s", "1"), "w1")
	ch, _ := c.Get(bgp)

	c.Discard(bgp, "w1")

	select {
	case _, open := <-ch:
		if open {
			t.Error("Expected the future channel to close without a value")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the pending future to resolve on Discard")
	}
}

func TestCache_FindSubset(t *testing.T) {
	c := New()
	small := testBGP("p")
	large := testBGP("p", "q", "r")

	c.Update(small, binding("s", "1"), "w")
	c.Commit(small, "w")

	subset, missing := c.FindSubset(large)
	if len(subset) != 1 {
		t.Fatalf("Expected a 1-pattern subset, got %d", len(subset))
	}
	if len(missing) != 2 {
		t.Fatalf("Expected 2 missing patterns, got %d", len(missing))
	}
}

func TestCache_FindSubsetPrefersLargest(t *testing.T) {
	c := New()
	one := testBGP("p")
	two := testBGP("p", "q")
	three := testBGP("p", "q", "r")

	c.Commit(one, "w")
	c.Commit(two, "w")

	subset, missing := c.FindSubset(three)
	if len(subset) != 2 {
		t.Fatalf("Expected the 2-pattern subset to win, got %d patterns", len(subset))
	}
	if len(missing) != 1 {
		t.Errorf("Expected 1 missing pattern, got %d", len(missing))
	}
}

func TestCache_FindSubsetNone(t *testing.T) {
	c := New()
	c.Commit(testBGP("x"), "w")

	target := testBGP("p", "q")
	subset, missing := c.FindSubset(target)
	if len(subset) != 0 {
		t.Errorf("Expected no subset, got %d patterns", len(subset))
	}
	if len(missing) != 2 {
		t.Errorf("Expected all patterns missing, got %d", len(missing))
	}
}

func TestCache_FindSubsetGraphIRIMustMatch(t *testing.T) {
	c := New()
	named := testBGP("p")
	named.GraphIRI = "http://example.org/g"
	c.Commit(named, "w")

	subset, _ := c.FindSubset(testBGP("p", "q"))
	if len(subset) != 0 {
		t.Error("Expected subset matching to be scoped by graph IRI")
	}
}

func TestCache_PatternOrderIrrelevant(t *testing.T) {
	c := New()
	a := testBGP("p", "q")
	b := graph.BGP{Patterns: []algebra.TriplePattern{a.Patterns[1], a.Patterns[0]}}

	c.Update(a, binding("s", "1"), "w")
	c.Commit(a, "w")

	if !c.Has(b) {
		t.Error("Expected pattern order to not affect key equality")
	}
}

func TestCache_EvictionByCount(t *testing.T) {
	c := NewWithOptions(2, time.Minute)

	c.Commit(testBGP("a"), "w")
	c.Commit(testBGP("b"), "w")
	c.Commit(testBGP("c"), "w")

	if c.Count() != 2 {
		t.Errorf("Expected LRU to hold 2 entries, got %d", c.Count())
	}
	if c.Has(testBGP("a")) {
		t.Error("Expected the oldest entry to be evicted")
	}
}
