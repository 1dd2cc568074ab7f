// Package cache implements the BGP semantic cache: committed BGP results
// are reusable by later queries whose BGPs are supersets of a cached one.
// Writers stage mappings privately and race to commit; the first commit
// per key wins and later buffers are discarded.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

const (
	// DefaultMaxEntries bounds the number of committed entries
	DefaultMaxEntries = 500

	// DefaultMaxAge bounds the lifetime of a committed entry
	DefaultMaxAge = 20 * time.Minute
)

// entry is a committed BGP result
type entry struct {
	bgp        graph.BGP
	patternSet map[string]struct{}
	bindings   []*graph.Binding
	seq        int
}

// waitState tracks readers awaiting the first commit for a key
type waitState struct {
	done   chan struct{}
	result []*graph.Binding
	ok     bool
}

// SemanticCache is the default graph.BGPCache implementation: an LRU of
// committed entries with a max item count and max age, plus writer-private
// staging buffers keyed by (bgp, writer).
type SemanticCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *entry]
	staging map[string]map[string][]*graph.Binding
	waiters map[string]*waitState
	seq     int
}

var _ graph.BGPCache = (*SemanticCache)(nil)

// New creates a cache with the default capacity and age bounds
func New() *SemanticCache {
	return NewWithOptions(DefaultMaxEntries, DefaultMaxAge)
}

// NewWithOptions creates a cache with explicit bounds
func NewWithOptions(maxEntries int, maxAge time.Duration) *SemanticCache {
	return &SemanticCache{
		entries: expirable.NewLRU[string, *entry](maxEntries, nil, maxAge),
		staging: make(map[string]map[string][]*graph.Binding),
		waiters: make(map[string]*waitState),
	}
}

// Update appends a mapping to the writer's staging buffer. Once a
// committed entry exists for the BGP, updates are dropped.
func (c *SemanticCache) Update(bgp graph.BGP, mapping *graph.Binding, writerID string) {
	key := bgp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries.Contains(key) {
		return
	}
	buffers, ok := c.staging[key]
	if !ok {
		buffers = make(map[string][]*graph.Binding)
		c.staging[key] = buffers
	}
	buffers[writerID] = append(buffers[writerID], mapping)
	if _, ok := c.waiters[key]; !ok {
		c.waiters[key] = &waitState{done: make(chan struct{})}
	}
}

// Commit installs the writer's staging buffer as the canonical entry for
// the BGP. Only the first committer wins; late committers' buffers are
// silently discarded.
func (c *SemanticCache) Commit(bgp graph.BGP, writerID string) {
	key := bgp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	buffers := c.staging[key]
	buffer := buffers[writerID]
	delete(buffers, writerID)

	if c.entries.Contains(key) {
		// Lost the race: this writer's work is dropped
		if len(buffers) == 0 {
			delete(c.staging, key)
		}
		return
	}

	c.seq++
	c.entries.Add(key, &entry{
		bgp:        bgp,
		patternSet: patternSet(bgp.Patterns),
		bindings:   buffer,
		seq:        c.seq,
	})
	delete(c.staging, key)

	if ws, ok := c.waiters[key]; ok {
		ws.result = buffer
		ws.ok = true
		close(ws.done)
		delete(c.waiters, key)
	}
}

// Discard drops a writer's staging buffer without committing. When the
// last writer of an uncommitted key discards, pending readers fail.
func (c *SemanticCache) Discard(bgp graph.BGP, writerID string) {
	key := bgp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	buffers, ok := c.staging[key]
	if !ok {
		return
	}
	delete(buffers, writerID)
	if len(buffers) > 0 {
		return
	}
	delete(c.staging, key)
	if !c.entries.Contains(key) {
		c.failWaiters(key)
	}
}

// Get returns a future for the committed entry: the channel yields the
// bindings once some writer commits, or closes without a value when the
// key is discarded first. The second result is false when no writer has
// touched the BGP.
func (c *SemanticCache) Get(bgp graph.BGP) (<-chan []*graph.Binding, bool) {
	key := bgp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries.Get(key); ok {
		ch := make(chan []*graph.Binding, 1)
		ch <- e.bindings
		close(ch)
		return ch, true
	}

	ws, ok := c.waiters[key]
	if !ok {
		if _, staged := c.staging[key]; !staged {
			return nil, false
		}
		ws = &waitState{done: make(chan struct{})}
		c.waiters[key] = ws
	}

	ch := make(chan []*graph.Binding, 1)
	go func() {
		<-ws.done
		if ws.ok {
			ch <- ws.result
		}
		close(ch)
	}()
	return ch, true
}

// Has reports whether a committed entry exists for the BGP
func (c *SemanticCache) Has(bgp graph.BGP) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(bgp.Key())
}

// Count returns the number of committed entries
func (c *SemanticCache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Delete evicts a key: the committed entry is removed, staged buffers are
// discarded and pending readers fail
func (c *SemanticCache) Delete(bgp graph.BGP) {
	key := bgp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(key)
	delete(c.staging, key)
	c.failWaiters(key)
}

// failWaiters must be called with the lock held
func (c *SemanticCache) failWaiters(key string) {
	if ws, ok := c.waiters[key]; ok {
		close(ws.done)
		delete(c.waiters, key)
	}
}

// FindSubset returns the largest committed BGP whose pattern set is a
// subset of bgp's (same graph IRI) together with bgp's patterns not
// covered by it. Ties break towards the larger cached result, then the
// earlier committed entry.
func (c *SemanticCache) FindSubset(bgp graph.BGP) ([]algebra.TriplePattern, []algebra.TriplePattern) {
	target := patternSet(bgp.Patterns)

	c.mu.Lock()
	var best *entry
	for _, key := range c.entries.Keys() {
		e, ok := c.entries.Peek(key)
		if !ok || e.bgp.GraphIRI != bgp.GraphIRI {
			continue
		}
		if !isPatternSubset(e.patternSet, target) {
			continue
		}
		if best == nil || betterSubset(e, best) {
			best = e
		}
	}
	c.mu.Unlock()

	if best == nil {
		return nil, bgp.Patterns
	}

	// Touch recency for the reused entry
	c.mu.Lock()
	c.entries.Get(best.bgp.Key())
	c.mu.Unlock()

	var missing []algebra.TriplePattern
	for _, p := range bgp.Patterns {
		if _, covered := best.patternSet[p.Canonical()]; !covered {
			missing = append(missing, p)
		}
	}
	return best.bgp.Patterns, missing
}

func betterSubset(candidate, current *entry) bool {
	switch {
	case len(candidate.patternSet) != len(current.patternSet):
		return len(candidate.patternSet) > len(current.patternSet)
	case len(candidate.bindings) != len(current.bindings):
		return len(candidate.bindings) > len(current.bindings)
	default:
		return candidate.seq < current.seq
	}
}

func patternSet(patterns []algebra.TriplePattern) map[string]struct{} {
	set := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		set[p.Canonical()] = struct{}{}
	}
	return set
}

func isPatternSubset(sub, super map[string]struct{}) bool {
	if len(sub) > len(super) {
		return false
	}
	for key := range sub {
		if _, ok := super[key]; !ok {
			return false
		}
	}
	return true
}
