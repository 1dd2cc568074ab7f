package graph

import "github.com/aleksaelezovic/sparq/pkg/rdf"

// ExecutionContext is the per-query bag of evaluation state. A fresh
// context is derived per build; stages treat it as write-once.
type ExecutionContext struct {
	// DefaultGraphs holds the FROM graph IRIs; empty means the dataset's
	// default graph
	DefaultGraphs []string

	// NamedGraphs holds the FROM NAMED graph IRIs; empty means all named
	// graphs of the dataset
	NamedGraphs []string

	// Hints collects query hints extracted from magic triples inside BGPs
	Hints map[string]rdf.Term

	// Prefixes carries the query's prefix map
	Prefixes map[string]string

	// Cache is the semantic cache in effect, nil when caching is disabled
	Cache BGPCache

	// HasLimitOffset records that the enclosing query carries LIMIT or
	// OFFSET; it disables cache reads and writes
	HasLimitOffset bool

	// ForceIndexJoin disables the bound-join strategy even for capable
	// graphs
	ForceIndexJoin bool

	// AutoCreateGraphs permits resolving a variable FROM graph to a
	// freshly created named graph via the dataset factory
	AutoCreateGraphs bool
}

// NewExecutionContext creates an empty context
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		Hints:    make(map[string]rdf.Term),
		Prefixes: make(map[string]string),
	}
}

// Clone copies the context. Hint and prefix maps are shared: hints merged
// by a nested scope are deliberately visible query-wide.
func (c *ExecutionContext) Clone() *ExecutionContext {
	clone := *c
	clone.DefaultGraphs = append([]string(nil), c.DefaultGraphs...)
	clone.NamedGraphs = append([]string(nil), c.NamedGraphs...)
	return &clone
}

// SetHint merges one hint into the context
func (c *ExecutionContext) SetHint(name string, value rdf.Term) {
	if c.Hints == nil {
		c.Hints = make(map[string]rdf.Term)
	}
	c.Hints[name] = value
}
