package graph

import (
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// Binding is a solution mapping: a finite map from variable names to RDF
// terms. Values are never variables; the only non-data value that may
// appear is the Unbound sentinel. Bindings carry an opaque property bag
// used by stages to pipe evaluator state (notably grouped-row term lists).
//
// Operators clone a binding before mutating it; a binding handed
// downstream is never written to again by the producer.
type Binding struct {
	vars  map[string]rdf.Term
	props map[string]any
}

// NewBinding creates an empty solution mapping
func NewBinding() *Binding {
	return &Binding{vars: make(map[string]rdf.Term)}
}

// BindingFromMap creates a solution mapping from a variable→term map
func BindingFromMap(vars map[string]rdf.Term) *Binding {
	b := NewBinding()
	for name, term := range vars {
		b.vars[name] = term
	}
	return b
}

// Get returns the term bound to a variable name
func (b *Binding) Get(name string) (rdf.Term, bool) {
	t, ok := b.vars[name]
	return t, ok
}

// Has reports whether the variable is in the mapping's domain
func (b *Binding) Has(name string) bool {
	_, ok := b.vars[name]
	return ok
}

// Set binds a variable name to a term
func (b *Binding) Set(name string, term rdf.Term) {
	b.vars[name] = term
}

// Delete removes a variable from the domain
func (b *Binding) Delete(name string) {
	delete(b.vars, name)
}

// Size returns the number of bound variables
func (b *Binding) Size() int {
	return len(b.vars)
}

// Variables returns the bound variable names in sorted order
func (b *Binding) Variables() []string {
	names := make([]string, 0, len(b.vars))
	for name := range b.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForEach visits every (variable, term) pair
func (b *Binding) ForEach(f func(name string, term rdf.Term)) {
	for name, term := range b.vars {
		f(name, term)
	}
}

// Property reads a value from the property bag
func (b *Binding) Property(key string) (any, bool) {
	if b.props == nil {
		return nil, false
	}
	v, ok := b.props[key]
	return v, ok
}

// SetProperty stores a value in the property bag
func (b *Binding) SetProperty(key string, value any) {
	if b.props == nil {
		b.props = make(map[string]any)
	}
	b.props[key] = value
}

// Clone creates a copy of the binding, sharing terms but not the maps
func (b *Binding) Clone() *Binding {
	clone := &Binding{vars: make(map[string]rdf.Term, len(b.vars))}
	for name, term := range b.vars {
		clone.vars[name] = term
	}
	if b.props != nil {
		clone.props = make(map[string]any, len(b.props))
		for key, value := range b.props {
			clone.props[key] = value
		}
	}
	return clone
}

// Union merges two bindings into a new one. On a conflicting variable the
// right operand overwrites. Property bags are merged the same way.
func (b *Binding) Union(other *Binding) *Binding {
	merged := b.Clone()
	for name, term := range other.vars {
		merged.vars[name] = term
	}
	if other.props != nil {
		for key, value := range other.props {
			merged.SetProperty(key, value)
		}
	}
	return merged
}

// Merge joins two bindings if they are compatible: every shared variable
// must be bound to an equal term. Returns nil when incompatible.
func (b *Binding) Merge(other *Binding) *Binding {
	for name, term := range other.vars {
		if existing, ok := b.vars[name]; ok && !existing.Equals(term) {
			return nil
		}
	}
	return b.Union(other)
}

// Equals reports whether two bindings have the same domain and pointwise
// equal terms
func (b *Binding) Equals(other *Binding) bool {
	if len(b.vars) != len(other.vars) {
		return false
	}
	for name, term := range b.vars {
		otherTerm, ok := other.vars[name]
		if !ok || !term.Equals(otherTerm) {
			return false
		}
	}
	return true
}

// IsSubset reports whether every pair of b also appears in other
func (b *Binding) IsSubset(other *Binding) bool {
	for name, term := range b.vars {
		otherTerm, ok := other.vars[name]
		if !ok || !term.Equals(otherTerm) {
			return false
		}
	}
	return true
}

// Intersection keeps the pairs present in both bindings
func (b *Binding) Intersection(other *Binding) *Binding {
	out := NewBinding()
	for name, term := range b.vars {
		if otherTerm, ok := other.vars[name]; ok && term.Equals(otherTerm) {
			out.vars[name] = term
		}
	}
	return out
}

// Difference keeps the pairs of b that do not appear in other
func (b *Binding) Difference(other *Binding) *Binding {
	out := NewBinding()
	for name, term := range b.vars {
		if otherTerm, ok := other.vars[name]; !ok || !term.Equals(otherTerm) {
			out.vars[name] = term
		}
	}
	return out
}

// Bound substitutes every variable of the triple pattern that is in the
// mapping's domain with its term. The Unbound sentinel never substitutes.
func (b *Binding) Bound(tp algebra.TriplePattern) algebra.TriplePattern {
	out := tp
	out.Subject = b.boundTerm(tp.Subject)
	if tp.Path == nil {
		out.Predicate = b.boundTerm(tp.Predicate)
	}
	out.Object = b.boundTerm(tp.Object)
	return out
}

func (b *Binding) boundTerm(t rdf.Term) rdf.Term {
	v, ok := t.(*rdf.Variable)
	if !ok {
		return t
	}
	bound, ok := b.vars[v.Name]
	if !ok || bound.Type() == rdf.TermTypeUnbound {
		return t
	}
	return bound
}

// Key returns a canonical string signature of the mapping, suitable for
// deduplication. Two equal bindings have the same key.
func (b *Binding) Key() string {
	names := b.Variables()
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(name)
		sb.WriteString("=")
		sb.WriteString(rdf.CanonicalTerm(b.vars[name]))
		sb.WriteString(";")
	}
	return sb.String()
}

// Hash returns a 64-bit hash of the canonical signature
func (b *Binding) Hash() uint64 {
	return xxh3.HashString(b.Key())
}
