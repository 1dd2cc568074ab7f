package executor

import (
	"strconv"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// pathSymbol is one automaton position: a single-step edge traversal,
// forward or inverse, by one predicate or by anything outside a negated
// predicate set
type pathSymbol struct {
	inverse   bool
	negated   bool
	iri       string
	forbidden map[string]bool
}

// glushkov is the position automaton of a property path: state i
// corresponds to symbol position i; the start state is implicit (position
// -1 in evalAutomaton)
type glushkov struct {
	symbols  []pathSymbol
	nullable bool
	first    []int
	last     map[int]bool
	follow   map[int][]int
}

// fragment carries the Glushkov attributes of a subexpression
type fragment struct {
	nullable bool
	first    []int
	last     []int
}

// compilePath builds the Glushkov automaton of a property path
func compilePath(p *algebra.PropertyPath) *glushkov {
	g := &glushkov{last: make(map[int]bool), follow: make(map[int][]int)}
	frag := g.build(normalizePath(p, false))
	g.nullable = frag.nullable
	g.first = frag.first
	for _, pos := range frag.last {
		g.last[pos] = true
	}
	return g
}

// normalizePath pushes inversion down to the links, so the automaton
// builder only sees Inv directly around PathLink
func normalizePath(p *algebra.PropertyPath, inverse bool) *algebra.PropertyPath {
	switch p.Op {
	case algebra.PathLink:
		if inverse {
			return algebra.Inv(p)
		}
		return p
	case algebra.PathInv:
		return normalizePath(p.Children[0], !inverse)
	case algebra.PathSeq:
		children := make([]*algebra.PropertyPath, len(p.Children))
		if inverse {
			for i, child := range p.Children {
				children[len(children)-1-i] = normalizePath(child, true)
			}
		} else {
			for i, child := range p.Children {
				children[i] = normalizePath(child, false)
			}
		}
		return &algebra.PropertyPath{Op: algebra.PathSeq, Children: children}
	case algebra.PathAlt, algebra.PathNeg:
		children := make([]*algebra.PropertyPath, len(p.Children))
		for i, child := range p.Children {
			children[i] = normalizePath(child, inverse)
		}
		return &algebra.PropertyPath{Op: p.Op, Children: children}
	default: // closures
		return &algebra.PropertyPath{Op: p.Op, Children: []*algebra.PropertyPath{normalizePath(p.Children[0], inverse)}}
	}
}

func (g *glushkov) addSymbol(sym pathSymbol) fragment {
	pos := len(g.symbols)
	g.symbols = append(g.symbols, sym)
	return fragment{first: []int{pos}, last: []int{pos}}
}

func (g *glushkov) build(p *algebra.PropertyPath) fragment {
	switch p.Op {
	case algebra.PathLink:
		return g.addSymbol(pathSymbol{iri: p.IRI.IRI})

	case algebra.PathInv:
		// normalized: child is a link
		return g.addSymbol(pathSymbol{iri: p.Children[0].IRI.IRI, inverse: true})

	case algebra.PathNeg:
		forward := make(map[string]bool)
		backward := make(map[string]bool)
		hasForward, hasBackward := false, false
		for _, child := range p.Children {
			if child.Op == algebra.PathInv {
				backward[child.Children[0].IRI.IRI] = true
				hasBackward = true
			} else {
				forward[child.IRI.IRI] = true
				hasForward = true
			}
		}
		var frags []fragment
		if hasForward || !hasBackward {
			frags = append(frags, g.addSymbol(pathSymbol{negated: true, forbidden: forward}))
		}
		if hasBackward {
			frags = append(frags, g.addSymbol(pathSymbol{negated: true, inverse: true, forbidden: backward}))
		}
		return g.alternate(frags)

	case algebra.PathSeq:
		frag := g.build(p.Children[0])
		for _, child := range p.Children[1:] {
			next := g.build(child)
			for _, l := range frag.last {
				g.follow[l] = append(g.follow[l], next.first...)
			}
			merged := fragment{nullable: frag.nullable && next.nullable}
			merged.first = append(merged.first, frag.first...)
			if frag.nullable {
				merged.first = append(merged.first, next.first...)
			}
			merged.last = append(merged.last, next.last...)
			if next.nullable {
				merged.last = append(merged.last, frag.last...)
			}
			frag = merged
		}
		return frag

	case algebra.PathAlt:
		frags := make([]fragment, len(p.Children))
		for i, child := range p.Children {
			frags[i] = g.build(child)
		}
		return g.alternate(frags)

	case algebra.PathZeroOrMore:
		frag := g.build(p.Children[0])
		g.loop(frag)
		frag.nullable = true
		return frag

	case algebra.PathOneOrMore:
		frag := g.build(p.Children[0])
		g.loop(frag)
		return frag

	case algebra.PathZeroOrOne:
		frag := g.build(p.Children[0])
		frag.nullable = true
		return frag

	default:
		return fragment{}
	}
}

func (g *glushkov) alternate(frags []fragment) fragment {
	var out fragment
	for _, f := range frags {
		out.nullable = out.nullable || f.nullable
		out.first = append(out.first, f.first...)
		out.last = append(out.last, f.last...)
	}
	return out
}

func (g *glushkov) loop(frag fragment) {
	for _, l := range frag.last {
		g.follow[l] = append(g.follow[l], frag.first...)
	}
}

// reversePath returns a path matching y→x exactly when the original
// matches x→y; used to evaluate paths with only the object bound
func reversePath(p *algebra.PropertyPath) *algebra.PropertyPath {
	switch p.Op {
	case algebra.PathLink:
		return algebra.Inv(p)
	case algebra.PathInv:
		return p.Children[0]
	case algebra.PathSeq:
		children := make([]*algebra.PropertyPath, len(p.Children))
		for i, child := range p.Children {
			children[len(children)-1-i] = reversePath(child)
		}
		return &algebra.PropertyPath{Op: algebra.PathSeq, Children: children}
	case algebra.PathAlt, algebra.PathNeg:
		children := make([]*algebra.PropertyPath, len(p.Children))
		for i, child := range p.Children {
			children[i] = reversePath(child)
		}
		return &algebra.PropertyPath{Op: p.Op, Children: children}
	default:
		return &algebra.PropertyPath{Op: p.Op, Children: []*algebra.PropertyPath{reversePath(p.Children[0])}}
	}
}

// pathJoin evaluates one property-path triple as a join stage
func pathJoin(ctx *graph.ExecutionContext, source BindingIter, g graph.Graph, tp algebra.TriplePattern) BindingIter {
	forward := compilePath(tp.Path)
	backward := compilePath(reversePath(tp.Path))

	return pipeline.FlatMap(source, func(b *graph.Binding) BindingIter {
		bound := b.Bound(tp)
		subjVar, subjFree := bound.Subject.(*rdf.Variable)
		objVar, objFree := bound.Object.(*rdf.Variable)

		switch {
		case !subjFree:
			ends := evalAutomaton(ctx, g, forward, bound.Subject)
			if !objFree {
				for _, end := range ends {
					if end.Equals(bound.Object) {
						return pipeline.Of(b.Clone())
					}
				}
				return pipeline.Empty[*graph.Binding]()
			}
			return bindEndpoints(b, objVar.Name, ends)

		case !objFree:
			starts := evalAutomaton(ctx, g, backward, bound.Object)
			return bindEndpoints(b, subjVar.Name, starts)

		default:
			var out []*graph.Binding
			for _, start := range graphTerms(ctx, g) {
				for _, end := range evalAutomaton(ctx, g, forward, start) {
					merged := b.Clone()
					merged.Set(subjVar.Name, start)
					if subjVar.Name == objVar.Name {
						if !end.Equals(start) {
							continue
						}
					} else {
						merged.Set(objVar.Name, end)
					}
					out = append(out, merged)
				}
			}
			return pipeline.From(out)
		}
	})
}

func bindEndpoints(b *graph.Binding, name string, ends []rdf.Term) BindingIter {
	out := make([]*graph.Binding, 0, len(ends))
	for _, end := range ends {
		merged := b.Clone()
		merged.Set(name, end)
		out = append(out, merged)
	}
	return pipeline.From(out)
}

// evalAutomaton runs the automaton from one source node, alternating
// state advancement with single-step lookups. The visited set over
// (node, state) pairs bounds transitive operators on cyclic graphs.
func evalAutomaton(ctx *graph.ExecutionContext, g graph.Graph, a *glushkov, start rdf.Term) []rdf.Term {
	type state struct {
		term rdf.Term
		pos  int // -1 is the start state
	}

	visited := map[string]bool{}
	key := func(s state) string {
		return rdf.CanonicalTerm(s.term) + "\x00" + strconv.Itoa(s.pos)
	}

	var ends []rdf.Term
	endSeen := map[string]bool{}
	accept := func(t rdf.Term) {
		c := rdf.CanonicalTerm(t)
		if !endSeen[c] {
			endSeen[c] = true
			ends = append(ends, t)
		}
	}

	queue := []state{{term: start, pos: -1}}
	visited[key(queue[0])] = true
	if a.nullable {
		accept(start)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var targets []int
		if cur.pos < 0 {
			targets = a.first
		} else {
			targets = a.follow[cur.pos]
		}
		for _, pos := range targets {
			for _, next := range pathStep(ctx, g, cur.term, a.symbols[pos]) {
				s := state{term: next, pos: pos}
				k := key(s)
				if visited[k] {
					continue
				}
				visited[k] = true
				if a.last[pos] {
					accept(next)
				}
				queue = append(queue, s)
			}
		}
	}
	return ends
}

// pathStep performs one edge traversal for a symbol
func pathStep(ctx *graph.ExecutionContext, g graph.Graph, from rdf.Term, sym pathSymbol) []rdf.Term {
	var pattern algebra.TriplePattern
	pick := func(t *rdf.Triple) rdf.Term {
		if sym.inverse {
			return t.Subject
		}
		return t.Object
	}

	pred := rdf.Term(rdf.NewVariable("__path_p"))
	if !sym.negated {
		pred = rdf.NewNamedNode(sym.iri)
	}
	if sym.inverse {
		pattern = algebra.TriplePattern{Subject: rdf.NewVariable("__path_n"), Predicate: pred, Object: from}
	} else {
		pattern = algebra.TriplePattern{Subject: from, Predicate: pred, Object: rdf.NewVariable("__path_n")}
	}

	var out []rdf.Term
	_ = pipeline.ForEach(g.Find(ctx, pattern), func(t *rdf.Triple) error {
		if sym.negated {
			if nn, ok := t.Predicate.(*rdf.NamedNode); !ok || sym.forbidden[nn.IRI] {
				return nil
			}
		}
		out = append(out, pick(t))
		return nil
	})
	return out
}

// graphTerms enumerates the distinct subjects and objects of the graph,
// the candidate sources when both path endpoints are free
func graphTerms(ctx *graph.ExecutionContext, g graph.Graph) []rdf.Term {
	seen := map[string]bool{}
	var out []rdf.Term
	all := algebra.TriplePattern{
		Subject:   rdf.NewVariable("s"),
		Predicate: rdf.NewVariable("p"),
		Object:    rdf.NewVariable("o"),
	}
	_ = pipeline.ForEach(g.Find(ctx, all), func(t *rdf.Triple) error {
		for _, term := range []rdf.Term{t.Subject, t.Object} {
			c := rdf.CanonicalTerm(term)
			if !seen[c] {
				seen[c] = true
				out = append(out, term)
			}
		}
		return nil
	})
	return out
}
