package algebra

import (
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/rdf"
)

// PathOp is a property path constructor
type PathOp int

const (
	// PathLink is a single predicate IRI
	PathLink PathOp = iota + 1
	// PathInv inverts its single child (^p)
	PathInv
	// PathSeq chains children left to right (p1 / p2)
	PathSeq
	// PathAlt accepts any child (p1 | p2)
	PathAlt
	// PathZeroOrMore is Kleene star (p*)
	PathZeroOrMore
	// PathOneOrMore is transitive closure (p+)
	PathOneOrMore
	// PathZeroOrOne is optional (p?)
	PathZeroOrOne
	// PathNeg is a negated property set (!(p1 | ^p2 | ...)); children are
	// PathLink or PathInv-of-PathLink nodes
	PathNeg
)

// PropertyPath is a SPARQL 1.1 property path expression
type PropertyPath struct {
	Op       PathOp
	IRI      *rdf.NamedNode // PathLink only
	Children []*PropertyPath
}

// Link builds a single-predicate path
func Link(iri string) *PropertyPath {
	return &PropertyPath{Op: PathLink, IRI: rdf.NewNamedNode(iri)}
}

// Inv builds an inverse path
func Inv(p *PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathInv, Children: []*PropertyPath{p}}
}

// Seq builds a sequence path
func Seq(parts ...*PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathSeq, Children: parts}
}

// Alt builds an alternative path
func Alt(parts ...*PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathAlt, Children: parts}
}

// ZeroOrMore builds p*
func ZeroOrMore(p *PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathZeroOrMore, Children: []*PropertyPath{p}}
}

// OneOrMore builds p+
func OneOrMore(p *PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathOneOrMore, Children: []*PropertyPath{p}}
}

// ZeroOrOne builds p?
func ZeroOrOne(p *PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathZeroOrOne, Children: []*PropertyPath{p}}
}

// Neg builds a negated property set
func Neg(parts ...*PropertyPath) *PropertyPath {
	return &PropertyPath{Op: PathNeg, Children: parts}
}

func (p *PropertyPath) String() string {
	switch p.Op {
	case PathLink:
		return p.IRI.String()
	case PathInv:
		return "^" + p.Children[0].String()
	case PathSeq:
		return "(" + joinPaths(p.Children, "/") + ")"
	case PathAlt:
		return "(" + joinPaths(p.Children, "|") + ")"
	case PathZeroOrMore:
		return p.Children[0].String() + "*"
	case PathOneOrMore:
		return p.Children[0].String() + "+"
	case PathZeroOrOne:
		return p.Children[0].String() + "?"
	case PathNeg:
		return "!(" + joinPaths(p.Children, "|") + ")"
	default:
		return ""
	}
}

func joinPaths(parts []*PropertyPath, sep string) string {
	strs := make([]string, len(parts))
	for i, part := range parts {
		strs[i] = part.String()
	}
	return strings.Join(strs, sep)
}
