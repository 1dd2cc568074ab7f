// Package algebra defines the SPARQL algebra tree consumed by the plan
// builder. An external parser produces these nodes; the engine never sees
// query text except to hand it to an injected parser.
package algebra

import (
	"strings"

	"github.com/aleksaelezovic/sparq/pkg/rdf"
)

// QueryType identifies the query form
type QueryType int

const (
	QuerySelect QueryType = iota + 1
	QueryConstruct
	QueryAsk
	QueryDescribe
)

func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "SELECT"
	case QueryConstruct:
		return "CONSTRUCT"
	case QueryAsk:
		return "ASK"
	case QueryDescribe:
		return "DESCRIBE"
	default:
		return "UNKNOWN"
	}
}

// PatternKind discriminates graph pattern nodes. The plan builder keys its
// stage registry on these values.
type PatternKind string

const (
	KindBGP      PatternKind = "bgp"
	KindGroup    PatternKind = "group"
	KindOptional PatternKind = "optional"
	KindUnion    PatternKind = "union"
	KindMinus    PatternKind = "minus"
	KindGraph    PatternKind = "graph"
	KindService  PatternKind = "service"
	KindFilter   PatternKind = "filter"
	KindBind     PatternKind = "bind"
	KindValues   PatternKind = "values"
)

// Pattern is a node of the WHERE clause tree
type Pattern interface {
	Kind() PatternKind
}

// TriplePattern is a triple whose positions may hold variables. When Path
// is non-nil the predicate is a property path and Predicate is ignored.
type TriplePattern struct {
	Subject   rdf.Term
	Predicate rdf.Term
	Path      *PropertyPath
	Object    rdf.Term
}

// Variables returns the names of the variables appearing in the pattern,
// in subject/predicate/object order, without duplicates.
func (tp TriplePattern) Variables() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(t rdf.Term) {
		if v, ok := t.(*rdf.Variable); ok && !seen[v.Name] {
			seen[v.Name] = true
			names = append(names, v.Name)
		}
	}
	add(tp.Subject)
	if tp.Path == nil {
		add(tp.Predicate)
	}
	add(tp.Object)
	return names
}

// Canonical returns a canonical string form of the pattern, usable as a
// structural equality and cache key.
func (tp TriplePattern) Canonical() string {
	var b strings.Builder
	b.WriteString(rdf.CanonicalTerm(tp.Subject))
	b.WriteString(" ")
	if tp.Path != nil {
		b.WriteString(tp.Path.String())
	} else {
		b.WriteString(rdf.CanonicalTerm(tp.Predicate))
	}
	b.WriteString(" ")
	b.WriteString(rdf.CanonicalTerm(tp.Object))
	return b.String()
}

// BGP is a basic graph pattern: an ordered conjunction of triple patterns
type BGP struct {
	Triples []TriplePattern
}

func (*BGP) Kind() PatternKind { return KindBGP }

// Group is a braced group of patterns evaluated as a join
type Group struct {
	Patterns []Pattern
}

func (*Group) Kind() PatternKind { return KindGroup }

// Optional is an OPTIONAL group (left outer join with its siblings)
type Optional struct {
	Patterns []Pattern
}

func (*Optional) Kind() PatternKind { return KindOptional }

// Union is a UNION over two or more branches
type Union struct {
	Branches [][]Pattern
}

func (*Union) Kind() PatternKind { return KindUnion }

// Minus is a MINUS group (anti-join on compatible mappings)
type Minus struct {
	Patterns []Pattern
}

func (*Minus) Kind() PatternKind { return KindMinus }

// GraphPattern scopes its body to a named graph. Name is a NamedNode or a
// Variable.
type GraphPattern struct {
	Name     rdf.Term
	Patterns []Pattern
}

func (*GraphPattern) Kind() PatternKind { return KindGraph }

// Service evaluates its body against a remote or locally registered
// endpoint. Name is a NamedNode or a Variable.
type Service struct {
	Name     rdf.Term
	Silent   bool
	Patterns []Pattern
}

func (*Service) Kind() PatternKind { return KindService }

// Filter keeps solutions for which the expression evaluates to true
type Filter struct {
	Expression *Expression
}

func (*Filter) Kind() PatternKind { return KindFilter }

// Bind extends solutions with a computed variable
type Bind struct {
	Variable   *rdf.Variable
	Expression *Expression
}

func (*Bind) Kind() PatternKind { return KindBind }

// Values is an inline VALUES block. Each row maps variable names to terms;
// an absent entry leaves the variable unbound for that row.
type Values struct {
	Variables []*rdf.Variable
	Rows      []map[string]rdf.Term
}

func (*Values) Kind() PatternKind { return KindValues }

// SelectItem is one projection entry: a plain variable or an
// expression-bound variable ((expr) AS ?v).
type SelectItem struct {
	Variable   *rdf.Variable
	Expression *Expression
}

// OrderCondition is one ORDER BY comparator
type OrderCondition struct {
	Expression *Expression
	Descending bool
}

// DatasetClause carries FROM / FROM NAMED graph IRIs
type DatasetClause struct {
	Default []string
	Named   []string
}

// Query is a parsed SPARQL query of any form
type Query struct {
	Type      QueryType
	Variables []SelectItem // SELECT projection; empty means SELECT *
	Where     []Pattern
	GroupBy   []SelectItem
	Having    []*Expression
	OrderBy   []OrderCondition
	Distinct  bool
	Reduced   bool
	Offset    int
	Limit     int // negative when absent
	From      DatasetClause
	Template  []TriplePattern // CONSTRUCT template
	Describe  []rdf.Term      // DESCRIBE resources (NamedNode or Variable)
	Prefixes  map[string]string
}

// NewQuery returns a query with modifier defaults applied
func NewQuery(t QueryType) *Query {
	return &Query{Type: t, Limit: -1}
}

// HasLimitOffset reports whether the query carries a LIMIT or OFFSET
// modifier. Presence of either disables BGP caching.
func (q *Query) HasLimitOffset() bool {
	return q.Limit >= 0 || q.Offset > 0
}
