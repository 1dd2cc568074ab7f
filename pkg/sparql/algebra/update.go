package algebra

import "github.com/aleksaelezovic/sparq/pkg/rdf"

// UpdateKind identifies an update operation
type UpdateKind string

const (
	UpdateInsertData UpdateKind = "insertdata"
	UpdateDeleteData UpdateKind = "deletedata"
	UpdateModify     UpdateKind = "modify" // DELETE/INSERT ... WHERE
	UpdateLoad       UpdateKind = "load"
	UpdateCreate     UpdateKind = "create"
	UpdateDrop       UpdateKind = "drop"
	UpdateClear      UpdateKind = "clear"
	UpdateCopy       UpdateKind = "copy"
	UpdateMove       UpdateKind = "move"
	UpdateAdd        UpdateKind = "add"
)

// QuadPattern is a triple pattern with an optional target graph. A nil
// Graph addresses the default graph.
type QuadPattern struct {
	TriplePattern
	Graph rdf.Term
}

// UpdateOperation is one operation of an update request
type UpdateOperation struct {
	Kind UpdateKind

	// insertdata / deletedata / modify
	Insert []QuadPattern
	Delete []QuadPattern
	Where  []Pattern
	Using  DatasetClause

	// load
	Source string
	// load / add / copy / move destination, create / drop / clear target.
	// A nil term addresses the default graph.
	Graph       rdf.Term
	Destination rdf.Term

	Silent bool
}

// Update is a parsed update request: operations execute sequentially
type Update struct {
	Operations []*UpdateOperation
	Prefixes   map[string]string
}
