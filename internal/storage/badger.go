// Package storage provides the persistent Graph backend over BadgerDB.
// Triples are stored under SPO, POS and OSP index keys built from a
// 128-bit xxh3 term dictionary, so any single-position lookup is a prefix
// scan on one index.
package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// Table prefixes partition the keyspace
const (
	tableDict byte = 'd'
	tableSPO  byte = 's'
	tablePOS  byte = 'p'
	tableOSP  byte = 'o'
)

const termIDSize = 16

type termID [termIDSize]byte

// BadgerGraph is a persistent graph.Graph
type BadgerGraph struct {
	db *badger.DB
}

// Open creates or opens a badger-backed graph at the given path
func Open(path string) (*BadgerGraph, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerGraph{db: db}, nil
}

// OpenInMemory opens an ephemeral badger-backed graph, used by tests
func OpenInMemory() (*BadgerGraph, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerGraph{db: db}, nil
}

// Close closes the underlying database
func (g *BadgerGraph) Close() error {
	return g.db.Close()
}

// hashTerm derives the dictionary ID of a term from its canonical form
func hashTerm(t rdf.Term) termID {
	h := xxh3.Hash128([]byte(rdf.CanonicalTerm(t)))
	var id termID
	binary.BigEndian.PutUint64(id[:8], h.Hi)
	binary.BigEndian.PutUint64(id[8:], h.Lo)
	return id
}

// Term encoding tags
const (
	tagNamedNode byte = iota + 1
	tagBlankNode
	tagLiteral
	tagLangLiteral
	tagTypedLiteral
)

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	n, size := binary.Uvarint(buf)
	if size <= 0 || uint64(len(buf)-size) < n {
		return "", nil, fmt.Errorf("corrupt term encoding")
	}
	return string(buf[size : size+int(n)]), buf[size+int(n):], nil
}

func encodeTerm(t rdf.Term) ([]byte, error) {
	switch term := t.(type) {
	case *rdf.NamedNode:
		return appendString([]byte{tagNamedNode}, term.IRI), nil
	case *rdf.BlankNode:
		return appendString([]byte{tagBlankNode}, term.ID), nil
	case *rdf.Literal:
		switch {
		case term.Language != "":
			buf := appendString([]byte{tagLangLiteral}, term.Value)
			return appendString(buf, term.Language), nil
		case term.Datatype != nil:
			buf := appendString([]byte{tagTypedLiteral}, term.Value)
			return appendString(buf, term.Datatype.IRI), nil
		default:
			return appendString([]byte{tagLiteral}, term.Value), nil
		}
	default:
		return nil, fmt.Errorf("cannot store term %s", t)
	}
}

func decodeTerm(buf []byte) (rdf.Term, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("empty term encoding")
	}
	tag := buf[0]
	first, rest, err := readString(buf[1:])
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNamedNode:
		return rdf.NewNamedNode(first), nil
	case tagBlankNode:
		return rdf.NewBlankNode(first), nil
	case tagLiteral:
		return rdf.NewLiteral(first), nil
	case tagLangLiteral:
		second, _, err := readString(rest)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithLanguage(first, second), nil
	case tagTypedLiteral:
		second, _, err := readString(rest)
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(first, rdf.NewNamedNode(second)), nil
	default:
		return nil, fmt.Errorf("unknown term tag %d", tag)
	}
}

// indexKey builds table + id1 + id2 + id3
func indexKey(table byte, ids ...termID) []byte {
	buf := make([]byte, 0, 1+len(ids)*termIDSize)
	buf = append(buf, table)
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func dictKey(id termID) []byte {
	return indexKey(tableDict, id)
}

func (g *BadgerGraph) Insert(t *rdf.Triple) error {
	sid, pid, oid := hashTerm(t.Subject), hashTerm(t.Predicate), hashTerm(t.Object)

	return g.db.Update(func(txn *badger.Txn) error {
		terms := []struct {
			id   termID
			term rdf.Term
		}{{sid, t.Subject}, {pid, t.Predicate}, {oid, t.Object}}
		for _, entry := range terms {
			encoded, err := encodeTerm(entry.term)
			if err != nil {
				return err
			}
			if err := txn.Set(dictKey(entry.id), encoded); err != nil {
				return err
			}
		}

		for _, key := range [][]byte{
			indexKey(tableSPO, sid, pid, oid),
			indexKey(tablePOS, pid, oid, sid),
			indexKey(tableOSP, oid, sid, pid),
		} {
			if err := txn.Set(key, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *BadgerGraph) Delete(t *rdf.Triple) error {
	sid, pid, oid := hashTerm(t.Subject), hashTerm(t.Predicate), hashTerm(t.Object)

	return g.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			indexKey(tableSPO, sid, pid, oid),
			indexKey(tablePOS, pid, oid, sid),
			indexKey(tableOSP, oid, sid, pid),
		} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *BadgerGraph) Clear() error {
	return g.db.DropAll()
}

// scanPlan describes one index scan: the table, the bound-position prefix
// and how key positions map back to subject/predicate/object
type scanPlan struct {
	table  byte
	prefix []byte
	// order maps key slot to triple position: 0=subject 1=predicate 2=object
	order [3]int
}

// planScan selects the index matching the pattern's bound positions
func planScan(pattern algebra.TriplePattern) scanPlan {
	sBound := isBound(pattern.Subject)
	pBound := isBound(pattern.Predicate)
	oBound := isBound(pattern.Object)

	switch {
	case sBound:
		ids := []termID{hashTerm(pattern.Subject)}
		if pBound {
			ids = append(ids, hashTerm(pattern.Predicate))
			if oBound {
				ids = append(ids, hashTerm(pattern.Object))
			}
		}
		return scanPlan{table: tableSPO, prefix: indexKey(tableSPO, ids...), order: [3]int{0, 1, 2}}
	case pBound:
		ids := []termID{hashTerm(pattern.Predicate)}
		if oBound {
			ids = append(ids, hashTerm(pattern.Object))
		}
		return scanPlan{table: tablePOS, prefix: indexKey(tablePOS, ids...), order: [3]int{1, 2, 0}}
	case oBound:
		return scanPlan{table: tableOSP, prefix: indexKey(tableOSP, hashTerm(pattern.Object)), order: [3]int{2, 0, 1}}
	default:
		return scanPlan{table: tableSPO, prefix: []byte{tableSPO}, order: [3]int{0, 1, 2}}
	}
}

func isBound(t rdf.Term) bool {
	return t != nil && !rdf.IsVariable(t)
}

// Find materializes the matching triples under one read transaction
func (g *BadgerGraph) Find(_ *graph.ExecutionContext, pattern algebra.TriplePattern) pipeline.Iterator[*rdf.Triple] {
	plan := planScan(pattern)

	var out []*rdf.Triple
	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = plan.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(plan.prefix); it.ValidForPrefix(plan.prefix); it.Next() {
			key := it.Item().Key()
			if len(key) != 1+3*termIDSize {
				continue
			}
			var positions [3]rdf.Term
			for slot := 0; slot < 3; slot++ {
				var id termID
				copy(id[:], key[1+slot*termIDSize:])
				term, err := g.lookupTerm(txn, id)
				if err != nil {
					return err
				}
				positions[plan.order[slot]] = term
			}
			t := rdf.NewTriple(positions[0], positions[1], positions[2])
			if _, ok := graph.MatchPattern(pattern, t); ok {
				out = append(out, t)
			}
		}
		return nil
	})
	if err != nil {
		return pipeline.Error[*rdf.Triple](err)
	}
	return pipeline.From(out)
}

func (g *BadgerGraph) lookupTerm(txn *badger.Txn, id termID) (rdf.Term, error) {
	item, err := txn.Get(dictKey(id))
	if err != nil {
		return nil, fmt.Errorf("dictionary lookup failed: %w", err)
	}
	var term rdf.Term
	err = item.Value(func(val []byte) error {
		var decodeErr error
		term, decodeErr = decodeTerm(val)
		return decodeErr
	})
	return term, err
}

// EstimateCardinality counts index keys under the pattern's prefix, capped
// to keep planning cheap
func (g *BadgerGraph) EstimateCardinality(pattern algebra.TriplePattern) (int, error) {
	const maxCount = 10000
	plan := planScan(pattern)

	count := 0
	err := g.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = plan.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(plan.prefix); it.ValidForPrefix(plan.prefix); it.Next() {
			if !bytes.HasPrefix(it.Item().Key(), plan.prefix) {
				break
			}
			count++
			if count >= maxCount {
				break
			}
		}
		return nil
	})
	return count, err
}

func (g *BadgerGraph) Capabilities() graph.Capability {
	return 0
}
