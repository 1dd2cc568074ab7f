package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aleksaelezovic/sparq/internal/storage"
	"github.com/aleksaelezovic/sparq/pkg/graph"
	"github.com/aleksaelezovic/sparq/pkg/pipeline"
	"github.com/aleksaelezovic/sparq/pkg/rdf"
	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
	"github.com/aleksaelezovic/sparq/pkg/sparql/executor"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: sparq <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  demo        - Run a demo query over sample data")
		fmt.Println("  demo-badger - Run the demo against a persistent BadgerDB graph")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		runDemo(graph.NewMemoryGraph())
	case "demo-badger":
		dbPath := "./sparq_data"
		fmt.Printf("Opening database at: %s\n", dbPath)
		g, err := storage.Open(dbPath)
		if err != nil {
			log.Fatalf("Failed to open storage: %v", err)
		}
		defer func() {
			if err := g.Close(); err != nil {
				log.Printf("Failed to close storage: %v", err)
			}
		}()
		runDemo(g)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func runDemo(g graph.Graph) {
	fmt.Println("=== sparq SPARQL engine demo ===")
	fmt.Println()

	dataset := graph.NewDataset(g, func(string) graph.Graph { return graph.NewMemoryGraph() })

	// Insert sample data
	fmt.Println("Inserting sample data...")

	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	carol := rdf.NewNamedNode("http://example.org/carol")

	knows := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/knows")
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	age := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/age")

	triples := []*rdf.Triple{
		rdf.NewTriple(alice, name, rdf.NewLiteral("Alice")),
		rdf.NewTriple(alice, age, rdf.NewIntegerLiteral(30)),
		rdf.NewTriple(alice, knows, bob),
		rdf.NewTriple(bob, name, rdf.NewLiteral("Bob")),
		rdf.NewTriple(bob, age, rdf.NewIntegerLiteral(35)),
		rdf.NewTriple(bob, knows, carol),
		rdf.NewTriple(carol, name, rdf.NewLiteral("Carol")),
	}
	for _, t := range triples {
		if err := g.Insert(t); err != nil {
			log.Fatalf("Failed to insert triple: %v", err)
		}
	}
	fmt.Printf("Inserted %d triples\n", len(triples))
	fmt.Println()

	builder := executor.NewPlanBuilder(dataset)
	builder.UseCache()

	// Who does Alice transitively know?
	fmt.Println("Query: people Alice reaches via foaf:knows+")
	q := algebra.NewQuery(algebra.QuerySelect)
	q.Variables = []algebra.SelectItem{
		{Variable: rdf.NewVariable("person")},
		{Variable: rdf.NewVariable("name")},
	}
	q.Where = []algebra.Pattern{&algebra.BGP{Triples: []algebra.TriplePattern{
		{Subject: alice, Path: algebra.OneOrMore(algebra.Link(knows.IRI)), Object: rdf.NewVariable("person")},
		{Subject: rdf.NewVariable("person"), Predicate: name, Object: rdf.NewVariable("name")},
	}}}

	res, err := builder.Build(q)
	if err != nil {
		log.Fatalf("Failed to build query: %v", err)
	}
	solutions := res.(*executor.Solutions)
	err = pipeline.ForEach(solutions.Iter, func(b *graph.Binding) error {
		person, _ := b.Get("person")
		personName, _ := b.Get("name")
		fmt.Printf("  %s %s\n", person, personName)
		return nil
	})
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Println()
	fmt.Println("Done.")
}
