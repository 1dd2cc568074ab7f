package rdf

import (
	"testing"
)

// ===== NamedNode Tests =====

func TestNamedNode_Type(t *testing.T) {
	node := NewNamedNode("http://example.org/resource")
	if node.Type() != TermTypeNamedNode {
		t.Errorf("Expected TermTypeNamedNode, got %v", node.Type())
	}
}

func TestNamedNode_String(t *testing.T) {
	node := NewNamedNode("http://example.org/resource")
	expected := "<http://example.org/resource>"
	if node.String() != expected {
		t.Errorf("Expected %s, got %s", expected, node.String())
	}
}

func TestNamedNode_Equals(t *testing.T) {
	node1 := NewNamedNode("http://example.org/resource")
	node2 := NewNamedNode("http://example.org/resource")
	node3 := NewNamedNode("http://example.org/different")

	if !node1.Equals(node2) {
		t.Error("Expected equal NamedNodes to be equal")
	}

	if node1.Equals(node3) {
		t.Error("Expected different NamedNodes to not be equal")
	}

	literal := NewLiteral("test")
	if node1.Equals(literal) {
		t.Error("NamedNode should not equal Literal")
	}
}

// ===== BlankNode Tests =====

func TestBlankNode_String(t *testing.T) {
	node := NewBlankNode("b1")
	expected := "_:b1"
	if node.String() != expected {
		t.Errorf("Expected %s, got %s", expected, node.String())
	}
}

func TestBlankNode_Equals(t *testing.T) {
	node1 := NewBlankNode("b1")
	node2 := NewBlankNode("b1")
	node3 := NewBlankNode("b2")

	if !node1.Equals(node2) {
		t.Error("Expected equal BlankNodes to be equal")
	}

	if node1.Equals(node3) {
		t.Error("Expected different BlankNodes to not be equal")
	}
}

// ===== Literal Tests =====

func TestLiteral_String(t *testing.T) {
	tests := []struct {
		name     string
		literal  *Literal
		expected string
	}{
		{"plain", NewLiteral("hello"), `"hello"`},
		{"language-tagged", NewLiteralWithLanguage("hello", "en"), `"hello"@en`},
		{"typed", NewIntegerLiteral(42), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"boolean", NewBooleanLiteral(true), `"true"^^<http://www.w3.org/2001/XMLSchema#boolean>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.literal.String(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestLiteral_Equals(t *testing.T) {
	lit1 := NewLiteralWithLanguage("hello", "en")
	lit2 := NewLiteralWithLanguage("hello", "en")
	lit3 := NewLiteralWithLanguage("hello", "fr")
	lit4 := NewLiteral("hello")

	if !lit1.Equals(lit2) {
		t.Error("Expected equal literals to be equal")
	}
	if lit1.Equals(lit3) {
		t.Error("Expected literals with different languages to not be equal")
	}
	if lit1.Equals(lit4) {
		t.Error("Expected language-tagged literal to not equal plain literal")
	}
}

// ===== Variable Tests =====

func TestVariable_String(t *testing.T) {
	v := NewVariable("s")
	if v.String() != "?s" {
		t.Errorf("Expected ?s, got %s", v.String())
	}
}

func TestVariable_Equals(t *testing.T) {
	v1 := NewVariable("s")
	v2 := NewVariable("s")
	v3 := NewVariable("o")

	if !v1.Equals(v2) {
		t.Error("Expected variables with same name to be equal")
	}
	if v1.Equals(v3) {
		t.Error("Expected variables with different names to not be equal")
	}
}

func TestIsVariable(t *testing.T) {
	if !IsVariable(NewVariable("x")) {
		t.Error("Expected IsVariable to report true for a variable")
	}
	if IsVariable(NewNamedNode("http://example.org/x")) {
		t.Error("Expected IsVariable to report false for a named node")
	}
	if IsVariable(nil) {
		t.Error("Expected IsVariable to report false for nil")
	}
}

// ===== Unbound Tests =====

func TestUnbound(t *testing.T) {
	if UnboundValue.String() != `"UNBOUND"` {
		t.Errorf("Expected \"UNBOUND\", got %s", UnboundValue.String())
	}
	if !UnboundValue.Equals(&Unbound{}) {
		t.Error("Expected unbound sentinels to be equal")
	}
	if UnboundValue.Equals(NewLiteral("UNBOUND")) {
		t.Error("Unbound sentinel should not equal a plain literal")
	}
}

// ===== Canonical Serialization Tests =====

func TestCanonicalTerm(t *testing.T) {
	tests := []struct {
		name     string
		term     Term
		expected string
	}{
		{"iri", NewNamedNode("http://example.org/a"), "<http://example.org/a>"},
		{"blank", NewBlankNode("b0"), "_:b0"},
		{"plain literal", NewLiteral("hi"), `"hi"`},
		{"string datatype omitted", NewLiteralWithDatatype("hi", XSDString), `"hi"`},
		{"lang lowered", NewLiteralWithLanguage("hi", "EN"), `"hi"@en`},
		{"escape", NewLiteral("a\"b\nc"), `"a\"b\nc"`},
		{"integer", NewIntegerLiteral(7), `"7"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"variable", NewVariable("x"), "?x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalTerm(tt.term); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
