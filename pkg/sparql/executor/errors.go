package executor

import (
	"errors"
	"fmt"

	"github.com/aleksaelezovic/sparq/pkg/sparql/algebra"
)

// ErrParse is wrapped around failures of the injected query parser, and
// wrapped with a "no parser injected" note when query text is given
// without a parser
var ErrParse = errors.New("parse error")

// UnsupportedQueryTypeError is raised for query forms the builder does
// not understand
type UnsupportedQueryTypeError struct {
	Type algebra.QueryType
}

func (e *UnsupportedQueryTypeError) Error() string {
	return fmt.Sprintf("unsupported query type %s", e.Type)
}

// UnsupportedPatternError is raised for unknown algebra nodes
type UnsupportedPatternError struct {
	Kind algebra.PatternKind
}

func (e *UnsupportedPatternError) Error() string {
	return fmt.Sprintf("unsupported pattern type %q", string(e.Kind))
}

// MissingStageError is raised when a known pattern kind has no registered
// stage builder
type MissingStageError struct {
	Kind algebra.PatternKind
}

func (e *MissingStageError) Error() string {
	return fmt.Sprintf("no stage registered for pattern type %q", string(e.Kind))
}
