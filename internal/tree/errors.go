package tree

import (
	"errors"
	"fmt"
	"strings"
)

// Structural error kinds. Every load failure that is about the shape of the
// collection (rather than a single malformed note) wraps one of these.
var (
	ErrMissingID               = errors.New("missing id")
	ErrMissingParentReference  = errors.New("missing parent reference")
	ErrMissingSiblingReference = errors.New("missing sibling reference")
	ErrDuplicateID             = errors.New("duplicate id")
	ErrMissingNote             = errors.New("missing note")
	ErrInconsistentParentIDs   = errors.New("inconsistent parent ids")
	ErrConflictingSiblingIDs   = errors.New("conflicting sibling ids")
	ErrSiblingCycle            = errors.New("sibling cycle")
	ErrParentCycle             = errors.New("parent cycle")

	ErrInvalidNode     = errors.New("invalid node")
	ErrInvalidPosition = errors.New("invalid position")
)

// StructureError reports a corrupt collection.
type StructureError struct {
	Kind error
	// Record is the zero-based index of the offending record in the input,
	// or -1 when no single record is to blame.
	Record int
	// ID is the offending note's id when known.
	ID     *int64
	Detail string
}

func (e *StructureError) Error() string {
	var b strings.Builder
	b.WriteString("tree: ")
	b.WriteString(e.Kind.Error())
	switch {
	case e.Record >= 0 && e.ID != nil:
		fmt.Fprintf(&b, " (record %d, id %d)", e.Record, *e.ID)
	case e.Record >= 0:
		fmt.Fprintf(&b, " (record %d)", e.Record)
	case e.ID != nil:
		fmt.Fprintf(&b, " (id %d)", *e.ID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *StructureError) Unwrap() error { return e.Kind }

// IsStructural reports whether err describes a corrupt collection.
func IsStructural(err error) bool {
	var se *StructureError
	return errors.As(err, &se)
}
