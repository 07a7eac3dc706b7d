// Package domain holds the canonical identifier/text normalization rules and the
// value types (ThoughtBranch, ThoughtCommit, MergeRecord) whose invariants must hold
// before a row ever reaches the store. Nothing in this package touches storage.
package domain

import "fmt"

// ViolationKind enumerates the ways a field can fail normalization.
type ViolationKind int

const (
	EmptyField ViolationKind = iota
	FieldTooLong
	InvalidFirstChar
	InvalidChar
	SameValue
	NegativeTimestamp
	TimestampOrder
	ContainsNul
)

// ValidationError is a typed, field-level domain invariant failure.
type ValidationError struct {
	Kind    ViolationKind
	Field   string
	OtherField string // SameValue, TimestampOrder
	MaxLen  int       // FieldTooLong
	Char    rune      // InvalidChar
	Index   int       // InvalidChar
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case EmptyField:
		return fmt.Sprintf("field %q must not be empty", e.Field)
	case FieldTooLong:
		return fmt.Sprintf("field %q is too long (max=%d)", e.Field, e.MaxLen)
	case InvalidFirstChar:
		return fmt.Sprintf("field %q must start with [a-z0-9]", e.Field)
	case InvalidChar:
		return fmt.Sprintf("field %q has invalid char %q at index %d", e.Field, e.Char, e.Index)
	case SameValue:
		return fmt.Sprintf("fields %q and %q must differ", e.Field, e.OtherField)
	case NegativeTimestamp:
		return fmt.Sprintf("field %q must be >= 0", e.Field)
	case TimestampOrder:
		return fmt.Sprintf("field %q must be >= %q", e.OtherField, e.Field)
	case ContainsNul:
		return fmt.Sprintf("field %q must not contain NUL bytes", e.Field)
	default:
		return "invalid field"
	}
}
