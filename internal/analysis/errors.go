package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrNoOperation          = errors.New("no operation found")
	ErrMultipleOperations   = errors.New("more than one operation found")
	ErrUnknownFragment      = errors.New("unknown fragment")
	ErrInvalidTypeCondition = errors.New("invalid type condition")
	ErrMissingQueryType     = errors.New("schema has no query type")
	ErrUnsupportedOperation = errors.New("only query operations can be analyzed")
)

// ValidationError reports that the document does not validate against the
// schema. Err is the first error reported by the validator.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// StructuralError reports a document shape the analysis cannot work with.
// Kind is one of the Err* sentinels and matches with errors.Is.
type StructuralError struct {
	Kind   error
	Detail string
}

func (e *StructuralError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *StructuralError) Unwrap() error { return e.Kind }

func structuralf(kind error, format string, args ...any) *StructuralError {
	return &StructuralError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// InvariantViolation reports a state that a validated document over a
// consistent schema cannot produce.
type InvariantViolation struct {
	Message string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Message }

func invariantf(format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Message: fmt.Sprintf(format, args...)}
}

// CoercionError is returned in strict variable mode when the raw variables
// cannot be coerced.
type CoercionError struct {
	Err error
}

func (e *CoercionError) Error() string { return "coerce variables: " + e.Err.Error() }

func (e *CoercionError) Unwrap() error { return e.Err }
