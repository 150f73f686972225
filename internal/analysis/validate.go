package analysis

import (
	"errors"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

// Validator checks a document against a schema and reports every problem
// found. An empty result means the document is valid.
type Validator interface {
	Validate(sch *schema.Schema, doc *language.QueryDocument) []error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(sch *schema.Schema, doc *language.QueryDocument) []error

func (f ValidatorFunc) Validate(sch *schema.Schema, doc *language.QueryDocument) []error {
	return f(sch, doc)
}

var errNoTypeSystem = errors.New("schema was not loaded from SDL and cannot validate documents")

// GQLValidator runs the standard GraphQL validation rules against the type
// system the schema was loaded from. Validation annotates doc with resolved
// definitions, so a document shared between goroutines should be validated
// once up front.
type GQLValidator struct{}

func (GQLValidator) Validate(sch *schema.Schema, doc *language.QueryDocument) []error {
	ts := sch.Source()
	if ts == nil {
		return []error{errNoTypeSystem}
	}
	list := language.Validate(ts, doc)
	if len(list) == 0 {
		return nil
	}
	errs := make([]error, len(list))
	for i, e := range list {
		errs[i] = e
	}
	return errs
}
