package language

import (
	"errors"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadTypeSystem parses and validates SDL, merging in the built-in scalars,
// directives and introspection types.
func LoadTypeSystem(name, source string) (*TypeSystem, error) {
	ts, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// Validate runs the standard query validation rules. It also resolves the
// definitions referenced by the document's selections.
func Validate(ts *TypeSystem, doc *QueryDocument) ErrorList {
	return validator.ValidateWithRules(ts, doc, nil)
}

// AsError converts err into a GraphQL error, keeping locations when err
// wraps one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *gqlerror.Error
	if errors.As(err, &ge) {
		return ge
	}
	return gqlerror.Wrap(err)
}
