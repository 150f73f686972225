package analysis

import (
	"github.com/go-logr/logr"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

// Analyzer builds field dependency trees for documents written against one
// schema. It holds no per-call state and is safe for concurrent use.
type Analyzer struct {
	schema          *schema.Schema
	validator       Validator
	coercer         Coercer
	logger          logr.Logger
	strictVariables bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger used for swallowed coercion errors (V(0)) and
// per-call summaries (V(1)).
func WithLogger(l logr.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithValidator replaces the default document validator.
func WithValidator(v Validator) Option {
	return func(a *Analyzer) {
		if v != nil {
			a.validator = v
		}
	}
}

// WithCoercer replaces the default variable coercer.
func WithCoercer(c Coercer) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.coercer = c
		}
	}
}

// WithStrictVariables makes variable coercion failures fail the analysis
// with a *CoercionError instead of continuing without variables.
func WithStrictVariables() Option {
	return func(a *Analyzer) { a.strictVariables = true }
}

// New returns an Analyzer for sch.
func New(sch *schema.Schema, opts ...Option) *Analyzer {
	a := &Analyzer{
		schema:    sch,
		validator: GQLValidator{},
		coercer:   DefaultCoercer{},
		logger:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze builds the dependency tree of doc's single operation against sch
// with the default collaborators.
func Analyze(doc *language.QueryDocument, sch *schema.Schema, rawVariables map[string]any, validate bool) (*Vertex, error) {
	return New(sch).Analyze(doc, rawVariables, validate)
}

// builder carries the state of one Analyze call.
type builder struct {
	schema    *schema.Schema
	fragments map[string]*language.FragmentDefinition
	variables map[string]any
	nextID    int
}

type stackEntry struct {
	field  *MergedField
	parent *Vertex
}

// Analyze builds the dependency tree of doc's single operation and returns
// its sentinel root. When validate is set, the document is checked first and
// the first validation error is returned as a *ValidationError.
func (a *Analyzer) Analyze(doc *language.QueryDocument, rawVariables map[string]any, validate bool) (*Vertex, error) {
	if validate {
		if errs := a.validator.Validate(a.schema, doc); len(errs) > 0 {
			return nil, &ValidationError{Err: errs[0]}
		}
	}

	switch len(doc.Operations) {
	case 0:
		return nil, &StructuralError{Kind: ErrNoOperation}
	case 1:
	default:
		return nil, structuralf(ErrMultipleOperations, "document has %d operations", len(doc.Operations))
	}
	operation := doc.Operations[0]
	if operation.Operation != language.Query {
		return nil, structuralf(ErrUnsupportedOperation, "operation %q is a %s", operation.Name, operation.Operation)
	}

	b := &builder{
		schema:    a.schema,
		fragments: make(map[string]*language.FragmentDefinition, len(doc.Fragments)),
	}
	for _, fragment := range doc.Fragments {
		b.fragments[fragment.Name] = fragment
	}

	variables, err := a.coercer.CoerceVariableValues(a.schema, operation.VariableDefinitions, rawVariables)
	if err != nil {
		if a.strictVariables {
			return nil, &CoercionError{Err: err}
		}
		a.logger.Info("ignoring variables that failed coercion", "operation", operation.Name, "error", err.Error())
		variables = map[string]any{}
	}
	b.variables = variables

	queryType := a.schema.GetQueryType()
	if queryType == nil {
		return nil, &StructuralError{Kind: ErrMissingQueryType}
	}

	root, err := b.build(operation, queryType)
	if err != nil {
		return nil, err
	}
	a.logger.V(1).Info("analyzed operation", "operation", operation.Name, "vertices", b.nextID)
	return root, nil
}

// build expands the operation depth-first with an explicit stack. Children
// are pushed in collection order and therefore expanded last-first.
func (b *builder) build(operation *language.OperationDefinition, queryType *schema.Type) (*Vertex, error) {
	rootFields, err := b.collectFields(operation.SelectionSet, []*schema.Type{queryType}, queryType)
	if err != nil {
		return nil, err
	}

	root := &Vertex{ID: b.nextID}
	b.nextID++

	stack := make([]stackEntry, 0, len(rootFields.groups))
	for _, mf := range rootFields.toList() {
		stack = append(stack, stackEntry{field: mf, parent: root})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		v, err := b.newVertex(top.field, top.parent)
		if err != nil {
			return nil, err
		}
		children, err := b.collectSubfields(v)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			stack = append(stack, stackEntry{field: child, parent: v})
		}
	}
	return root, nil
}

func (b *builder) newVertex(mf *MergedField, parent *Vertex) (*Vertex, error) {
	named := mf.FieldDefinition.Type.GetNamedType()
	fieldType := b.schema.GetType(named)
	if fieldType == nil {
		return nil, invariantf("type %q of field %s.%s is not in the schema", named, mf.ObjectType.Name, mf.FieldDefinition.Name)
	}
	v := &Vertex{
		ID:              b.nextID,
		ResponseKey:     mf.ResponseKey,
		Fields:          mf.Fields,
		ObjectType:      mf.ObjectType,
		FieldDefinition: mf.FieldDefinition,
		FieldType:       fieldType,
		DependsOn:       parent,
	}
	b.nextID++
	parent.DependOnMe = append(parent.DependOnMe, v)
	return v, nil
}
