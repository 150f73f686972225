package analysis

import (
	"fmt"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

// MergedField is the group of same-response-key field nodes that execute
// together for one concrete object type.
type MergedField struct {
	ResponseKey     string
	Fields          []*language.Field
	ObjectType      *schema.Type
	FieldDefinition *schema.Field
}

// Vertex is one field selection instance in the dependency tree.
type Vertex struct {
	ID int

	// ResponseKey, Fields, ObjectType and FieldDefinition are zero for the
	// sentinel root.
	ResponseKey     string
	Fields          []*language.Field
	ObjectType      *schema.Type
	FieldDefinition *schema.Field

	// FieldType is the named type of FieldDefinition.Type after removing
	// list and non-null wrappers.
	FieldType *schema.Type

	DependsOn  *Vertex
	DependOnMe []*Vertex
}

// IsRoot reports whether v is the sentinel root vertex.
func (v *Vertex) IsRoot() bool { return v.FieldDefinition == nil }

// String renders the vertex as "<ObjectType>.<responseKey>: <DeclaredType>",
// or "ROOT" for the sentinel root.
func (v *Vertex) String() string {
	if v.IsRoot() {
		return "ROOT"
	}
	return fmt.Sprintf("%s.%s: %s", v.ObjectType.Name, v.ResponseKey, v.FieldDefinition.Type)
}

// Edge states that From can only be resolved once To has been. Conditional
// edges only hold when To resolves to From's object type at runtime.
type Edge struct {
	From        *Vertex
	To          *Vertex
	Conditional bool
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

// isConditional reports whether child's dependency on parent only holds for
// some runtime types of parent's field.
func isConditional(parent, child *Vertex) bool {
	if parent.FieldDefinition == nil {
		return false
	}
	return parent.FieldType != child.ObjectType
}
