package analysis

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

func TestCoerceVariableValues_InputObjectValidation(t *testing.T) {
	sch := schema.NewSchema("")

	input := schema.NewType("FilterInput", schema.TypeKindInputObject, "")
	input.AddInputField(schema.NewInputValue("required", "", schema.NonNullType(schema.NamedType("String"))))
	input.AddInputField(schema.NewInputValue("optional", "", schema.NamedType("Int")))
	sch.AddType(input)

	defs := language.VariableDefinitionList{
		&ast.VariableDefinition{
			Variable: "input",
			Type:     &ast.Type{NamedType: "FilterInput", NonNull: true},
		},
	}

	_, err := DefaultCoercer{}.CoerceVariableValues(sch, defs, map[string]any{
		"input": map[string]any{
			"optional": 10,
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required field 'required'")

	_, err = DefaultCoercer{}.CoerceVariableValues(sch, defs, map[string]any{
		"input": map[string]any{"required": "x", "other": 1},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown field 'other'")
}

func TestCoerceVariableValues_ScalarTypeMismatch(t *testing.T) {
	sch := schema.NewSchema("")

	defs := language.VariableDefinitionList{
		&ast.VariableDefinition{
			Variable: "count",
			Type:     &ast.Type{NamedType: "Int", NonNull: true},
		},
	}

	_, err := DefaultCoercer{}.CoerceVariableValues(sch, defs, map[string]any{
		"count": "42",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot coerce")
}

// Pattern: Result comparison
func TestCoerceVariableValues_Result(t *testing.T) {
	sch := mustBuildSchema(t, `
type Query { dog: Dog }
type Dog { name: String }
enum Color { RED GREEN }
input Filter {
	color: Color = RED
	tags: [String!]
	limit: Int!
}
`)
	doc := mustParseQuery(t, `query Q(
		$count: Int
		$ratio: Float
		$id: ID
		$flag: Boolean = true
		$color: Color
		$filter: Filter
		$names: [String]
		$absent: String
	) { dog { name } }`)
	defs := doc.Operations[0].VariableDefinitions

	got, err := DefaultCoercer{}.CoerceVariableValues(sch, defs, map[string]any{
		"count":  float64(3),
		"ratio":  2,
		"id":     7,
		"color":  "GREEN",
		"filter": map[string]any{"tags": []any{"a", "b"}, "limit": float64(10)},
		"names":  "solo",
	})
	require.NoError(t, err)

	want := map[string]any{
		"count":  3,
		"ratio":  float64(2),
		"id":     "7",
		"flag":   true,
		"color":  "GREEN",
		"filter": map[string]any{"color": "RED", "tags": []any{"a", "b"}, "limit": 10},
		"names":  []any{"solo"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("coerced values mismatch (-want +got):\n%s", diff)
	}
}

func TestCoerceVariableValues_Errors(t *testing.T) {
	sch := mustBuildSchema(t, `
type Query { dog: Dog }
type Dog { name: String }
enum Color { RED GREEN }
input Choice @oneOf { a: Int b: String }
`)

	tests := []struct {
		name     string
		query    string
		vars     map[string]any
		contains string
	}{
		{"missing required", `query ($n: Int!) { dog { name } }`, nil, "was not provided"},
		{"null for non-null", `query ($n: Int!) { dog { name } }`, map[string]any{"n": nil}, "cannot be null"},
		{"fractional int", `query ($n: Int) { dog { name } }`, map[string]any{"n": 1.5}, "cannot coerce"},
		{"unknown enum value", `query ($c: Color) { dog { name } }`, map[string]any{"c": "BLUE"}, "no such value"},
		{"list item", `query ($l: [Int!]) { dog { name } }`, map[string]any{"l": []any{1, nil}}, "[1]"},
		{"oneOf with two fields", `query ($c: Choice) { dog { name } }`, map[string]any{"c": map[string]any{"a": 1, "b": "x"}}, "exactly one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := mustParseQuery(t, tt.query).Operations[0].VariableDefinitions
			_, err := DefaultCoercer{}.CoerceVariableValues(sch, defs, tt.vars)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValueFromASTWithVars(t *testing.T) {
	doc := mustParseQuery(t, `query ($v: Int) { a(x: $v, y: [1, 2.5, "s", true, null, RED], z: {k: 1}) }`)
	args := doc.Operations[0].SelectionSet[0].(*language.Field).Arguments

	require.Equal(t, 9, valueFromASTWithVars(args.ForName("x").Value, map[string]any{"v": 9}))
	require.Nil(t, valueFromASTWithVars(args.ForName("x").Value, nil))
	require.Equal(t, []any{1, 2.5, "s", true, nil, "RED"}, valueFromASTWithVars(args.ForName("y").Value, nil))
	require.Equal(t, map[string]any{"k": 1}, valueFromASTWithVars(args.ForName("z").Value, nil))
}
