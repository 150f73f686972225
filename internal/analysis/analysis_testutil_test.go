package analysis

import (
	"fmt"
	"testing"

	language "github.com/hanpama/querydeps/internal/language"
	schema "github.com/hanpama/querydeps/internal/schema"
)

const petsSDL = `
type Query {
	dog: Dog
	cat: Cat
	animals: [Animal]
	pets: [CatOrDog]
}
union CatOrDog = Cat | Dog

interface Animal {
	name: String
}
type Dog implements Animal {
	name: String
	id: ID
}
type Cat implements Animal {
	name: String
}
`

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// mustBuildSchema loads SDL and fails the test on error.
func mustBuildSchema(t *testing.T, sdl string) *schema.Schema {
	t.Helper()
	s, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("schema error: %v", err)
	}
	return s
}

// mustAnalyze parses q and analyzes it with validation enabled.
func mustAnalyze(t *testing.T, sch *schema.Schema, q string) *Vertex {
	t.Helper()
	root, err := Analyze(mustParseQuery(t, q), sch, nil, true)
	if err != nil {
		t.Fatalf("analyze error: %v", err)
	}
	return root
}

func edgeStrings(edges []Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.String()
	}
	return out
}

func conditionalEdgeStrings(edges []Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = fmt.Sprintf("%s conditional: %t", e, e.Conditional)
	}
	return out
}

func newTestBuilder(sch *schema.Schema, doc *language.QueryDocument, variables map[string]any) *builder {
	b := &builder{
		schema:    sch,
		fragments: make(map[string]*language.FragmentDefinition),
		variables: variables,
	}
	for _, f := range doc.Fragments {
		b.fragments[f.Name] = f
	}
	return b
}
