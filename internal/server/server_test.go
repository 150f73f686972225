package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	analysis "github.com/hanpama/querydeps/internal/analysis"
	eventbus "github.com/hanpama/querydeps/internal/eventbus"
	events "github.com/hanpama/querydeps/internal/events"
	reqid "github.com/hanpama/querydeps/internal/reqid"
	schema "github.com/hanpama/querydeps/internal/schema"
)

const testSDL = `
type Query {
	dog: Dog
	animals: [Animal]
}
interface Animal { name: String }
type Dog implements Animal { name: String }
type Cat implements Animal { name: String }
`

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.BuildFromSDL(testSDL)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	h, err := New(analysis.New(sch), opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/analyze", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func intp(i int) *int { return &i }

// Pattern: Result comparison
func TestAnalyze_Single(t *testing.T) {
	h := newTestHandler(t)
	w := postJSON(t, h, `{"query":"{ dog { name } }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.DocumentHash, 16)
	got.DocumentHash = ""

	want := AnalyzeResponse{
		Vertices: []VertexJSON{
			{ID: 0, Name: "ROOT"},
			{ID: 1, Name: "Query.dog: Dog", DependsOn: intp(0)},
			{ID: 2, Name: "Dog.name: String", DependsOn: intp(1)},
		},
		Edges: []EdgeJSON{
			{From: 1, To: 0},
			{From: 2, To: 1},
		},
		Order:  []int{0, 1, 2},
		Stages: [][]int{{1}, {2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Get(t *testing.T) {
	h := newTestHandler(t)
	q := url.Values{}
	q.Set("query", `query Q($n: Boolean!) { animals { name @include(if: $n) } }`)
	q.Set("variables", `{"n": true}`)
	q.Set("validate", "true")
	req := httptest.NewRequest("GET", "/analyze?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got AnalyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Vertices, 4)
	conditional := 0
	for _, e := range got.Edges {
		if e.Conditional {
			conditional++
		}
	}
	require.Equal(t, 2, conditional)
}

func TestAnalyze_Errors(t *testing.T) {
	h := newTestHandler(t)

	tests := []struct {
		name     string
		body     string
		status   int
		contains string
	}{
		{"invalid json", `{`, http.StatusBadRequest, "invalid JSON"},
		{"missing query", `{}`, http.StatusBadRequest, "missing 'query'"},
		{"empty batch", `[]`, http.StatusBadRequest, "empty batch"},
		{"syntax error", `{"query":"{ dog { "}`, http.StatusUnprocessableEntity, "Expected"},
		{"validation error", `{"query":"{ dog { bark } }"}`, http.StatusUnprocessableEntity, "bark"},
		{"multiple operations", `{"query":"query A { dog { name } } query B { dog { name } }","validate":false}`, http.StatusUnprocessableEntity, "more than one operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h, tt.body)
			require.Equal(t, tt.status, w.Code)

			var res errorResult
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			require.Len(t, res.Errors, 1)
			require.Contains(t, res.Errors[0].Message, tt.contains)
		})
	}

	t.Run("validation error keeps locations", func(t *testing.T) {
		w := postJSON(t, h, `{"query":"{ dog { bark } }"}`)
		var res errorResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Equal(t, []errorLocation{{Line: 1, Column: 9}}, res.Errors[0].Locations)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("DELETE", "/analyze", nil))
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestAnalyze_Batch(t *testing.T) {
	h := newTestHandler(t, WithBatchConcurrency(2))
	w := postJSON(t, h, `[
		{"query":"{ dog { name } }"},
		{"query":"{ dog { bark } }"},
		{"query":"{ animals { name } }"}
	]`)
	require.Equal(t, http.StatusOK, w.Code)

	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw, 3)

	var first, third AnalyzeResponse
	require.NoError(t, json.Unmarshal(raw[0], &first))
	require.NoError(t, json.Unmarshal(raw[2], &third))
	require.Len(t, first.Vertices, 3)
	require.Len(t, third.Vertices, 4)

	var second errorResult
	require.NoError(t, json.Unmarshal(raw[1], &second))
	require.Contains(t, second.Errors[0].Message, "bark")
}

func TestValidateDefault(t *testing.T) {
	h := newTestHandler(t, WithValidateDefault(false))
	w := postJSON(t, h, `{"query":"{ dog { name } } query B { dog { name } }"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "more than one operation")

	w = postJSON(t, h, `{"query":"{ animals { ... on Dog { name } } }","validate":true}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/analyze", bytes.NewBufferString(`{"query":"{ dog { name } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/analyze", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(10))
	w := postJSON(t, h, `{"query":"1234567890"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var (
		mu   sync.Mutex
		seen []reqid.ID
	)
	record := func(ctx context.Context) {
		id, _ := reqid.FromContext(ctx)
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
	}
	defer eventbus.Subscribe(func(ctx context.Context, _ events.HTTPStart) { record(ctx) })()
	defer eventbus.Subscribe(func(ctx context.Context, _ events.AnalysisFinish) { record(ctx) })()

	h := newTestHandler(t)

	t.Run("generated", func(t *testing.T) {
		seen = nil
		w := postJSON(t, h, `{"query":"{ dog { name } }"}`)
		require.Equal(t, http.StatusOK, w.Code)
		id, ok := reqid.Parse(w.Header().Get(reqid.Header))
		require.True(t, ok)
		require.Equal(t, []reqid.ID{id, id}, seen)
	})

	t.Run("propagated", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest("POST", "/analyze", bytes.NewBufferString(`{"query":"{ dog { name } }"}`))
		req.Header.Set(reqid.Header, "abc123")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, "abc123", w.Header().Get(reqid.Header))
		require.Equal(t, []reqid.ID{0xabc123, 0xabc123}, seen)
	})
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	_, err = New(analysis.New(sch), WithBatchConcurrency(-1))
	require.Error(t, err)
}
