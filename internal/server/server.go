package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/iter"

	analysis "github.com/hanpama/querydeps/internal/analysis"
	eventbus "github.com/hanpama/querydeps/internal/eventbus"
	events "github.com/hanpama/querydeps/internal/events"
	language "github.com/hanpama/querydeps/internal/language"
	reqid "github.com/hanpama/querydeps/internal/reqid"
)

// Handler is an http.Handler that analyses GraphQL documents and responds
// with their field dependency graphs.
type Handler struct {
	analyzer *analysis.Analyzer
	opt      Options
}

type Options struct {
	// Timeout bounds a whole request. Batch items that have not started when
	// it expires fail without being analysed. 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// BatchConcurrency bounds the number of batch items analysed at once.
	// 0 means one goroutine per CPU.
	BatchConcurrency int

	// Validate is used when a request does not say whether to validate.
	Validate bool

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	Logger logr.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithBatchConcurrency(n int) Option  { return func(o *Options) { o.BatchConcurrency = n } }
func WithValidateDefault(v bool) Option  { return func(o *Options) { o.Validate = v } }
func WithLogger(l logr.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler that analyses documents with analyzer.
func New(analyzer *analysis.Analyzer, opts ...Option) (*Handler, error) {
	if analyzer == nil {
		return nil, errors.New("server: analyzer is nil")
	}
	op := Options{Timeout: 10 * time.Second, Validate: true, Logger: logr.Discard()}
	for _, f := range opts {
		f(&op)
	}
	if op.BatchConcurrency < 0 {
		return nil, fmt.Errorf("server: negative batch concurrency %d", op.BatchConcurrency)
	}
	return &Handler{analyzer: analyzer, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	rid, ok := reqid.Parse(r.Header.Get(reqid.Header))
	if !ok {
		rid = reqid.New()
	}
	ctx = reqid.WithID(ctx, rid)
	w.Header().Set(reqid.Header, rid.String())

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Method: r.Method, Path: r.URL.Path})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Method: r.Method, Path: r.URL.Path, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		h.writeJSON(w, status, errorResponse(&language.Error{Message: "method not allowed"}))
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Message == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeJSON(w, status, errorResponse(berr))
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		// Batch items succeed or fail independently; the batch itself is 200.
		results := h.analyzeBatch(ctx, batch)
		h.writeJSON(w, status, results)
		return
	}

	res, err := h.analyzeOne(ctx, 0, req)
	if err != nil {
		status = http.StatusUnprocessableEntity
		h.writeJSON(w, status, errorResponse(language.AsError(err)))
		return
	}
	h.writeJSON(w, status, res)
}

func (h *Handler) analyzeBatch(ctx context.Context, batch []AnalyzeRequest) []any {
	type item struct {
		index int
		req   AnalyzeRequest
	}
	items := make([]item, len(batch))
	for i := range batch {
		items[i] = item{index: i, req: batch[i]}
	}

	failed := 0
	mapper := iter.Mapper[item, any]{MaxGoroutines: h.opt.BatchConcurrency}
	results := mapper.Map(items, func(it *item) any {
		if err := ctx.Err(); err != nil {
			return errorResponse(&language.Error{Message: "request timed out before analysis started"})
		}
		res, err := h.analyzeOne(ctx, it.index, it.req)
		if err != nil {
			return errorResponse(language.AsError(err))
		}
		return res
	})
	for _, res := range results {
		if _, ok := res.(errorResult); ok {
			failed++
		}
	}
	h.opt.Logger.V(1).Info("analysed batch", "size", len(batch), "failed", failed)
	return results
}

func (h *Handler) analyzeOne(ctx context.Context, index int, req AnalyzeRequest) (res *AnalyzeResponse, err error) {
	hash := xxhash.Sum64String(req.Query)
	validate := h.opt.Validate
	if req.Validate != nil {
		validate = *req.Validate
	}

	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}
	opName := ""
	if len(doc.Operations) == 1 {
		opName = doc.Operations[0].Name
	}

	start := time.Now()
	eventbus.Publish(ctx, events.AnalysisStart{Index: index, DocumentHash: hash, OperationName: opName, Validate: validate})
	defer func() {
		finish := events.AnalysisFinish{Index: index, DocumentHash: hash, OperationName: opName, Err: err, Duration: time.Since(start)}
		if res != nil {
			finish.Vertices = len(res.Vertices)
			finish.Stages = len(res.Stages)
		}
		eventbus.Publish(ctx, finish)
	}()

	root, err := h.analyzer.Analyze(doc, req.Variables, validate)
	if err != nil {
		return nil, err
	}
	return NewAnalyzeResponse(root, hash)
}

// ------------------ Request parsing ------------------

type AnalyzeRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
	Validate  *bool          `json:"validate,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (AnalyzeRequest, []AnalyzeRequest, *language.Error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return AnalyzeRequest{}, nil, &language.Error{Message: "missing 'query'"}
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return AnalyzeRequest{}, nil, &language.Error{Message: "invalid 'variables' JSON"}
			}
		}
		req := AnalyzeRequest{Query: q, Variables: vars}
		if v := r.URL.Query().Get("validate"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return AnalyzeRequest{}, nil, &language.Error{Message: "invalid 'validate' value"}
			}
			req.Validate = &b
		}
		return req, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return AnalyzeRequest{}, nil, &language.Error{Message: "unsupported Content-Type"}
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return AnalyzeRequest{}, nil, &language.Error{Message: "failed to read body"}
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return AnalyzeRequest{}, nil, &language.Error{Message: errBodyTooLargeMessage}
	}

	// Try array (batch)
	if len(body) > 0 && body[0] == '[' {
		var arr []AnalyzeRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return AnalyzeRequest{}, nil, &language.Error{Message: "invalid JSON"}
		}
		if len(arr) == 0 {
			return AnalyzeRequest{}, nil, &language.Error{Message: "empty batch"}
		}
		for i := range arr {
			if arr[i].Query == "" {
				return AnalyzeRequest{}, nil, &language.Error{Message: fmt.Sprintf("missing 'query' in batch item %d", i)}
			}
		}
		return AnalyzeRequest{}, arr, nil
	}
	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return AnalyzeRequest{}, nil, &language.Error{Message: "invalid JSON"}
	}
	if req.Query == "" {
		return AnalyzeRequest{}, nil, &language.Error{Message: "missing 'query'"}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type VertexJSON struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	DependsOn *int   `json:"dependsOn"`
}

type EdgeJSON struct {
	From        int  `json:"from"`
	To          int  `json:"to"`
	Conditional bool `json:"conditional"`
}

// AnalyzeResponse is the JSON body of a successful analysis. Vertices and
// edges are listed in traversal order.
type AnalyzeResponse struct {
	Vertices     []VertexJSON `json:"vertices"`
	Edges        []EdgeJSON   `json:"edges"`
	Order        []int        `json:"order"`
	Stages       [][]int      `json:"stages"`
	DocumentHash string       `json:"documentHash"`
}

// NewAnalyzeResponse describes the tree rooted at root. hash identifies the
// analysed document.
func NewAnalyzeResponse(root *analysis.Vertex, hash uint64) (*AnalyzeResponse, error) {
	vertices, edges := analysis.PrintGraph(root)
	res := &AnalyzeResponse{
		Vertices:     make([]VertexJSON, len(vertices)),
		Edges:        make([]EdgeJSON, len(edges)),
		Stages:       [][]int{},
		DocumentHash: fmt.Sprintf("%016x", hash),
	}
	for i, v := range vertices {
		vj := VertexJSON{ID: v.ID, Name: v.String()}
		if v.DependsOn != nil {
			parent := v.DependsOn.ID
			vj.DependsOn = &parent
		}
		res.Vertices[i] = vj
	}
	for i, e := range edges {
		res.Edges[i] = EdgeJSON{From: e.From.ID, To: e.To.ID, Conditional: e.Conditional}
	}

	order, err := analysis.ExecutionOrder(root)
	if err != nil {
		return nil, err
	}
	res.Order = make([]int, len(order))
	for i, v := range order {
		res.Order[i] = v.ID
	}
	for _, stage := range analysis.Stages(root) {
		ids := make([]int, len(stage))
		for i, v := range stage {
			ids[i] = v.ID
		}
		res.Stages = append(res.Stages, ids)
	}
	return res, nil
}

type errorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message   string          `json:"message"`
	Locations []errorLocation `json:"locations,omitempty"`
}

type errorResult struct {
	Errors []responseError `json:"errors"`
}

func errorResponse(err *language.Error) errorResult {
	se := responseError{Message: err.Message}
	for _, loc := range err.Locations {
		se.Locations = append(se.Locations, errorLocation{Line: loc.Line, Column: loc.Column})
	}
	return errorResult{Errors: []responseError{se}}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.opt.Logger.Error(err, "writing response", "status", status)
	}
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
