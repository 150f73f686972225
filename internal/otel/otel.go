package otel

import (
	"context"
	"fmt"
	"sync"

	eventbus "github.com/hanpama/querydeps/internal/eventbus"
	events "github.com/hanpama/querydeps/internal/events"
	reqid "github.com/hanpama/querydeps/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(tp.Tracer("querydeps"))
	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register turns HTTP and analysis events on the global bus into spans.
// Analysis spans are children of their request's span.
func Register(tracer trace.Tracer) (unregister func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type analysisKey struct {
	serial uint64
	index  int
}

type subscriber struct {
	tracer        trace.Tracer
	httpSpans     sync.Map // request serial -> trace.Span
	analysisSpans sync.Map // analysisKey -> trace.Span
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			serial, _ := reqid.Serial(ctx)
			_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Method),
				attribute.String("http.target", e.Path),
				attribute.String("http.request_id", rid.String()),
			)
			s.httpSpans.Store(serial, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			serial, _ := reqid.Serial(ctx)
			v, ok := s.httpSpans.LoadAndDelete(serial)
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			if e.Status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", e.Status))
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.AnalysisStart) {
			serial, _ := reqid.Serial(ctx)
			parent := ctx
			if v, ok := s.httpSpans.Load(serial); ok {
				parent = trace.ContextWithSpan(ctx, v.(trace.Span))
			}
			_, span := s.tracer.Start(parent, "graphql.analysis")
			span.SetAttributes(
				attribute.String("graphql.document.hash", fmt.Sprintf("%016x", e.DocumentHash)),
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.Bool("graphql.validate", e.Validate),
				attribute.Int("querydeps.batch.index", e.Index),
			)
			s.analysisSpans.Store(analysisKey{serial: serial, index: e.Index}, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.AnalysisFinish) {
			serial, _ := reqid.Serial(ctx)
			v, ok := s.analysisSpans.LoadAndDelete(analysisKey{serial: serial, index: e.Index})
			if !ok {
				return
			}
			span := v.(trace.Span)
			span.SetAttributes(
				attribute.Int("querydeps.vertices", e.Vertices),
				attribute.Int("querydeps.stages", e.Stages),
			)
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
			span.End()
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
