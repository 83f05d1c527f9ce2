// Package tracing wires OpenTelemetry spans for HTTP requests, pipeline
// stages and outbound LLM calls.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultServiceName = "research-service"
	defaultEndpoint    = "localhost:4317"
)

var (
	tracer     = otel.Tracer(defaultServiceName)
	propagator = propagation.TraceContext{}
)

type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Version      string
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Initialize installs an OTLP/gRPC exporter when enabled. The returned
// shutdown func is never nil.
func Initialize(cfg Config, logger *zap.Logger) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	tracer = otel.Tracer(cfg.ServiceName)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return noop, nil
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = defaultEndpoint
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("create OTLP exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(cfg.ServiceName)

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown, nil
}

// UseProvider installs tp as the span source; tests pass an in-memory provider.
func UseProvider(tp trace.TracerProvider, serviceName string) {
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	tracer = tp.Tracer(serviceName)
}

// InjectTraceparent writes the W3C traceparent of ctx's span onto req.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// Extract returns ctx carrying the remote span described by h, if any.
func Extract(ctx context.Context, h http.Header) context.Context {
	return propagator.Extract(ctx, propagation.HeaderCarrier(h))
}

func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartServerSpan continues an incoming traceparent for an API request.
func StartServerSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := Extract(r.Context(), r.Header)
	return tracer.Start(ctx, "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

// StartStageSpan opens a span for one pipeline stage (split, research,
// synthesize, critique).
func StartStageSpan(ctx context.Context, stage, topic string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "research."+stage, trace.WithAttributes(
		attribute.String("research.stage", stage),
		attribute.String("research.topic", topic),
	))
}

// StartHTTPSpan opens a client span for an outbound call.
func StartHTTPSpan(ctx context.Context, method, url string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(semconv.HTTPRequestMethodKey.String(method), semconv.URLFull(url))
	return ctx, span
}
