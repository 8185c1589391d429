// Package tracing wires OpenTelemetry spans around loading and querying.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "github.com/camden-git/objectmatch"

// Config configures span export. An empty OTLPEndpoint disables export and
// leaves the global no-op tracer in place.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	SampleRate     float64
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "objectmatch",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// Provider owns the SDK tracer provider when export is enabled.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// Init installs a global tracer provider exporting over OTLP/gRPC.
func Init(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.OTLPEndpoint == "" {
		return &Provider{tracer: otel.Tracer(TracerName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{provider: provider, tracer: provider.Tracer(TracerName)}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartLoadSpan starts a span for one database load.
func StartLoadSpan(ctx context.Context, dir string, workers int) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "engine.load",
		trace.WithAttributes(
			attribute.String("load.directory", dir),
			attribute.Int("load.workers", workers),
		),
	)
}

// RecordLoadResult annotates a load span with its counters.
func RecordLoadResult(span trace.Span, total, processed, failed, objects int) {
	span.SetAttributes(
		attribute.Int("load.total_images", total),
		attribute.Int("load.processed_images", processed),
		attribute.Int("load.failed_images", failed),
		attribute.Int("load.total_objects", objects),
	)
}

// StartImageSpan starts a span for the region pipeline on one file.
func StartImageSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "pipeline.process_image",
		trace.WithAttributes(attribute.String("image.path", path)),
	)
}

// StartQuerySpan starts a span for one similarity query.
func StartQuerySpan(ctx context.Context, path, strategy string) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, "engine.query",
		trace.WithAttributes(
			attribute.String("query.image", path),
			attribute.String("query.strategy", strategy),
		),
	)
}

// RecordQueryResult annotates a query span with how many candidates were
// scanned and how many matched.
func RecordQueryResult(span trace.Span, candidates, matches int) {
	span.SetAttributes(
		attribute.Int("query.candidates", candidates),
		attribute.Int("query.matches", matches),
	)
}

// RecordError marks span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
