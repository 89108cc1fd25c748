package observability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "github.com/fluxbase-eu/fluxpack"

// Tracer emits one trace per build: a root build span, a child span per
// phase and a span per transformed module
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NoopTracer returns a tracer that records nothing
func NoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// NewTracer exports spans over OTLP/gRPC when cfg enables tracing. version
// and mode become resource attributes.
func NewTracer(ctx context.Context, cfg config.TracingConfig, version, mode string) (*Tracer, error) {
	if !cfg.Enabled {
		return NoopTracer(), nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fluxpack"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironment(mode),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	log.Debug().
		Str("endpoint", cfg.Endpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("Build tracing enabled")

	return &Tracer{provider: provider, tracer: provider.Tracer(instrumentationName)}, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Enabled reports whether spans are exported
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// BuildInfo describes a build for its root span
type BuildInfo struct {
	ID      string
	Mode    string
	Version string
	Entries int
}

// StartBuild starts the root span of a build
func (t *Tracer) StartBuild(ctx context.Context, info BuildInfo) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "build", trace.WithAttributes(
		attribute.String("build.id", info.ID),
		attribute.String("build.mode", info.Mode),
		attribute.String("build.version", info.Version),
		attribute.Int("build.entries", info.Entries),
	))
}

// StartPhase starts a span for a build phase such as graph or emit
func (t *Tracer) StartPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "build."+phase, trace.WithAttributes(attribute.String("build.phase", phase)))
}

// StartTransform starts a span for one module. path is relative to the
// project root.
func (t *Tracer) StartTransform(ctx context.Context, path, rule string, size int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "transform", trace.WithAttributes(
		attribute.String("module.path", path),
		attribute.String("module.rule", rule),
		attribute.Int("module.size", size),
	))
}

// AnnotateGraph adds the graph size to the span in ctx and an event per
// import cycle
func AnnotateGraph(ctx context.Context, modules int, cycles [][]string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.Int("graph.modules", modules),
		attribute.Int("graph.cycles", len(cycles)),
	)
	for _, cycle := range cycles {
		span.AddEvent("import cycle", trace.WithAttributes(
			attribute.String("cycle.modules", strings.Join(cycle, " -> ")),
		))
	}
}

// Finish ends span. Failures and cancellations mark the span as an error.
func Finish(span trace.Span, err error) {
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		span.SetStatus(codes.Error, "canceled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the trace of the span in ctx, or "" without one
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
