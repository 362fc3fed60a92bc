// Package tracing provides OpenTelemetry-based tracing for sync cycles.
// It supports stdout and OTLP exporters and provides span helpers for the
// cycle, per-entity and conflict resolution steps of the engine.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation name of the tempo tracer.
	TracerName = "github.com/jbctechsolutions/tempo"

	// Version is the semantic version of the tracer.
	Version = "1.0.0"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool         // Whether tracing is enabled
	ExporterType ExporterType // Type of exporter to use
	OTLPEndpoint string       // OTLP collector endpoint (for OTLP exporter)
	ServiceName  string       // Service name for traces
	Environment  string       // Deployment environment (development, production)
	SampleRate   float64      // Sampling rate (0.0 to 1.0)
	Output       io.Writer    // Output for stdout exporter (defaults to os.Stdout)
}

// DefaultConfig returns sensible default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ExporterType: ExporterNone,
		ServiceName:  "tempo",
		Environment:  "development",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer with sync-specific spans. Each engine
// owns its tracer; nothing is registered globally.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   Config
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{
		tracer: noop.NewTracerProvider().Tracer(TracerName),
		config: DefaultConfig(),
	}
}

// New creates a new Tracer with the provided configuration.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone || cfg.ExporterType == "" {
		t := Noop()
		t.config = cfg
		return t, nil
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Not merged with resource.Default() to avoid schema URL conflicts.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
		config:   cfg,
	}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// createExporter creates the appropriate exporter based on configuration.
func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{
			stdouttrace.WithPrettyPrint(),
		}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithInsecure(),
		}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.provider != nil
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// CycleSpan covers one sync cycle.
type CycleSpan struct {
	span trace.Span
}

// StartCycleSpan starts a span for a sync cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context, cycleID, trigger string, pending int) (context.Context, *CycleSpan) {
	ctx, span := t.tracer.Start(ctx, "sync.cycle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sync.cycle_id", cycleID),
			attribute.String("sync.trigger", trigger),
			attribute.Int("sync.pending", pending),
		),
	)
	return ctx, &CycleSpan{span: span}
}

// SetCounts records the cycle outcome counters.
func (cs *CycleSpan) SetCounts(applied, merged, conflicted, rejected, deferred int) {
	cs.span.SetAttributes(
		attribute.Int("sync.applied", applied),
		attribute.Int("sync.merged", merged),
		attribute.Int("sync.conflicted", conflicted),
		attribute.Int("sync.rejected", rejected),
		attribute.Int("sync.deferred", deferred),
	)
}

// End ends the cycle span with the given outcome.
func (cs *CycleSpan) End(outcome string) {
	cs.span.SetAttributes(attribute.String("sync.outcome", outcome))
	cs.span.SetStatus(codes.Ok, "")
	cs.span.End()
}

// EndWithError ends the cycle span with error status.
func (cs *CycleSpan) EndWithError(err error) {
	cs.span.SetAttributes(attribute.String("sync.outcome", "aborted"))
	cs.span.RecordError(err)
	cs.span.SetStatus(codes.Error, err.Error())
	cs.span.End()
}

// EntitySpan covers the sync of one queued mutation.
type EntitySpan struct {
	span trace.Span
}

// StartEntitySpan starts a span for syncing one entity.
func (t *Tracer) StartEntitySpan(ctx context.Context, entityType, entityID, op string, backend string) (context.Context, *EntitySpan) {
	ctx, span := t.tracer.Start(ctx, "sync.entity",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entity.type", entityType),
			attribute.String("entity.id", entityID),
			attribute.String("mutation.op", op),
			attribute.String("remote.backend", backend),
		),
	)
	return ctx, &EntitySpan{span: span}
}

// End ends the entity span with the detector's classification and the
// remote version the mutation produced. Zero means nothing was written.
func (es *EntitySpan) End(kind string, version int64) {
	es.span.SetAttributes(attribute.String("sync.decision", kind))
	if version != 0 {
		es.span.SetAttributes(attribute.Int64("entity.version", version))
	}
	es.span.SetStatus(codes.Ok, "")
	es.span.End()
}

// Conflict records the conflict a mutation was parked under.
func (es *EntitySpan) Conflict(conflictID string, fields []string) {
	es.span.AddEvent("conflict.detected", trace.WithAttributes(
		attribute.String("conflict.id", conflictID),
		attribute.StringSlice("conflict.fields", fields),
	))
}

// EndWithError ends the entity span with error status.
func (es *EntitySpan) EndWithError(err error) {
	es.span.RecordError(err)
	es.span.SetStatus(codes.Error, err.Error())
	es.span.End()
}

// StartResolveSpan starts a span for a manual conflict resolution.
func (t *Tracer) StartResolveSpan(ctx context.Context, conflictID, choice string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sync.resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("conflict.id", conflictID),
			attribute.String("conflict.choice", choice),
		),
	)
}

// EndSpan ends span, recording err when it is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
