package tracing

import (
	"context"
	"fmt"

	"playlink/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "playlink"

// TracerProvider wraps the SDK provider so that a disabled configuration can
// still be shut down.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// FromConfig maps the tracing config section. component is appended to the
// service name so client and relay spans stay apart.
func FromConfig(cfg *config.Config, component string) Config {
	name := cfg.Tracing.ServiceName
	if component != "" {
		name += "-" + component
	}
	return Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: name,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	}
}

// Init installs a Jaeger-backed global tracer provider. When tracing is
// disabled the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

func sampler(rate float64) tracesdk.Sampler {
	switch {
	case rate >= 1:
		return tracesdk.AlwaysSample()
	case rate <= 0:
		return tracesdk.NeverSample()
	default:
		return tracesdk.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError records err on the span in ctx and marks it failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent records a named event on the span in ctx.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

var (
	GenerationKey = attribute.Key("session.generation")
	StateKey      = attribute.Key("session.state")
	CloseCodeKey  = attribute.Key("signaling.close_code")
	RoomKey       = attribute.Key("relay.room")
	RoleKey       = attribute.Key("relay.role")
	ConnIDKey     = attribute.Key("relay.conn_id")
	DurationKey   = attribute.Key("duration_ms")
)

// TraceGeneration starts the span covering one session generation, from the
// first dial until the generation is torn down.
func TraceGeneration(ctx context.Context, generation uint64) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.generation",
		trace.WithAttributes(GenerationKey.Int64(int64(generation))),
	)
}

// TraceHTTPRequest starts a server span for one relay request.
func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

// TraceWebSocketMessage starts a span for one frame forwarded by the relay.
func TraceWebSocketMessage(ctx context.Context, messageType string, connID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "relay."+messageType,
		trace.WithAttributes(
			attribute.String("signaling.message_type", messageType),
			ConnIDKey.String(connID),
		),
	)
}
