package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/sargeom/internal/logging"
)

// Span exporters accepted by TracingConfig.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	envPrefix             = "SARGEOM_"
	defaultServiceName    = "sargeom-geocoder"
	defaultOTLPEndpoint   = "localhost:4317"
	tracingShutdownBudget = 5 * time.Second
	tracerName            = "github.com/signalsfoundry/sargeom"
)

// Span attributes shared by geocoding spans.
const (
	AttrModelID      = attribute.Key("sargeom.model.id")
	AttrModelKind    = attribute.Key("sargeom.model.kind")
	AttrDirection    = attribute.Key("sargeom.geocode.direction")
	AttrLine         = attribute.Key("sargeom.image.line")
	AttrPixel        = attribute.Key("sargeom.image.pixel")
	AttrLat          = attribute.Key("sargeom.ground.lat")
	AttrLon          = attribute.Key("sargeom.ground.lon")
	AttrHeight       = attribute.Key("sargeom.ground.height")
	AttrMetadataKeys = attribute.Key("sargeom.metadata.keys")
	AttrMetadataURI  = attribute.Key("sargeom.metadata.uri")
)

// TracingConfig selects how the geocoding server exports spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP collector address.
	Endpoint    string
	SampleRatio float64
	// Output receives stdout exporter spans; os.Stdout when nil.
	Output      io.Writer
	// ModelKinds are recorded on the trace resource.
	ModelKinds  []string
}

// TracingConfigFromEnv reads SARGEOM_TRACING_ENABLED, SARGEOM_TRACING_EXPORTER,
// SARGEOM_TRACING_SERVICE_NAME, SARGEOM_TRACING_SAMPLE_RATIO and
// SARGEOM_OTLP_ENDPOINT. Ratios outside [0, 1] fall back to 1.
func TracingConfigFromEnv() TracingConfig {
	return tracingConfigFrom(os.Getenv)
}

func tracingConfigFrom(getenv func(string) string) TracingConfig {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(envPrefix + key)); v != "" {
			return v
		}
		return def
	}

	cfg := TracingConfig{
		Enabled:     strings.EqualFold(env("TRACING_ENABLED", "false"), "true"),
		ServiceName: env("TRACING_SERVICE_NAME", defaultServiceName),
		Exporter:    strings.ToLower(env("TRACING_EXPORTER", ExporterStdout)),
		Endpoint:    env("OTLP_ENDPOINT", ""),
		SampleRatio: 1,
	}
	if r, err := strconv.ParseFloat(env("TRACING_SAMPLE_RATIO", "1"), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

// Validate rejects an enabled configuration with an unknown exporter or a
// sample ratio outside [0, 1].
func (c TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case "", ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.Exporter)
	}
	if !(c.SampleRatio >= 0 && c.SampleRatio <= 1) {
		return fmt.Errorf("tracing sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return nil
}

// InitTracing installs the global tracer provider and propagators described
// by cfg and returns the function flushing pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "sargeom"),
	}
	if len(cfg.ModelKinds) > 0 {
		attrs = append(attrs, attribute.StringSlice("sargeom.model.kinds", cfg.ModelKinds))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
		logging.Any("model_kinds", cfg.ModelKinds),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == ExporterOTLP {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return stdouttrace.New(
		stdouttrace.WithWriter(out),
		stdouttrace.WithoutTimestamps(),
	)
}

// ShutdownWithTimeout flushes spans through shutdown within a bounded time,
// logging instead of returning a failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, tracingShutdownBudget)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// StartSpan starts an internal span of the sargeom tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan marks span failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
