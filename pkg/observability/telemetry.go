package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/stdr"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ServiceName identifies this program in traces and metrics
const ServiceName = "character-prompt-agent"

// TelemetryConfig holds configuration for OpenTelemetry
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is host:port or a full http(s) URL
	OTLPEndpoint  string
	SamplingRate  float64
	EnableTracing bool
	EnableMetrics bool
}

// Telemetry owns the tracer and meter for one process
type Telemetry struct {
	config        *TelemetryConfig
	tracer        trace.Tracer
	meter         metric.Meter
	shutdownFuncs []func(context.Context) error
}

// DefaultConfig returns tracing off and metrics on
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		ServiceName:    ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    getEnvOrDefault("ENVIRONMENT", "development"),
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		SamplingRate:   1.0,
		EnableMetrics:  true,
	}
}

// TelemetryConfigFrom maps the observability section of cfg
func TelemetryConfigFrom(cfg *config.Config, version string) *TelemetryConfig {
	tc := DefaultConfig()
	if version != "" {
		tc.ServiceVersion = version
	}
	obs := cfg.Observability
	if obs.Tracing.Endpoint != "" {
		tc.OTLPEndpoint = obs.Tracing.Endpoint
	}
	tc.SamplingRate = obs.Tracing.SamplingRate
	tc.EnableTracing = obs.Tracing.Enabled
	tc.EnableMetrics = obs.Metrics.Enabled
	return tc
}

// NewTelemetry sets up the providers selected by cfg. Exporter errors are
// swallowed so they never reach the console display.
func NewTelemetry(cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = ServiceName
	}

	stdr.SetVerbosity(0)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(error) {}))

	t := &Telemetry{config: cfg}

	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.tracer = otel.Tracer(cfg.ServiceName)
	if cfg.EnableTracing {
		tp, err := newTracerProvider(cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		t.shutdownFuncs = append(t.shutdownFuncs, tp.Shutdown)
		t.tracer = tp.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	}

	t.meter = otel.Meter(cfg.ServiceName)
	if cfg.EnableMetrics {
		mp, err := newMeterProvider(res)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		otel.SetMeterProvider(mp)
		t.shutdownFuncs = append(t.shutdownFuncs, mp.Shutdown)
		t.meter = mp.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// NewNoopTelemetry returns telemetry that records nothing
func NewNoopTelemetry() *Telemetry {
	return &Telemetry{
		config: &TelemetryConfig{ServiceName: ServiceName},
		tracer: noop.NewTracerProvider().Tracer(ServiceName),
		meter:  metricnoop.NewMeterProvider().Meter(ServiceName),
	}
}

func newResource(cfg *TelemetryConfig) (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("host.name", hostname),
			attribute.String("service.namespace", "character"),
		),
	)
}

// otlpEndpointOption accepts both the host:port form and the URL form used
// by OTEL_EXPORTER_OTLP_ENDPOINT
func otlpEndpointOption(endpoint string) otlptracehttp.Option {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

func newTracerProvider(cfg *TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlpEndpointOption(cfg.OTLPEndpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 2 * time.Second,
			MaxInterval:     10 * time.Second,
			MaxElapsedTime:  30 * time.Second,
		}),
	}
	if !strings.HasPrefix(cfg.OTLPEndpoint, "https://") {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// A run is short; flush spans often so a cancelled run still exports
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(time.Second),
			sdktrace.WithExportTimeout(10*time.Second),
		),
	), nil
}

func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	), nil
}

// Shutdown flushes and stops every provider, returning all errors joined
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the configured tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the configured meter
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// StartSpan starts a span on the configured tracer
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
