package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestConfig returns the default config with every delay removed so
// collectors run at full speed against httptest servers
func NewTestConfig() *config.Config {
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.Search.GoogleDelay = "0s"
	cfg.Search.YouTubeSearchDelay = "0s"
	cfg.Collector.DefaultDelay = "0s"
	cfg.Collector.RetryDelay = "1ms"
	cfg.Collector.BackoffUnit = "1ms"
	cfg.Collector.RateLimitCeiling = "100ms"
	cfg.Collector.RequestTimeout = "2s"
	cfg.Processing.RandomSeed = 42
	cfg.Output.CacheDir = ""
	return cfg
}

// NewTestResult creates a found collection result with one item
func NewTestResult(source, title, content string) *domain.CollectionResult {
	return domain.NewCollectionResult([]domain.SearchResult{
		domain.NewSearchResult("https://example.com/"+title, title, title+"の説明", content),
	}, title, source)
}

// SetupTestTelemetry creates test telemetry with span recorder and metric reader
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tracerProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metricReader),
	)
	otel.SetMeterProvider(meterProvider)

	// Exporters stay disabled so the global test providers above are used
	config := &observability.TelemetryConfig{
		ServiceName:    "test-service",
		ServiceVersion: "test",
		Environment:    "test",
		EnableTracing:  false,
		EnableMetrics:  false,
		SamplingRate:   1.0,
	}

	telemetry, _ := observability.NewTelemetry(config)
	return telemetry
}
