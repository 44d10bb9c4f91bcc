package observability

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Counters
	collectionsTotal       metric.Int64Counter
	branchTimeoutsTotal    metric.Int64Counter
	httpFetchesTotal       metric.Int64Counter
	llmRequestsTotal       metric.Int64Counter
	llmFailuresTotal       metric.Int64Counter
	llmTokensUsedTotal     metric.Int64Counter
	promptGenerationsTotal metric.Int64Counter

	// Histograms
	collectionDuration metric.Float64Histogram
	llmRequestDuration metric.Float64Histogram

	// Gauges
	activeBranches metric.Int64ObservableGauge

	activeBranchCount atomic.Int64
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		meter: meter,
	}

	var err error

	m.collectionsTotal, err = meter.Int64Counter(
		"collections_total",
		metric.WithDescription("Total number of collector invocations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.branchTimeoutsTotal, err = meter.Int64Counter(
		"branch_timeouts_total",
		metric.WithDescription("Total number of collection branches that exceeded their deadline"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.httpFetchesTotal, err = meter.Int64Counter(
		"http_fetches_total",
		metric.WithDescription("Total number of HTTP fetch attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.llmRequestsTotal, err = meter.Int64Counter(
		"llm_requests_total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.llmFailuresTotal, err = meter.Int64Counter(
		"llm_failures_total",
		metric.WithDescription("Total number of failed LLM requests by reason"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.llmTokensUsedTotal, err = meter.Int64Counter(
		"llm_tokens_used_total",
		metric.WithDescription("Total number of LLM tokens used"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.promptGenerationsTotal, err = meter.Int64Counter(
		"prompt_generations_total",
		metric.WithDescription("Total number of prompt generation stages"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.collectionDuration, err = meter.Float64Histogram(
		"collection_duration_seconds",
		metric.WithDescription("Duration of collector invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.llmRequestDuration, err = meter.Float64Histogram(
		"llm_request_duration_seconds",
		metric.WithDescription("Duration of LLM requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.activeBranches, err = meter.Int64ObservableGauge(
		"active_branches",
		metric.WithDescription("Number of collection branches currently running"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeBranchCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCollection records one collector invocation
func (m *Metrics) RecordCollection(ctx context.Context, source string, found bool, duration time.Duration) {
	status := "found"
	if !found {
		status = "empty"
	}
	m.collectionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
	m.collectionDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("source", source),
		),
	)
}

// RecordBranchStarted marks a branch as running
func (m *Metrics) RecordBranchStarted(ctx context.Context) {
	m.activeBranchCount.Add(1)
}

// RecordBranchFinished marks a branch as done
func (m *Metrics) RecordBranchFinished(ctx context.Context, branch string, timedOut bool) {
	m.activeBranchCount.Add(-1)
	if timedOut {
		m.branchTimeoutsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("branch", branch),
			),
		)
	}
}

// RecordFetch records one HTTP fetch attempt by status code (0 for transport errors)
func (m *Metrics) RecordFetch(ctx context.Context, statusCode int) {
	m.httpFetchesTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", strconv.Itoa(statusCode)),
		),
	)
}

// RecordLLMRequest records an LLM request
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, promptTokens, completionTokens int64, duration time.Duration) {
	m.llmRequestsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
		),
	)

	m.llmTokensUsedTotal.Add(ctx, promptTokens+completionTokens,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("type", "total"),
		),
	)

	m.llmRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("model", model),
		),
	)
}

// RecordLLMFailure counts a failed LLM request. reason is one of
// rate_limited, api_error, canceled or other.
func (m *Metrics) RecordLLMFailure(ctx context.Context, model, reason string, duration time.Duration) {
	m.llmFailuresTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("reason", reason),
		),
	)
	m.llmRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("model", model),
		),
	)
}

// RecordPromptGeneration records one generator stage and whether it fell back to a template
func (m *Metrics) RecordPromptGeneration(ctx context.Context, stage string, fallback bool) {
	m.promptGenerationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.Bool("fallback", fallback),
		),
	)
}

// ActiveBranches returns the current number of running branches
func (m *Metrics) ActiveBranches() int64 {
	return m.activeBranchCount.Load()
}
