package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedLLMClient adds a span and request metrics around each chat call
type InstrumentedLLMClient struct {
	client    domain.LLMClient
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	provider  string
	model     string
}

// NewInstrumentedLLMClient wraps client. A nil metrics is created from the
// telemetry meter.
func NewInstrumentedLLMClient(client domain.LLMClient, telemetry *observability.Telemetry, metrics *observability.Metrics, provider, model string) (*InstrumentedLLMClient, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("client is required")
	case telemetry == nil:
		return nil, fmt.Errorf("telemetry is required")
	}
	if metrics == nil {
		m, err := observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		metrics = m
	}
	return &InstrumentedLLMClient{
		client:    client,
		telemetry: telemetry,
		metrics:   metrics,
		provider:  provider,
		model:     model,
	}, nil
}

// Chat forwards to the wrapped client inside an llm.chat span
func (c *InstrumentedLLMClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}

	ctx, span := c.telemetry.StartSpan(ctx, "llm.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", c.provider),
			attribute.String("llm.model", model),
			attribute.String("llm.purpose", opts.Purpose),
			attribute.Int("llm.message_count", len(messages)),
			attribute.Int("llm.max_tokens", opts.MaxTokens),
			attribute.Float64("llm.temperature", opts.Temperature),
		),
	)
	defer span.End()

	started := time.Now()
	resp, err := c.client.Chat(ctx, messages, opts)
	elapsed := time.Since(started)

	if err != nil {
		reason := failureReason(err)
		span.SetAttributes(attribute.String("llm.failure_reason", reason))
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			span.SetAttributes(attribute.Int("llm.status_code", apiErr.StatusCode))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.RecordLLMFailure(ctx, model, reason, elapsed)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("llm.response_chars", utf8.RuneCountInString(resp.Content)),
		attribute.String("llm.finish_reason", resp.FinishReason),
	)
	span.SetStatus(codes.Ok, "")

	c.metrics.RecordLLMRequest(ctx, model,
		int64(resp.Usage.PromptTokens),
		int64(resp.Usage.CompletionTokens),
		elapsed)
	return resp, nil
}

func failureReason(err error) string {
	var apiErr *domain.APIError
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == 429 {
			return "rate_limited"
		}
		return "api_error"
	default:
		return "other"
	}
}
