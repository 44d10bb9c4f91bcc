package observability

import (
	"context"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRun starts the root span for one character run
func (t *Telemetry) StartRun(ctx context.Context, runID, name string, backend string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "cpa.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("character.name", name),
			attribute.Int("character.name_length", utf8.RuneCountInString(name)),
			attribute.String("search.backend", backend),
		),
	)
}

// InstrumentBranch runs fn inside a branch.<name> span
func (t *Telemetry) InstrumentBranch(ctx context.Context, branch string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, "branch."+branch,
		trace.WithAttributes(attribute.String("branch.name", branch)))
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration.seconds", time.Since(started).Seconds()),
	)
	finishSpan(span, err)
	return err
}

// InstrumentCollector runs fn inside a collector.<source> span. fn reports
// whether the collector found any data.
func (t *Telemetry) InstrumentCollector(ctx context.Context, source string, fn func(context.Context) (found bool, err error)) error {
	ctx, span := t.StartSpan(ctx, "collector."+source,
		trace.WithAttributes(attribute.String("collector.source", source)))
	defer span.End()

	started := time.Now()
	found, err := fn(ctx)
	span.SetAttributes(
		attribute.Bool("collector.found", found),
		attribute.Float64("collector.duration_seconds", time.Since(started).Seconds()),
	)
	finishSpan(span, err)
	return err
}

// InstrumentGeneratorStage runs one prompt generation stage. fn returns
// true when the stage substituted a template for the LLM output.
func (t *Telemetry) InstrumentGeneratorStage(ctx context.Context, stage string, fn func(context.Context) (fallback bool)) {
	ctx, span := t.StartSpan(ctx, "generator."+stage,
		trace.WithAttributes(attribute.String("generator.stage", stage)))
	defer span.End()

	fallback := fn(ctx)
	span.SetAttributes(attribute.Bool("generator.fallback", fallback))
	if fallback {
		span.SetStatus(codes.Error, "llm unavailable, template used")
		return
	}
	span.SetStatus(codes.Ok, "")
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
