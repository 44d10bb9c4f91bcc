// Package collectors gathers character information from external sources:
// an LLM knowledge base, three web search backends, Wikipedia and YouTube
// subtitles. Every collector returns a well-formed result even on failure.
package collectors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/fetch"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

// pageFetchOptions are used for every linked result page
var pageFetchOptions = &fetch.Options{MaxRetries: 2, Timeout: 15 * time.Second, Quiet: true}

// Deps are the shared collaborators handed to every collector
type Deps struct {
	Config  *config.Config
	Fetcher *fetch.Client
	// LLM is optional for the web collectors and required by the knowledge base
	LLM       domain.LLMClient
	Recorder  domain.Recorder
	Telemetry *observability.Telemetry
	Metrics   *observability.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Fetcher == nil {
		d.Fetcher = fetch.NewClientFromConfig(d.Config, d.Metrics)
	}
	if d.Recorder == nil {
		d.Recorder = domain.NopRecorder{}
	}
	if d.Telemetry == nil {
		d.Telemetry = observability.NewNoopTelemetry()
	}
	return d
}

// base carries what every collector needs
type base struct {
	name      string
	cfg       *config.Config
	fetcher   *fetch.Client
	llm       domain.LLMClient
	recorder  domain.Recorder
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
	extractor *textproc.PatternExtractor
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func newBase(name string, deps Deps) base {
	deps = deps.withDefaults()
	b := base{
		name:      name,
		cfg:       deps.Config,
		fetcher:   deps.Fetcher,
		llm:       deps.LLM,
		recorder:  deps.Recorder,
		telemetry: deps.Telemetry,
		metrics:   deps.Metrics,
		logger:    observability.NewStructuredLogger("collector." + name),
		delay:     config.Duration(deps.Config.Collector.DefaultDelay),
		sleep:     fetch.Sleep,
	}
	if deps.LLM != nil {
		b.extractor = textproc.NewPatternExtractor(deps.LLM, deps.Recorder, textproc.ExtractorOptions{
			MaxTokens:   deps.Config.LLM.FilterMaxTokens,
			Temperature: deps.Config.LLM.FilterTemperature,
			TextLimit:   deps.Config.Processing.FilterTextLimit,
			MaxPatterns: deps.Config.Processing.MaxWebSpeechPatterns,
		})
	}
	return b
}

// Name returns the source name
func (b *base) Name() string {
	return b.name
}

// instrument runs fn inside a collector span, stamps the duration and records metrics.
// A nil result from fn is replaced by an error result.
func (b *base) instrument(ctx context.Context, query string, fn func(context.Context) (*domain.CollectionResult, error)) (*domain.CollectionResult, error) {
	start := time.Now()
	var result *domain.CollectionResult

	err := b.telemetry.InstrumentCollector(ctx, b.name, func(ctx context.Context) (bool, error) {
		var err error
		result, err = fn(ctx)
		if result == nil {
			msg := domain.NoResultsMessage
			if err != nil {
				msg = err.Error()
			}
			result = domain.NewErrorResult(msg, query, b.name)
		}
		return result.Found, err
	})

	duration := time.Since(start)
	result.WithDuration(duration)
	if b.metrics != nil {
		b.metrics.RecordCollection(ctx, b.name, result.Found, duration)
	}
	return result, err
}

// pause waits for d unless ctx is done
func (b *base) pause(ctx context.Context, d time.Duration) error {
	return b.sleep(ctx, d)
}

// searchHit is one link returned by a search engine results page
type searchHit struct {
	Title       string
	URL         string
	Description string
}

// enrichHit fetches the linked page and turns it into a search result.
// It reports false when the page could not be fetched or parsed.
func (b *base) enrichHit(ctx context.Context, hit searchHit, name, query string) (domain.SearchResult, bool) {
	resp, err := b.fetcher.Get(ctx, hit.URL, pageFetchOptions)
	if err != nil {
		b.logger.Debug(ctx, "page fetch skipped", map[string]interface{}{
			"url":   hit.URL,
			"error": err.Error(),
		})
		return domain.SearchResult{}, false
	}

	page, err := fetch.ExtractPage(resp.Body, resp.URL, fetch.PageOptions{
		CharLimit:   b.cfg.Search.PageCharLimit,
		Readability: b.cfg.Collector.Readability,
		ContentType: resp.Header.Get("Content-Type"),
	})
	if err != nil {
		b.logger.Debug(ctx, "page extraction failed", map[string]interface{}{
			"url":   resp.URL,
			"error": err.Error(),
		})
		return domain.SearchResult{}, false
	}

	title := page.Title
	if hit.Title != "" {
		title = hit.Title
	}
	description := page.Description
	if hit.Description != "" {
		description = hit.Description
	}

	result := domain.NewSearchResult(resp.URL, title, description, page.Text)
	result.SpeechPatterns = b.extractPatterns(ctx, page.Text, name)
	result.Source = b.name
	result.SearchQuery = query
	return result, true
}

// extractPatterns runs LLM extraction when a model is available and the text is long enough
func (b *base) extractPatterns(ctx context.Context, text, name string) []string {
	if b.extractor == nil {
		return []string{}
	}
	if textproc.RuneLen(strings.TrimSpace(text)) <= b.cfg.Processing.LLMExtractionMinLength {
		return []string{}
	}
	return b.extractor.Extract(ctx, text, name)
}

// retryRateLimited runs op and retries it with exponential backoff while it
// fails with ErrRateLimited. Attempts and total wait are bounded by config.
func (b *base) retryRateLimited(ctx context.Context, query string, op func(context.Context) error) error {
	maxAttempts := b.cfg.Collector.RateLimitMaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = config.Duration(b.cfg.Collector.RetryDelay)
	expo.MaxElapsedTime = config.Duration(b.cfg.Collector.RateLimitCeiling)
	expo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		b.logger.Warn(ctx, "rate limited, backing off", map[string]interface{}{
			"query":        query,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"wait_seconds": wait.Seconds(),
		})
	})

	if err != nil && errors.Is(err, domain.ErrRateLimited) {
		b.recorder.LogError("rate_limit_exceeded", err.Error(), map[string]interface{}{
			"source":   b.name,
			"query":    query,
			"attempts": attempt,
		})
	}
	return err
}

// collectPatterns runs search for every pattern, skipping patterns whose search fails
func (b *base) collectPatterns(ctx context.Context, patterns []string, search func(context.Context, string) ([]domain.SearchResult, error), between time.Duration) ([]domain.SearchResult, error) {
	results := []domain.SearchResult{}
	for i, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		b.logger.Info(ctx, "searching pattern", map[string]interface{}{
			"pattern":  pattern,
			"position": fmt.Sprintf("%d/%d", i+1, len(patterns)),
		})

		found, err := search(ctx, pattern)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return append(results, found...), ctxErr
			}
			b.logger.Warn(ctx, "search pattern failed", map[string]interface{}{
				"pattern": pattern,
				"error":   err.Error(),
			})
			b.recorder.LogError(b.name+"_search_error", err.Error(), map[string]interface{}{
				"search_pattern": pattern,
			})
		}
		results = append(results, found...)

		if i < len(patterns)-1 {
			if err := b.pause(ctx, between); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}
