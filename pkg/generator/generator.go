// Package generator turns an aggregate character record into role-play
// prompts. Each LLM stage falls back to a deterministic template on failure.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
	"golang.org/x/sync/errgroup"
)

// Stage names one LLM call of the generator
type Stage string

const (
	StageMain         Stage = "main_prompt"
	StagePolicySafe   Stage = "policy_safe_prompt"
	StageIntroduction Stage = "character_introduction"
)

// Purpose tags the stage's LLM call in the execution log
func (s Stage) Purpose() string {
	switch s {
	case StageMain:
		return "openai_prompt_generation"
	case StagePolicySafe:
		return "openai_policy_safe_prompt"
	case StageIntroduction:
		return "openai_character_introduction"
	}
	return "openai_" + string(s)
}

// Options bounds the organized data and tunes the LLM calls
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64

	MaxKeyInformation       int
	MaxSamplePhrasesDisplay int
	MaxWebSpeechPatterns    int
	MaxQuoteSamples         int
	WikipediaSummaryLimit   int
	WikipediaFallbackLimit  int
	// FallbackItems caps each list in the template prompts
	FallbackItems int
}

// OptionsFrom reads generator options from cfg
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Model:                   cfg.LLM.Model,
		MaxTokens:               cfg.LLM.MaxTokens,
		Temperature:             cfg.LLM.Temperature,
		MaxKeyInformation:       cfg.Processing.MaxKeyInformation,
		MaxSamplePhrasesDisplay: cfg.Processing.MaxSamplePhrasesDisplay,
		MaxWebSpeechPatterns:    cfg.Processing.MaxWebSpeechPatterns,
		MaxQuoteSamples:         5,
		WikipediaSummaryLimit:   cfg.Processing.WikipediaSummaryLimit,
		WikipediaFallbackLimit:  cfg.Processing.WikipediaFallbackLimit,
		FallbackItems:           5,
	}
}

// OrganizedInfo is the flat view of an aggregate record used by every stage
type OrganizedInfo struct {
	Name               string
	WikipediaFound     bool
	WikipediaTitle     string
	WikipediaSummary   string
	SearchResultsCount int
	KeyInformation     []string
	WebSpeechPatterns  []string
	VideoSpeechLines   []string
	YouTubeFound       bool
	SamplePhrases      []string
	QuoteSamples       []string
}

// Sources lists where the data came from, for the template footer
func (o OrganizedInfo) Sources() []string {
	var sources []string
	if o.WikipediaFound {
		sources = append(sources, "Wikipedia")
	}
	if o.SearchResultsCount > 0 {
		sources = append(sources, fmt.Sprintf("Web検索(%d件)", o.SearchResultsCount))
	}
	if o.YouTubeFound {
		sources = append(sources, "YouTube動画")
	}
	return sources
}

// Organize flattens info into per-field capped lists
func Organize(info *domain.AggregateCharacterInfo, opts Options) OrganizedInfo {
	org := OrganizedInfo{
		Name:              info.Name,
		KeyInformation:    []string{},
		WebSpeechPatterns: []string{},
		VideoSpeechLines:  []string{},
		SamplePhrases:     []string{},
		QuoteSamples:      []string{},
	}
	if org.Name == "" {
		org.Name = "不明"
	}

	var quotes []string

	if wiki := info.WikipediaInfo; wiki != nil && wiki.Found && len(wiki.Results) > 0 {
		page := wiki.Results[0]
		org.WikipediaFound = true
		org.WikipediaTitle = page.Title
		org.WikipediaSummary = page.Description
		if org.WikipediaSummary == "" {
			org.WikipediaSummary = page.Content
		}
		if page.Title != "" {
			org.KeyInformation = append(org.KeyInformation, "正式名称: "+page.Title)
		}
		if len(page.Categories) > 0 {
			org.KeyInformation = append(org.KeyInformation,
				"カテゴリ: "+strings.Join(limit(page.Categories, opts.MaxKeyInformation), ", "))
		}
	}

	if search := info.SearchResults; search != nil && search.Found && len(search.Results) > 0 {
		org.SearchResultsCount = len(search.Results)
		var patterns []string
		for _, r := range limitResults(search.Results, opts.MaxKeyInformation) {
			if r.Title != "" {
				org.KeyInformation = append(org.KeyInformation, "関連情報: "+textproc.Truncate(r.Title, 100))
			}
			patterns = append(patterns, r.SpeechPatterns...)
		}
		for _, r := range search.Results {
			for _, q := range r.CharacterQuotes {
				quotes = append(quotes, q.Text)
			}
		}
		org.WebSpeechPatterns = limit(patterns, opts.MaxWebSpeechPatterns)
	}

	if yt := info.YouTubeTranscripts; yt != nil && yt.Found {
		org.YouTubeFound = true
		org.SamplePhrases = append(org.SamplePhrases, yt.SamplePhrases...)
		for _, q := range yt.CharacterQuotes {
			quotes = append(quotes, q.Text)
		}
		if a := yt.SpeechPatternAnalysis; a != nil {
			org.VideoSpeechLines = append(org.VideoSpeechLines, labelled("一人称", a.FirstPerson)...)
			org.VideoSpeechLines = append(org.VideoSpeechLines, labelled("語尾", a.Endings)...)
			org.VideoSpeechLines = append(org.VideoSpeechLines, labelled("表現", a.Expressions)...)
			org.VideoSpeechLines = append(org.VideoSpeechLines, labelled("呼び方", a.Addressing)...)
		}
	}

	org.QuoteSamples = limit(dedupe(quotes), opts.MaxQuoteSamples)
	return org
}

// Result is the generator output for one run
type Result struct {
	GeneratedPrompt       string         `json:"generated_prompt"`
	PolicySafePrompt      string         `json:"policy_safe_prompt"`
	CharacterIntroduction string         `json:"character_introduction"`
	APIInteraction        APIInteraction `json:"api_interaction"`
	Stages                []StageResult  `json:"stages"`
}

// APIInteraction records the main generation exchange
type APIInteraction struct {
	SystemPrompt  string `json:"system_prompt,omitempty"`
	UserPrompt    string `json:"user_prompt,omitempty"`
	Response      string `json:"response,omitempty"`
	Model         string `json:"model,omitempty"`
	CharacterName string `json:"character_name"`
	Error         string `json:"error,omitempty"`
	FallbackUsed  bool   `json:"fallback_used"`
}

// StageResult is the outcome of one stage
type StageResult struct {
	Stage        Stage   `json:"stage"`
	FallbackUsed bool    `json:"fallback_used"`
	Error        string  `json:"error,omitempty"`
	Length       int     `json:"length"`
	Duration     float64 `json:"duration"`
}

// FallbackUsed reports whether any stage substituted a template
func (r *Result) FallbackUsed() bool {
	for _, s := range r.Stages {
		if s.FallbackUsed {
			return true
		}
	}
	return false
}

// PromptGenerator runs the three generation stages
type PromptGenerator struct {
	llm       domain.LLMClient
	opts      Options
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewPromptGenerator creates a generator. llm may be nil, in which case
// every stage uses its template.
func NewPromptGenerator(llm domain.LLMClient, opts Options, telemetry *observability.Telemetry, metrics *observability.Metrics) *PromptGenerator {
	if telemetry == nil {
		telemetry = observability.NewNoopTelemetry()
	}
	return &PromptGenerator{
		llm:       llm,
		opts:      opts,
		telemetry: telemetry,
		metrics:   metrics,
		logger:    observability.NewStructuredLogger("generator"),
	}
}

// Generate always returns a complete result. The main prompt is generated
// first; the policy-safe rewrite and the introduction run concurrently on it.
func (g *PromptGenerator) Generate(ctx context.Context, info *domain.AggregateCharacterInfo) *Result {
	org := Organize(info, g.opts)
	userPrompt := buildMainUserPrompt(org, g.opts)

	result := &Result{
		APIInteraction: APIInteraction{
			CharacterName: org.Name,
			Model:         g.opts.Model,
		},
	}

	mainText, mainStage := g.stage(ctx, StageMain, mainSystemPrompt, userPrompt, func() string {
		return FallbackPrompt(org, g.opts)
	})
	result.GeneratedPrompt = mainText
	if mainStage.FallbackUsed {
		result.APIInteraction.Error = mainStage.Error
		result.APIInteraction.FallbackUsed = true
	} else {
		result.APIInteraction.SystemPrompt = mainSystemPrompt
		result.APIInteraction.UserPrompt = userPrompt
		result.APIInteraction.Response = mainText
	}

	var policyStage, introStage StageResult
	g2, gctx := errgroup.WithContext(ctx)
	g2.Go(func() error {
		result.PolicySafePrompt, policyStage = g.stage(gctx, StagePolicySafe, policySafeSystemPrompt, mainText, func() string {
			return FallbackPolicySafe(org, g.opts)
		})
		return nil
	})
	g2.Go(func() error {
		result.CharacterIntroduction, introStage = g.stage(gctx, StageIntroduction, introductionSystemPrompt, mainText, func() string {
			return FallbackIntroduction(org)
		})
		return nil
	})
	_ = g2.Wait()

	result.Stages = []StageResult{mainStage, policyStage, introStage}
	return result
}

// stage calls the LLM once and substitutes fallback() on any failure
func (g *PromptGenerator) stage(ctx context.Context, stage Stage, system, user string, fallback func() string) (string, StageResult) {
	sr := StageResult{Stage: stage}
	var text string
	start := time.Now()

	g.telemetry.InstrumentGeneratorStage(ctx, string(stage), func(ctx context.Context) bool {
		var err error
		text, err = g.complete(ctx, stage, system, user)
		if err != nil {
			g.logger.Warn(ctx, "generation stage failed, using template", map[string]interface{}{
				"stage": string(stage),
				"error": err.Error(),
			})
			sr.FallbackUsed = true
			sr.Error = err.Error()
			text = fallback()
		}
		return sr.FallbackUsed
	})

	sr.Length = textproc.RuneLen(text)
	sr.Duration = time.Since(start).Seconds()
	if g.metrics != nil {
		g.metrics.RecordPromptGeneration(ctx, string(stage), sr.FallbackUsed)
	}
	return text, sr
}

func (g *PromptGenerator) complete(ctx context.Context, stage Stage, system, user string) (string, error) {
	if g.llm == nil {
		return "", fmt.Errorf("%s: %w", stage, domain.ErrMissingAPIKey)
	}
	resp, err := g.llm.Chat(ctx, []domain.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, domain.ChatOptions{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
		Purpose:     stage.Purpose(),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", stage, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%s: empty response", stage)
	}
	return text, nil
}

func labelled(label string, items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, label+": "+item)
	}
	return out
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

func limitResults(results []domain.SearchResult, n int) []domain.SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
