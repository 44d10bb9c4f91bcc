package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ncolesummers/character-prompt-agent/internal/testutil"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func sampleInfo() *domain.AggregateCharacterInfo {
	wiki := domain.NewSearchResult("https://ja.wikipedia.org/wiki/ずんだもん", "ずんだもん", "ずんだもんは東北地方の応援キャラクターである。", "本文")
	wiki.Categories = []string{"架空のキャラクター", "東北地方"}

	var web []domain.SearchResult
	for i := 0; i < 7; i++ {
		r := domain.NewSearchResult(fmt.Sprintf("https://example.com/%d", i), fmt.Sprintf("記事%d", i), "", "本文")
		r.SpeechPatterns = []string{fmt.Sprintf("語尾: なのだ%d", i), fmt.Sprintf("一人称: ボク%d", i)}
		web = append(web, r)
	}
	web[0].CharacterQuotes = []domain.CharacterQuote{{Text: "ずんだ餅を食べるのだ", ConfidenceScore: 0.5}}

	yt := domain.NewTranscriptCollection(domain.NewCollectionResult([]domain.SearchResult{
		domain.NewSearchResult("https://www.youtube.com/watch?v=abcdefghijk", "YouTube動画 abcdefghijk", "", "字幕"),
	}, "ずんだもん", "youtube"))
	yt.SamplePhrases = []string{"ボクはずんだもんなのだ", " ", "今日もがんばるのだ"}
	yt.CharacterQuotes = []domain.CharacterQuote{{Text: "ずんだ餅を食べるのだ"}, {Text: "ボクはずんだもんなのだ"}}
	yt.SpeechPatternAnalysis = &domain.SpeechPatternAnalysis{FirstPerson: []string{"ボク"}, Endings: []string{"のだ"}}

	return &domain.AggregateCharacterInfo{
		Name:               "ずんだもん",
		Backend:            domain.BackendBing,
		WikipediaInfo:      domain.NewCollectionResult([]domain.SearchResult{wiki}, "ずんだもん", "wikipedia"),
		SearchResults:      domain.NewCollectionResult(web, "ずんだもん", "bing"),
		YouTubeTranscripts: yt,
	}
}

func emptyInfo(name string) *domain.AggregateCharacterInfo {
	return &domain.AggregateCharacterInfo{
		Name:               name,
		WikipediaInfo:      domain.NewErrorResult("not found", name, "wikipedia"),
		SearchResults:      domain.NewTimeoutResult(0),
		YouTubeTranscripts: domain.NewTranscriptCollection(nil),
	}
}

func testOptions() Options {
	return OptionsFrom(config.Default())
}

func TestOrganize(t *testing.T) {
	org := Organize(sampleInfo(), testOptions())

	assert.Equal(t, "ずんだもん", org.Name)
	assert.True(t, org.WikipediaFound)
	assert.Equal(t, "ずんだもんは東北地方の応援キャラクターである。", org.WikipediaSummary)
	assert.Equal(t, 7, org.SearchResultsCount)

	wantKeys := []string{
		"正式名称: ずんだもん",
		"カテゴリ: 架空のキャラクター, 東北地方",
		"関連情報: 記事0", "関連情報: 記事1", "関連情報: 記事2", "関連情報: 記事3", "関連情報: 記事4",
	}
	if diff := cmp.Diff(wantKeys, org.KeyInformation); diff != "" {
		t.Errorf("key information mismatch (-want +got):\n%s", diff)
	}

	assert.Len(t, org.WebSpeechPatterns, 10, "capped by max_web_speech_patterns")
	assert.Equal(t, "語尾: なのだ0", org.WebSpeechPatterns[0])
	assert.Equal(t, []string{"一人称: ボク", "語尾: のだ"}, org.VideoSpeechLines)
	assert.True(t, org.YouTubeFound)
	assert.Equal(t, []string{"ずんだ餅を食べるのだ", "ボクはずんだもんなのだ"}, org.QuoteSamples, "quotes are deduplicated")
	assert.Equal(t, []string{"Wikipedia", "Web検索(7件)", "YouTube動画"}, org.Sources())
}

func TestOrganizeEmpty(t *testing.T) {
	org := Organize(&domain.AggregateCharacterInfo{}, testOptions())
	assert.Equal(t, "不明", org.Name)
	assert.False(t, org.WikipediaFound)
	assert.False(t, org.YouTubeFound)
	assert.Empty(t, org.KeyInformation)
	assert.NotNil(t, org.QuoteSamples)
	assert.Empty(t, org.Sources())
}

func TestGenerateSuccess(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	llm.Responses["openai_prompt_generation"] = "以下の情報をもとに、ロールプレイを行います。ずんだもんなのだ。"
	llm.Responses["openai_policy_safe_prompt"] = "安全なプロンプト"
	llm.Responses["openai_character_introduction"] = "ボクはずんだもんなのだ！"

	gen := NewPromptGenerator(llm, testOptions(), nil, nil)
	result := gen.Generate(testutil.NewTestContext(t), sampleInfo())

	assert.Equal(t, "以下の情報をもとに、ロールプレイを行います。ずんだもんなのだ。", result.GeneratedPrompt)
	assert.Equal(t, "安全なプロンプト", result.PolicySafePrompt)
	assert.Equal(t, "ボクはずんだもんなのだ！", result.CharacterIntroduction)
	assert.False(t, result.FallbackUsed())

	assert.Equal(t, 3, llm.GetCallCount())
	assert.ElementsMatch(t, []string{
		"openai_prompt_generation", "openai_policy_safe_prompt", "openai_character_introduction",
	}, llm.GetPurposes())
	assert.Equal(t, "openai_prompt_generation", llm.GetPurposes()[0], "main stage runs first")

	ai := result.APIInteraction
	assert.Equal(t, "ずんだもん", ai.CharacterName)
	assert.Equal(t, "gpt-4o", ai.Model)
	assert.False(t, ai.FallbackUsed)
	assert.Contains(t, ai.UserPrompt, "■ ずんだもんの基本情報（Wikipedia）")
	assert.Contains(t, ai.UserPrompt, "「ボクはずんだもんなのだ」")
	assert.Contains(t, ai.UserPrompt, "- 語尾: なのだ0")
	assert.Contains(t, ai.UserPrompt, "- 一人称: ボク")
	assert.NotContains(t, ai.UserPrompt, "「 」", "blank phrases are skipped")

	require.Len(t, result.Stages, 3)
	assert.Equal(t, StageMain, result.Stages[0].Stage)
	assert.Equal(t, 8, result.Stages[1].Length)
}

func TestGenerateFallsBackOnEveryStage(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	llm.ShouldError = true
	llm.ErrorMessage = "429 Too Many Requests"

	info := sampleInfo()
	gen := NewPromptGenerator(llm, testOptions(), nil, nil)
	result := gen.Generate(testutil.NewTestContext(t), info)

	org := Organize(info, testOptions())
	assert.Equal(t, FallbackPrompt(org, testOptions()), result.GeneratedPrompt)
	assert.Equal(t, FallbackPolicySafe(org, testOptions()), result.PolicySafePrompt)
	assert.Equal(t, FallbackIntroduction(org), result.CharacterIntroduction)

	assert.True(t, result.FallbackUsed())
	assert.True(t, result.APIInteraction.FallbackUsed)
	assert.Contains(t, result.APIInteraction.Error, "429")
	assert.Empty(t, result.APIInteraction.UserPrompt)
	for _, s := range result.Stages {
		assert.True(t, s.FallbackUsed, s.Stage)
	}
}

func TestGenerateWithoutClient(t *testing.T) {
	gen := NewPromptGenerator(nil, testOptions(), nil, nil)
	result := gen.Generate(testutil.NewTestContext(t), emptyInfo("X"))

	assert.True(t, strings.HasPrefix(result.GeneratedPrompt, "以下の情報をもとに、ロールプレイを行います。"))
	assert.Contains(t, result.GeneratedPrompt, "・Xとして一貫したキャラクターを演じる")
	assert.NotContains(t, result.GeneratedPrompt, "から収集した情報を基に作成されています", "no sources to cite")
	assert.Equal(t, "はじめまして、Xです。よろしくお願いします。", result.CharacterIntroduction)
	assert.Contains(t, result.APIInteraction.Error, domain.ErrMissingAPIKey.Error())
}

func TestGeneratePartialFailure(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	llm.ChatFunc = func(_ context.Context, _ []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
		switch opts.Purpose {
		case "openai_policy_safe_prompt":
			return nil, errors.New("content filter")
		case "openai_character_introduction":
			return &domain.ChatResponse{Content: "   "}, nil
		}
		return &domain.ChatResponse{Content: "生成されたプロンプト"}, nil
	}

	info := sampleInfo()
	result := NewPromptGenerator(llm, testOptions(), nil, nil).Generate(testutil.NewTestContext(t), info)
	org := Organize(info, testOptions())

	assert.Equal(t, "生成されたプロンプト", result.GeneratedPrompt)
	assert.False(t, result.APIInteraction.FallbackUsed)
	assert.Equal(t, FallbackPolicySafe(org, testOptions()), result.PolicySafePrompt)
	assert.Equal(t, "はじめまして、ずんだもんです。「ボクはずんだもんなのだ」よろしくお願いします。", result.CharacterIntroduction)
	assert.Contains(t, result.Stages[2].Error, "empty response")
}

func TestFallbackTemplatesAreDeterministic(t *testing.T) {
	opts := testOptions()
	first := Organize(sampleInfo(), opts)
	second := Organize(sampleInfo(), opts)

	assert.Equal(t, FallbackPrompt(first, opts), FallbackPrompt(second, opts))
	assert.Equal(t, FallbackPolicySafe(first, opts), FallbackPolicySafe(second, opts))
	assert.Equal(t, FallbackIntroduction(first), FallbackIntroduction(second))
}

func TestFallbackPromptContent(t *testing.T) {
	opts := testOptions()
	opts.WikipediaFallbackLimit = 5
	org := Organize(sampleInfo(), opts)
	prompt := FallbackPrompt(org, opts)

	assert.Contains(t, prompt, "## 基本情報\nずんだもん...\n")
	assert.Contains(t, prompt, "- 語尾: なのだ0")
	assert.Contains(t, prompt, "- 「ボクはずんだもんなのだ」")
	assert.NotContains(t, prompt, "一人称: ボク2", "fallback lists are capped")
	assert.Contains(t, prompt, "※ Wikipedia, Web検索(7件), YouTube動画から収集した情報を基に作成されています。")
	assert.True(t, strings.HasSuffix(prompt, "※ ChatGPT APIが利用できないため、基本的なプロンプト形式で提供しています。"))

	safe := FallbackPolicySafe(org, opts)
	assert.Contains(t, safe, "【コンテンツポリシーに関する指示】")
}

func TestGenerateTelemetry(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	reader := metric.NewManualReader()
	telemetry := testutil.SetupTestTelemetry(spanRecorder, reader)
	metrics, err := observability.NewMetrics(telemetry.Meter())
	require.NoError(t, err)

	llm := testutil.NewMockLLMClient()
	NewPromptGenerator(llm, testOptions(), telemetry, metrics).Generate(testutil.NewTestContext(t), sampleInfo())

	var names []string
	for _, s := range spanRecorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "generator.main_prompt")
	assert.Contains(t, names, "generator.policy_safe_prompt")
	assert.Contains(t, names, "generator.character_introduction")
}
