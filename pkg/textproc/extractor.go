package textproc

import (
	"context"
	"fmt"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
)

const extractionSystemPrompt = `あなたは日本語テキストから言語的特徴を中立的に抽出する専門家です。
事前の知識や推測に頼らず、提供されたテキストに実際に含まれている言語的特徴のみを抽出してください。`

const extractionUserTemplate = `以下のテキストから、話し方や言語的特徴を中立的に抽出してください。

%s

【抽出対象】
1. 一人称（実際にテキストで使用されているもののみ）
2. 語尾パターン（実際にテキストで使用されているもののみ）
   - あらゆる形の語尾を見逃さずに抽出
   - ひらがな・カタカナ・記号の組み合わせも正確に保持
   - 短い語尾、長い語尾、珍しい語尾も含む
3. 特徴的な表現や決まり文句（実際にテキストで使用されているもののみ）
4. 呼び方や敬語の使用パターン（実際にテキストで使用されているもののみ）

【重要な原則】
- テキストに実際に書かれていることのみを抽出
- 推測や一般的な知識は使用しない
- 特定の表現様式を排除しない
- 特殊語尾や珍しい語尾も見逃さずに抽出
- テキストに含まれる全ての文字・記号を完全な形で保持
- 語尾の変化形も含めて抽出
- 見つからない場合は出力しない

【出力形式】
各項目を1行ずつ、以下の形式で出力：
一人称: [実際に使用されていた一人称]
語尾: [実際に使用されていた語尾]
表現: [実際に使用されていた特徴的表現]
呼び方: [実際に使用されていた呼び方]

見つからない項目は出力しないでください。

分析対象テキスト:
%s`

// ExtractorOptions configures LLM-based pattern extraction
type ExtractorOptions struct {
	MaxTokens   int
	Temperature float64
	TextLimit   int
	MaxPatterns int
}

// DefaultExtractorOptions returns the settings used by web page extraction
func DefaultExtractorOptions() ExtractorOptions {
	return ExtractorOptions{
		MaxTokens:   1000,
		Temperature: 0.3,
		TextLimit:   3000,
		MaxPatterns: DefaultMaxPatterns,
	}
}

// PatternExtractor asks an LLM for the linguistic features literally present in a text
type PatternExtractor struct {
	llm      domain.LLMClient
	recorder domain.Recorder
	logger   *observability.StructuredLogger
	opts     ExtractorOptions
}

// NewPatternExtractor creates an extractor. A nil recorder discards error records.
func NewPatternExtractor(llm domain.LLMClient, recorder domain.Recorder, opts ExtractorOptions) *PatternExtractor {
	if recorder == nil {
		recorder = domain.NopRecorder{}
	}
	if opts.MaxPatterns <= 0 {
		opts.MaxPatterns = DefaultMaxPatterns
	}
	return &PatternExtractor{
		llm:      llm,
		recorder: recorder,
		logger:   observability.NewStructuredLogger("textproc"),
		opts:     opts,
	}
}

// Extract returns colon-delimited feature lines. Failures yield an empty list.
func (e *PatternExtractor) Extract(ctx context.Context, text, name string) []string {
	if text == "" || e.llm == nil {
		return []string{}
	}

	text = Truncate(text, e.opts.TextLimit)
	contextInfo := "キャラクター名: 不明"
	if name != "" {
		contextInfo = fmt.Sprintf("キャラクター名: %s", name)
	}

	messages := []domain.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(extractionUserTemplate, contextInfo, text)},
	}

	resp, err := e.llm.Chat(ctx, messages, domain.ChatOptions{
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
		Purpose:     "openai_speech_pattern_extraction",
	})
	if err != nil {
		e.logger.Warn(ctx, "speech pattern extraction failed", map[string]interface{}{
			"character_name": name,
			"error":          err.Error(),
		})
		e.recorder.LogError("speech_pattern_extraction_error", err.Error(), map[string]interface{}{
			"character_name": name,
			"text_length":    RuneLen(text),
			"error_type":     fmt.Sprintf("%T", err),
		})
		return []string{}
	}

	return ParseColonLines(resp.Content, e.opts.MaxPatterns)
}
