package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

const (
	knowledgeBaseQuery       = "ChatGPT知識ベース検索"
	knowledgeBaseKeyRequired = "ChatGPT検索にはOpenAI API Keyが必要です"
	knowledgeBaseDomain      = "chatgpt.knowledge-base"
)

const knowledgeBaseSystemPrompt = `あなたは日本のキャラクター、人物、作品に関する詳細な知識を持つ専門家です。
質問されたキャラクターについて、あなたの知識ベースから正確で詳細な情報を提供してください。
推測や曖昧な情報は避け、確実に知っている情報のみを回答してください。`

const knowledgeBaseUserTemplate = `"%[1]s"について、以下の観点から詳しく教えてください：

検索クエリ: %[2]s

以下の項目について、知っている情報があれば詳しく説明してください：

1. 基本情報
   - 作品名・出典
   - キャラクターの設定・背景
   - 性格や特徴

2. 話し方・言語的特徴
   - 一人称（「僕」「俺」「私」「ウチ」「ワタクシ」など）
   - 語尾の特徴（「だよ」「なのだ」「ですの」「だっぺ」など）
   - 口癖や決まり文句
   - 敬語の使用パターン
   - 特徴的な表現や話し方

3. セリフの例
   - 実際の発言例があれば具体的に示してください
   - どのような場面でどんな話し方をするか

4. その他の特徴
   - 感情表現の仕方
   - 他キャラクターとの関係性での話し方の変化

知らない情報については「不明」と明記し、推測は行わないでください。
確実に知っている情報のみを、具体例を交えて詳しく説明してください。`

// KnowledgeBaseCollector asks the LLM what it knows about a character
type KnowledgeBaseCollector struct {
	base
	hasCredential bool
}

// NewKnowledgeBaseCollector creates a knowledge-base collector
func NewKnowledgeBaseCollector(deps Deps) *KnowledgeBaseCollector {
	deps = deps.withDefaults()
	return &KnowledgeBaseCollector{
		base:          newBase(string(domain.BackendKnowledgeBase), deps),
		hasCredential: deps.LLM != nil && (deps.Config.LLM.Provider != "openai" || deps.Config.LLM.APIKey != ""),
	}
}

// Collect queries the LLM once per search pattern
func (c *KnowledgeBaseCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	return c.instrument(ctx, knowledgeBaseQuery, func(ctx context.Context) (*domain.CollectionResult, error) {
		if !c.hasCredential {
			return domain.NewErrorResult(knowledgeBaseKeyRequired, knowledgeBaseQuery, c.name),
				&domain.CollectorError{Source: c.name, Op: "collect", Err: domain.ErrMissingAPIKey}
		}

		patterns := config.ExpandPatterns(c.cfg.Search.Patterns, name)
		results, err := c.collectPatterns(ctx, patterns, func(ctx context.Context, pattern string) ([]domain.SearchResult, error) {
			result, err := c.ask(ctx, pattern, name)
			if err != nil {
				return nil, err
			}
			return []domain.SearchResult{result}, nil
		}, c.delay)

		c.logger.Info(ctx, "knowledge base search finished", map[string]interface{}{
			"character_name": name,
			"results":        len(results),
		})
		return domain.NewCollectionResult(results, knowledgeBaseQuery, c.name), err
	})
}

func (c *KnowledgeBaseCollector) ask(ctx context.Context, query, name string) (domain.SearchResult, error) {
	messages := []domain.Message{
		{Role: "system", Content: knowledgeBaseSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(knowledgeBaseUserTemplate, name, query)},
	}

	start := time.Now()
	resp, err := c.llm.Chat(ctx, messages, domain.ChatOptions{
		MaxTokens:   c.cfg.LLM.SearchMaxTokens,
		Temperature: c.cfg.LLM.SearchTemperature,
		Purpose:     "openai_chatgpt_search",
	})
	if err != nil {
		c.recorder.LogError("chatgpt_api_search_error", err.Error(), map[string]interface{}{
			"search_query":   query,
			"character_name": name,
			"error_type":     fmt.Sprintf("%T", err),
		})
		return domain.SearchResult{}, fmt.Errorf("knowledge base query %q: %w", query, err)
	}

	result := domain.NewSearchResult(
		"chatgpt://knowledge-base/"+name,
		fmt.Sprintf("%sに関するChatGPT知識ベース情報", name),
		fmt.Sprintf("ChatGPTの知識ベースから取得した%sの詳細情報", name),
		resp.Content,
	)
	result.Domain = knowledgeBaseDomain
	result.SpeechPatterns = textproc.ExtractLabeledPatterns(resp.Content, name, c.cfg.Processing.MaxSpeechPatterns)
	result.Source = c.name
	result.SearchQuery = query
	result.APIDuration = time.Since(start).Seconds()
	return result, nil
}
