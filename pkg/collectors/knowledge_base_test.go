package collectors

import (
	"errors"
	"testing"

	"github.com/ncolesummers/character-prompt-agent/internal/testutil"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnowledgeBaseMissingKey(t *testing.T) {
	cfg := testutil.NewTestConfig()
	cfg.LLM.APIKey = ""
	cfg.Search.Patterns = nil

	c := NewKnowledgeBaseCollector(Deps{Config: cfg, LLM: testutil.NewMockLLMClient()})
	result, err := c.Collect(testutil.NewTestContext(t), "X")

	require.NotNil(t, result)
	assert.False(t, result.Found)
	assert.Contains(t, result.Error, "API Key")
	assert.Equal(t, 0, result.TotalResults)
	assert.Empty(t, result.Results)
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)

	var collectorErr *domain.CollectorError
	assert.True(t, errors.As(err, &collectorErr))
}

func TestKnowledgeBaseNoClient(t *testing.T) {
	c := NewKnowledgeBaseCollector(Deps{Config: testutil.NewTestConfig()})
	result, err := c.Collect(testutil.NewTestContext(t), "X")

	assert.False(t, result.Found)
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
}

func TestKnowledgeBaseCollect(t *testing.T) {
	cfg := testutil.NewTestConfig()
	mock := testutil.NewMockLLMClient()
	mock.Responses["openai_chatgpt_search"] = "一人称: ボク\n語尾: なのだ\n「ずんだ餅は最高なのだ」と話す。"
	recorder := testutil.NewMockRecorder()

	c := NewKnowledgeBaseCollector(Deps{Config: cfg, LLM: mock, Recorder: recorder})
	result, err := c.Collect(testutil.NewTestContext(t), "ずんだもん")
	require.NoError(t, err)

	assert.True(t, result.Found)
	assert.Equal(t, len(cfg.Search.Patterns), result.TotalResults)
	assert.NoError(t, result.Validate())
	assert.Equal(t, "chatgpt", result.Source)
	assert.Equal(t, knowledgeBaseQuery, result.Query)

	first := result.Results[0]
	assert.Equal(t, "chatgpt://knowledge-base/ずんだもん", first.URL)
	assert.Equal(t, "chatgpt.knowledge-base", first.Domain)
	assert.Equal(t, "ずんだもんに関するChatGPT知識ベース情報", first.Title)
	assert.Contains(t, first.SpeechPatterns, "一人称: ボク")
	assert.Contains(t, first.SpeechPatterns, "語尾: なのだ")
	assert.Contains(t, first.SpeechPatterns, "セリフ例: ずんだ餅は最高なのだ")

	for _, p := range mock.GetPurposes() {
		assert.Equal(t, "openai_chatgpt_search", p)
	}
	assert.Equal(t, len(cfg.Search.Patterns), mock.GetCallCount())
}

func TestKnowledgeBasePartialFailure(t *testing.T) {
	cfg := testutil.NewTestConfig()
	mock := testutil.NewMockLLMClient()
	mock.ShouldError = true
	mock.ErrorMessage = "upstream unavailable"
	recorder := testutil.NewMockRecorder()

	c := NewKnowledgeBaseCollector(Deps{Config: cfg, LLM: mock, Recorder: recorder})
	result, err := c.Collect(testutil.NewTestContext(t), "X")

	require.NoError(t, err, "per-pattern failures are not fatal")
	assert.False(t, result.Found)
	assert.Equal(t, domain.NoResultsMessage, result.Error)
	assert.Contains(t, recorder.ErrorTypes(), "chatgpt_api_search_error")
	assert.Contains(t, recorder.ErrorTypes(), "chatgpt_search_error")
}
