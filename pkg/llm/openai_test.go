package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *llm.OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:  "sk-test",
		BaseURL: server.URL + "/v1",
		Model:   "gpt-4o",
	})
	require.NoError(t, err)
	return client
}

func TestOpenAIClient_Chat(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])
		assert.Equal(t, float64(2000), req["max_tokens"])

		messages, ok := req["messages"].([]interface{})
		require.True(t, ok)
		require.Len(t, messages, 2)
		first := messages[0].(map[string]interface{})
		assert.Equal(t, "system", first["role"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-2024-08-06",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "一人称: ボク"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	})

	resp, err := client.Chat(context.Background(), []domain.Message{
		{Role: "system", Content: "あなたは専門家です。"},
		{Role: "user", Content: "質問"},
	}, domain.ChatOptions{MaxTokens: 2000, Temperature: 0.1})

	require.NoError(t, err)
	assert.Equal(t, "一人称: ボク", resp.Content)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Model)
}

func TestOpenAIClient_ChatRateLimited(t *testing.T) {
	client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`))
	})

	_, err := client.Chat(context.Background(), []domain.Message{{Role: "user", Content: "x"}}, domain.ChatOptions{})

	require.Error(t, err)
	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "OpenAI", apiErr.Service)
	assert.NotEmpty(t, apiErr.Hint)
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := llm.NewOpenAIClient(llm.OpenAIOptions{})
	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
}
