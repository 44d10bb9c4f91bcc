package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements the LLMClient interface for OpenAI-compatible chat APIs
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// OpenAIOptions configures the OpenAI client
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4o
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   opts.Model,
		timeout: opts.Timeout,
	}, nil
}

// Chat performs a chat completion
func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertOpenAIMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
		TopP:        float32(opts.TopP),
		Stop:        opts.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := resp.Choices[0]
	return &domain.ChatResponse{
		Content: choice.Message.Content,
		Usage: domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}, nil
}

func convertOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return converted
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.APIError{
			Service:    "OpenAI",
			StatusCode: apiErr.HTTPStatusCode,
			Hint:       openAIHint(apiErr.HTTPStatusCode),
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.APIError{
			Service:    "OpenAI",
			StatusCode: reqErr.HTTPStatusCode,
			Hint:       openAIHint(reqErr.HTTPStatusCode),
			Err:        err,
		}
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}

func openAIHint(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "APIキーを確認してください"
	case http.StatusTooManyRequests:
		return "利用制限に達しました。しばらく待ってから再実行してください"
	default:
		return ""
	}
}
