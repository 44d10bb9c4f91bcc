package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

const defaultAPIType = "openai_chat_completion"

// RecordingClient writes every chat call into the execution log with truncated prompts
type RecordingClient struct {
	client          domain.LLMClient
	recorder        domain.Recorder
	model           string
	promptLogLength int
}

// NewRecordingClient wraps client so each call is reported to recorder
func NewRecordingClient(client domain.LLMClient, recorder domain.Recorder, model string, promptLogLength int) *RecordingClient {
	if recorder == nil {
		recorder = domain.NopRecorder{}
	}
	return &RecordingClient{
		client:          client,
		recorder:        recorder,
		model:           model,
		promptLogLength: promptLogLength,
	}
}

// Chat forwards the call and records request, response and duration.
// The returned content is trimmed of surrounding whitespace.
func (c *RecordingClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	apiType := opts.Purpose
	if apiType == "" {
		apiType = defaultAPIType
	}
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	start := time.Now()
	resp, err := c.client.Chat(ctx, messages, opts)
	duration := time.Since(start)

	if err != nil {
		c.recorder.LogError(apiType+"_error", err.Error(), map[string]interface{}{
			"model":          model,
			"messages_count": len(messages),
			"duration":       duration.Seconds(),
		})
		c.recorder.LogAPICall(apiType, c.requestData(model, messages, opts), nil, duration, err)
		return nil, err
	}

	resp.Content = strings.TrimSpace(resp.Content)
	c.recorder.LogAPICall(apiType, c.requestData(model, messages, opts), map[string]interface{}{
		"result":        resp.Content,
		"result_length": textproc.RuneLen(resp.Content),
		"total_tokens":  resp.Usage.TotalTokens,
	}, duration, nil)

	return resp, nil
}

func (c *RecordingClient) requestData(model string, messages []domain.Message, opts domain.ChatOptions) map[string]interface{} {
	data := map[string]interface{}{
		"model":          model,
		"messages_count": len(messages),
		"max_tokens":     opts.MaxTokens,
		"temperature":    opts.Temperature,
		"system_prompt":  "",
		"user_prompt":    "",
	}
	if len(messages) > 0 {
		data["system_prompt"] = textproc.TruncateWithEllipsis(messages[0].Content, c.promptLogLength)
	}
	if len(messages) > 1 {
		data["user_prompt"] = textproc.TruncateWithEllipsis(messages[len(messages)-1].Content, c.promptLogLength)
	}
	return data
}

// ClientOptions selects and configures the chat backend
type ClientOptions struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// NewClient builds the configured provider client
func NewClient(opts ClientOptions) (domain.LLMClient, error) {
	switch opts.Provider {
	case "", "openai":
		return NewOpenAIClient(OpenAIOptions{
			APIKey:  opts.APIKey,
			BaseURL: opts.BaseURL,
			Model:   opts.Model,
			Timeout: opts.Timeout,
		})
	case "ollama":
		return NewOllamaClient(opts.BaseURL, opts.Model, &OllamaOptions{
			Temperature: 0.7,
			MaxTokens:   4000,
			Timeout:     opts.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", opts.Provider)
	}
}
