package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// DefaultOllamaURL is used when no base URL is configured for the ollama provider
const DefaultOllamaURL = "http://localhost:11434"

// maxErrorBody bounds how much of a failed response is kept in the error
const maxErrorBody = 512

// OllamaOptions are the defaults applied when a call leaves a field unset
type OllamaOptions struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
	Timeout     time.Duration
}

// OllamaClient talks to a local Ollama server through /api/chat
type OllamaClient struct {
	endpoint string
	model    string
	defaults OllamaOptions
	http     *http.Client
}

// generation options in Ollama's naming
type ollamaParams struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string       `json:"model"`
	Messages []ollamaTurn `json:"messages"`
	Options  ollamaParams `json:"options"`
	Stream   bool         `json:"stream"`
}

type ollamaChatResponse struct {
	Model           string     `json:"model"`
	Message         ollamaTurn `json:"message"`
	DoneReason      string     `json:"done_reason"`
	PromptEvalCount int        `json:"prompt_eval_count"`
	EvalCount       int        `json:"eval_count"`
	Error           string     `json:"error"`
}

// NewOllamaClient returns a client for baseURL, or DefaultOllamaURL when empty
func NewOllamaClient(baseURL, model string, options *OllamaOptions) *OllamaClient {
	defaults := OllamaOptions{Temperature: 0.7, MaxTokens: 4000, Timeout: 2 * time.Minute}
	if options != nil {
		defaults = *options
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/chat",
		model:    model,
		defaults: defaults,
		http:     &http.Client{Timeout: defaults.Timeout},
	}
}

// Chat sends one non-streaming chat request
func (c *OllamaClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: make([]ollamaTurn, 0, len(messages)),
		Options:  c.params(opts),
	}
	if opts.Model != "" {
		payload.Model = opts.Model
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ollamaTurn{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ollamaStatusError(resp)
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if out.Error != "" {
		return nil, &domain.APIError{Service: "Ollama", StatusCode: resp.StatusCode, Err: errors.New(out.Error)}
	}

	finish := out.DoneReason
	if finish == "" {
		finish = "stop"
	}
	return &domain.ChatResponse{
		Content:      out.Message.Content,
		FinishReason: finish,
		Model:        out.Model,
		Usage: domain.TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func (c *OllamaClient) params(opts domain.ChatOptions) ollamaParams {
	p := ollamaParams{
		Temperature: firstPositive(opts.Temperature, c.defaults.Temperature),
		NumPredict:  int(firstPositive(float64(opts.MaxTokens), float64(c.defaults.MaxTokens))),
		TopP:        firstPositive(opts.TopP, c.defaults.TopP),
		TopK:        int(firstPositive(float64(opts.TopK), float64(c.defaults.TopK))),
	}
	if len(opts.Stop) > 0 {
		p.Stop = opts.Stop
	}
	return p
}

func firstPositive(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func ollamaStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	// Ollama reports failures as {"error": "..."}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	apiErr := &domain.APIError{Service: "Ollama", StatusCode: resp.StatusCode, Err: errors.New(msg)}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		apiErr.Err = fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case http.StatusNotFound:
		apiErr.Hint = "ollama pull でモデルを取得してください"
	}
	return apiErr
}
