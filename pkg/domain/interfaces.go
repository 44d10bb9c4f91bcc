package domain

import (
	"context"
	"time"
)

// LLMClient defines the interface for language model interactions
type LLMClient interface {
	// Chat performs a chat completion
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)
}

// Collector retrieves information about a named subject from one source.
// The returned result is never nil; a non-nil error explains why nothing was found.
type Collector interface {
	// Name returns the lower-cased source name
	Name() string

	// Collect gathers information for name
	Collect(ctx context.Context, name string) (*CollectionResult, error)
}

// VideoURLSearcher finds video links for a subject
type VideoURLSearcher interface {
	SearchVideoURLs(ctx context.Context, name string) ([]string, error)
}

// TranscriptCollector gathers subtitles for a set of video URLs
type TranscriptCollector interface {
	Collect(ctx context.Context, name string, urls []string) (*TranscriptCollection, error)
}

// Recorder receives audit records for the execution log
type Recorder interface {
	LogStep(step, status string, details map[string]interface{}, duration time.Duration)
	LogAPICall(apiType string, request, response map[string]interface{}, duration time.Duration, err error)
	LogError(errorType, message string, context map[string]interface{})
	LogMetric(name string, value interface{}, unit string)
}

// NopRecorder discards every record
type NopRecorder struct{}

func (NopRecorder) LogStep(string, string, map[string]interface{}, time.Duration) {}
func (NopRecorder) LogAPICall(string, map[string]interface{}, map[string]interface{}, time.Duration, error) {
}
func (NopRecorder) LogError(string, string, map[string]interface{}) {}
func (NopRecorder) LogMetric(string, interface{}, string)           {}

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatOptions provides options for chat completions
type ChatOptions struct {
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	// Purpose tags the call in the execution log, e.g. "openai_chatgpt_search"
	Purpose string `json:"purpose,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	Content      string     `json:"content"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Model        string     `json:"model,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
