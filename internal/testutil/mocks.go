package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// MockLLMClient is a mock implementation of LLMClient for testing
type MockLLMClient struct {
	mu           sync.Mutex
	Responses    map[string]string
	CallCount    int
	LastMessages []domain.Message
	Purposes     []string
	ShouldError  bool
	ErrorMessage string
	// ChatFunc allows custom chat behavior for tests
	ChatFunc func(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error)
}

// NewMockLLMClient creates a new mock LLM client
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Responses: make(map[string]string),
	}
}

// Chat implements domain.LLMClient.
// Responses are looked up by last message content, then by options.Purpose, then "default".
func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error) {
	if m.ChatFunc != nil {
		m.mu.Lock()
		m.CallCount++
		m.LastMessages = messages
		m.Purposes = append(m.Purposes, options.Purpose)
		m.mu.Unlock()
		return m.ChatFunc(ctx, messages, options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastMessages = messages
	m.Purposes = append(m.Purposes, options.Purpose)

	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}

	var content string
	if len(messages) > 0 {
		lastMsg := messages[len(messages)-1]
		if resp, ok := m.Responses[lastMsg.Content]; ok {
			content = resp
		} else if resp, ok := m.Responses[options.Purpose]; ok && options.Purpose != "" {
			content = resp
		} else if resp, ok := m.Responses["default"]; ok {
			content = resp
		} else {
			content = "Mock response"
		}
	}

	return &domain.ChatResponse{
		Content: content,
		Usage: domain.TokenUsage{
			PromptTokens:     50,
			CompletionTokens: 50,
			TotalTokens:      100,
		},
		FinishReason: "stop",
	}, nil
}

// GetCallCount returns the number of Chat calls made
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetPurposes returns the purpose tags of every call in order
func (m *MockLLMClient) GetPurposes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Purposes))
	copy(out, m.Purposes)
	return out
}

// RecordedStep is one LogStep call captured by MockRecorder
type RecordedStep struct {
	Step     string
	Status   string
	Details  map[string]interface{}
	Duration time.Duration
}

// RecordedAPICall is one LogAPICall call captured by MockRecorder
type RecordedAPICall struct {
	APIType  string
	Request  map[string]interface{}
	Response map[string]interface{}
	Err      error
}

// MockRecorder captures execution log records in memory
type MockRecorder struct {
	mu       sync.Mutex
	Steps    []RecordedStep
	APICalls []RecordedAPICall
	Errors   []string
	Metrics  map[string]interface{}
}

// NewMockRecorder creates an empty recorder
func NewMockRecorder() *MockRecorder {
	return &MockRecorder{Metrics: make(map[string]interface{})}
}

// LogStep implements domain.Recorder
func (r *MockRecorder) LogStep(step, status string, details map[string]interface{}, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, RecordedStep{Step: step, Status: status, Details: details, Duration: duration})
}

// LogAPICall implements domain.Recorder
func (r *MockRecorder) LogAPICall(apiType string, request, response map[string]interface{}, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.APICalls = append(r.APICalls, RecordedAPICall{APIType: apiType, Request: request, Response: response, Err: err})
}

// LogError implements domain.Recorder
func (r *MockRecorder) LogError(errorType, _ string, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, errorType)
}

// LogMetric implements domain.Recorder
func (r *MockRecorder) LogMetric(name string, value interface{}, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[name] = value
}

// StepStatuses returns "step:status" pairs in call order
func (r *MockRecorder) StepStatuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		out = append(out, s.Step+":"+s.Status)
	}
	return out
}

// APITypes returns the api_type of every recorded call in order
func (r *MockRecorder) APITypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.APICalls))
	for _, c := range r.APICalls {
		out = append(out, c.APIType)
	}
	return out
}

// ErrorTypes returns the recorded error types in order
func (r *MockRecorder) ErrorTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Errors))
	copy(out, r.Errors)
	return out
}

// StubCollector is a configurable domain.Collector
type StubCollector struct {
	mu         sync.Mutex
	SourceName string
	Result     *domain.CollectionResult
	Err        error
	// Delay blocks Collect until it elapses or the context is cancelled
	Delay time.Duration
	// PanicValue makes Collect panic when non-nil
	PanicValue interface{}
	// VideoURLs is returned by SearchVideoURLs
	VideoURLs []string
	calls     []string
}

// Name implements domain.Collector
func (s *StubCollector) Name() string {
	return s.SourceName
}

// Collect implements domain.Collector
func (s *StubCollector) Collect(ctx context.Context, name string) (*domain.CollectionResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()

	if s.PanicValue != nil {
		panic(s.PanicValue)
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return domain.NewErrorResult(ctx.Err().Error(), name, s.SourceName), ctx.Err()
		}
	}
	if s.Result != nil {
		return s.Result, s.Err
	}
	if s.Err != nil {
		return domain.NewErrorResult(s.Err.Error(), name, s.SourceName), s.Err
	}
	return domain.NewCollectionResult([]domain.SearchResult{
		domain.NewSearchResult("https://example.com/"+name, name, "stub", "stub content"),
	}, name, s.SourceName), nil
}

// SearchVideoURLs implements domain.VideoURLSearcher
func (s *StubCollector) SearchVideoURLs(_ context.Context, _ string) ([]string, error) {
	return s.VideoURLs, nil
}

// Calls returns the names Collect was invoked with
func (s *StubCollector) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// StubTranscriptCollector is a configurable domain.TranscriptCollector
type StubTranscriptCollector struct {
	mu       sync.Mutex
	Result   *domain.TranscriptCollection
	Err      error
	Delay    time.Duration
	received [][]string
}

// Collect implements domain.TranscriptCollector
func (s *StubTranscriptCollector) Collect(ctx context.Context, name string, urls []string) (*domain.TranscriptCollection, error) {
	s.mu.Lock()
	s.received = append(s.received, urls)
	s.mu.Unlock()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return domain.NewTranscriptCollection(nil), ctx.Err()
		}
	}
	if s.Result != nil {
		return s.Result, s.Err
	}
	return domain.NewTranscriptCollection(domain.NewErrorResult("字幕付き動画が見つかりませんでした", name, "youtube")), s.Err
}

// Received returns the URL lists passed to Collect
func (s *StubTranscriptCollector) Received() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.received))
	copy(out, s.received)
	return out
}
