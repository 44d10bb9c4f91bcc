package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIKey       = errors.New("OpenAI API Keyが設定されていません")
	ErrInvalidURL          = errors.New("invalid url")
	ErrRateLimited         = errors.New("rate limited (429 Too Many Requests)")
	ErrTerminalStatus      = errors.New("terminal http status")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrBranchTimeout       = errors.New("branch timed out")
	ErrNoVideoURLs         = errors.New("no video urls available")
	ErrUnsupportedBackend  = errors.New("unsupported search backend")
	ErrConflictingBackends = errors.New("検索エンジンオプション（--use-duckduckgo, --use-bing, --use-chatgpt-search）は同時に指定できません")
)

// CollectorError explains why a collector produced no data
type CollectorError struct {
	Source string
	Op     string
	Err    error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *CollectorError) Unwrap() error {
	return e.Err
}

// APIError is a failure reported by an external API together with a remediation hint
type APIError struct {
	Service    string
	StatusCode int
	Hint       string
	Err        error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s API error (status %d)", e.Service, e.StatusCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Hint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Hint)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid or incomplete setup detected before collection starts
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
