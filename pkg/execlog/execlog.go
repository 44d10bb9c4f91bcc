// Package execlog records one run's steps, API calls, errors and metrics
// into a JSON log that is rewritten after every record.
package execlog

import (
	"context"
	"sync"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"github.com/oklog/ulid/v2"
)

// SessionLayout formats the session ID from the start time
const SessionLayout = "20060102_150405"

// Step is one recorded pipeline step
type Step struct {
	Timestamp time.Time              `json:"timestamp"`
	StepName  string                 `json:"step_name"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details"`
	Duration  *float64               `json:"duration"`
}

// APICall is one recorded external call
type APICall struct {
	Timestamp time.Time              `json:"timestamp"`
	APIType   string                 `json:"api_type"`
	Request   map[string]interface{} `json:"request"`
	Response  map[string]interface{} `json:"response"`
	Duration  *float64               `json:"duration"`
	Error     string                 `json:"error,omitempty"`
	Status    string                 `json:"status"`
}

// ErrorEntry is one recorded error
type ErrorEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	ErrorType    string                 `json:"error_type"`
	ErrorMessage string                 `json:"error_message"`
	Context      map[string]interface{} `json:"context"`
}

// Metric is one named performance value
type Metric struct {
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Log is the persisted document
type Log struct {
	SessionID     string            `json:"session_id"`
	RunID         string            `json:"run_id"`
	SessionStart  time.Time         `json:"session_start"`
	SessionEnd    *time.Time        `json:"session_end,omitempty"`
	CharacterName string            `json:"character_name"`
	Steps         []Step            `json:"steps"`
	APICalls      []APICall         `json:"api_calls"`
	Errors        []ErrorEntry      `json:"errors"`
	Performance   map[string]Metric `json:"performance"`
	FinalResult   interface{}       `json:"final_result"`
}

// Summary condenses a log for display after the run
type Summary struct {
	SessionID          string            `json:"session_id"`
	RunID              string            `json:"run_id"`
	CharacterName      string            `json:"character_name"`
	TotalSteps         int               `json:"total_steps"`
	SuccessfulSteps    int               `json:"successful_steps"`
	TotalAPICalls      int               `json:"total_api_calls"`
	SuccessfulAPICalls int               `json:"successful_api_calls"`
	TotalErrors        int               `json:"total_errors"`
	SessionDuration    *float64          `json:"session_duration"`
	PerformanceMetrics map[string]Metric `json:"performance_metrics"`
}

// Option configures a Logger
type Option func(*Logger)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// Logger implements domain.Recorder. Persistence failures are logged and
// kept in Err; they never interrupt the run.
type Logger struct {
	mu      sync.Mutex
	log     Log
	store   *FileStore
	now     func() time.Time
	lastErr error
	logger  *observability.StructuredLogger
}

// New starts a session. An empty dir keeps the log in memory only.
func New(dir string, opts ...Option) *Logger {
	l := &Logger{
		now:    time.Now,
		logger: observability.NewStructuredLogger("execlog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if dir != "" {
		l.store = NewFileStore(dir)
	}

	start := l.now()
	l.log = Log{
		SessionID:    start.Format(SessionLayout),
		RunID:        ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		SessionStart: start,
		Steps:        []Step{},
		APICalls:     []APICall{},
		Errors:       []ErrorEntry{},
		Performance:  map[string]Metric{},
	}
	return l
}

// SessionID returns the YYYYMMDD_HHMMSS session identifier
func (l *Logger) SessionID() string {
	return l.log.SessionID
}

// RunID returns the sortable run identifier
func (l *Logger) RunID() string {
	return l.log.RunID
}

// Path returns the session file, or "" for an in-memory log
func (l *Logger) Path() string {
	if l.store == nil {
		return ""
	}
	return l.store.SessionPath(l.log.SessionID)
}

// Store returns the backing store, nil for an in-memory log
func (l *Logger) Store() *FileStore {
	return l.store
}

// SetCharacterName records the subject of the run
func (l *Logger) SetCharacterName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.CharacterName = name
	l.saveLocked()
}

// LogStep records a pipeline step
func (l *Logger) LogStep(step, status string, details map[string]interface{}, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if details == nil {
		details = map[string]interface{}{}
	}
	l.log.Steps = append(l.log.Steps, Step{
		Timestamp: l.now(),
		StepName:  step,
		Status:    status,
		Details:   details,
		Duration:  seconds(duration),
	})
	l.saveLocked()
}

// LogAPICall records an external call. A nil err marks it successful.
func (l *Logger) LogAPICall(apiType string, request, response map[string]interface{}, duration time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	call := APICall{
		Timestamp: l.now(),
		APIType:   apiType,
		Request:   request,
		Response:  response,
		Duration:  seconds(duration),
		Status:    "success",
	}
	if err != nil {
		call.Error = err.Error()
		call.Status = "error"
	}
	l.log.APICalls = append(l.log.APICalls, call)
	l.saveLocked()
}

// LogError records a handled error
func (l *Logger) LogError(errorType, message string, context map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if context == nil {
		context = map[string]interface{}{}
	}
	l.log.Errors = append(l.log.Errors, ErrorEntry{
		Timestamp:    l.now(),
		ErrorType:    errorType,
		ErrorMessage: message,
		Context:      context,
	})
	l.saveLocked()
}

// LogMetric sets a named performance value, replacing any earlier one
func (l *Logger) LogMetric(name string, value interface{}, unit string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log.Performance[name] = Metric{Value: value, Unit: unit, Timestamp: l.now()}
	l.saveLocked()
}

// SetFinalResult stores the run output and closes the session
func (l *Logger) SetFinalResult(result interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := l.now()
	l.log.FinalResult = result
	l.log.SessionEnd = &end
	l.saveLocked()
}

// Summary counts steps and calls. Steps with status "completed" or
// "success" count as successful.
func (l *Logger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		SessionID:          l.log.SessionID,
		RunID:              l.log.RunID,
		CharacterName:      l.log.CharacterName,
		TotalSteps:         len(l.log.Steps),
		TotalAPICalls:      len(l.log.APICalls),
		TotalErrors:        len(l.log.Errors),
		PerformanceMetrics: make(map[string]Metric, len(l.log.Performance)),
	}
	for _, step := range l.log.Steps {
		if step.Status == "completed" || step.Status == "success" {
			s.SuccessfulSteps++
		}
	}
	for _, call := range l.log.APICalls {
		if call.Status == "success" {
			s.SuccessfulAPICalls++
		}
	}
	for k, v := range l.log.Performance {
		s.PerformanceMetrics[k] = v
	}
	if l.log.SessionEnd != nil {
		d := l.log.SessionEnd.Sub(l.log.SessionStart).Seconds()
		s.SessionDuration = &d
	}
	return s
}

// Err returns the most recent persistence error
func (l *Logger) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Logger) saveLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(&l.log); err != nil {
		l.lastErr = err
		l.logger.Warn(context.Background(), "failed to save execution log", map[string]interface{}{
			"session_id": l.log.SessionID,
			"error":      err.Error(),
		})
	}
}

func seconds(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	s := d.Seconds()
	return &s
}
