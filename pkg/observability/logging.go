package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var (
	outputMu sync.RWMutex
	// logOutput is the destination for log entries. It's a variable to allow redirection in tests.
	logOutput io.Writer = os.Stderr
	logLevel            = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// SetLogOutput sets the output destination for loggers created afterwards.
func SetLogOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	logOutput = w
}

// SetLogLevel changes the minimum level for every logger, including existing ones.
func SetLogLevel(level string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return err
	}
	logLevel.SetLevel(l)
	return nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "severity",
		MessageKey:  "message",
		LineEnding:  zapcore.DefaultLineEnding,
		EncodeLevel: zapcore.CapitalLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(time.RFC3339Nano))
		},
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

// StructuredLogger provides structured logging with trace correlation
type StructuredLogger struct {
	zl        *zap.Logger
	output    io.Writer
	component string
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(component string) *StructuredLogger {
	outputMu.RLock()
	w := logOutput
	outputMu.RUnlock()
	return newStructuredLogger(w, component)
}

func newStructuredLogger(w io.Writer, component string) *StructuredLogger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		logLevel,
	)
	return &StructuredLogger{
		zl:        zap.New(core).With(zap.String("component", component)),
		output:    w,
		component: component,
	}
}

// extractTraceInfo extracts trace and span IDs from context
func extractTraceInfo(ctx context.Context) (traceID, spanID string) {
	if ctx == nil {
		return "", ""
	}
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		traceID = spanCtx.TraceID().String()
		spanID = spanCtx.SpanID().String()
	}
	return traceID, spanID
}

func (l *StructuredLogger) fields(ctx context.Context, attrs map[string]interface{}) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if traceID, spanID := extractTraceInfo(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID), zap.String("span_id", spanID))
	}
	if len(attrs) > 0 {
		fields = append(fields, zap.Any("attributes", attrs))
	}
	return fields
}

func firstAttrs(attrs []map[string]interface{}) map[string]interface{} {
	if len(attrs) > 0 {
		return attrs[0]
	}
	return nil
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Debug(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Info logs an info message
func (l *StructuredLogger) Info(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Info(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.zl.Warn(message, l.fields(ctx, firstAttrs(attrs))...)
}

// Error logs an error message
func (l *StructuredLogger) Error(ctx context.Context, message string, err error, attrs ...map[string]interface{}) {
	attributes := make(map[string]interface{})
	for k, v := range firstAttrs(attrs) {
		attributes[k] = v
	}
	if err != nil {
		attributes["error"] = err.Error()
	}
	l.zl.Error(message, l.fields(ctx, attributes)...)
}

// Sync flushes buffered entries
func (l *StructuredLogger) Sync() error {
	return l.zl.Sync()
}

// WithComponent creates a new logger with a different component name
func (l *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return newStructuredLogger(l.output, component)
}

// Logger interface for dependency injection
type Logger interface {
	Debug(ctx context.Context, message string, attrs ...map[string]interface{})
	Info(ctx context.Context, message string, attrs ...map[string]interface{})
	Warn(ctx context.Context, message string, attrs ...map[string]interface{})
	Error(ctx context.Context, message string, err error, attrs ...map[string]interface{})
}
