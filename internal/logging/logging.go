package logging

import (
	"encoding/json"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Level represents log severity level.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// severityNumbers maps OTEL severity text to OTEL severity number.
// See https://opentelemetry.io/docs/specs/otel/logs/data-model/#severity-fields
var severityNumbers = map[Level]int{
	LevelDebug: 5,  // DEBUG
	LevelInfo:  9,  // INFO
	LevelWarn:  13, // WARN
	LevelError: 17, // ERROR
	LevelFatal: 21, // FATAL
}

// SeverityNumber returns the OTEL severity number for a level.
func SeverityNumber(level Level) int {
	return severityNumbers[level]
}

// ParseLevel maps a case-insensitive level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

var logMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "request_toolbar_log_messages_total",
	Help: "Log messages emitted, by level, component and operation",
}, []string{"level", "component", "operation"})

func init() {
	prometheus.MustRegister(logMessagesTotal)
}

// LogHook is called for every log entry, allowing secondary log sinks
// (e.g., OTLP log export) without the logging package importing them.
type LogHook func(level Level, msg string, attrs map[string]interface{})

// Logger provides JSON structured logging in OTEL-compatible format.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	resource map[string]string
	hook     LogHook
	minLevel Level
}

// LogEntry represents a single log entry in OTEL-compatible JSON format.
type LogEntry struct {
	Timestamp      string                 `json:"Timestamp"`
	SeverityText   string                 `json:"SeverityText"`
	SeverityNumber int                    `json:"SeverityNumber"`
	Body           string                 `json:"Body"`
	Attributes     map[string]interface{} `json:"Attributes,omitempty"`
	Resource       map[string]string      `json:"Resource,omitempty"`
}

var defaultLogger = &Logger{output: os.Stdout, minLevel: LevelInfo}

// SetOutput sets the output writer for the default logger. A nil writer restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.output = w
}

// SetResource sets the OTEL resource attributes (service.name, service.version, etc.)
// for the default logger. Should be called once at startup.
func SetResource(resource map[string]string) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.resource = resource
}

// SetHook registers a hook that is called for every emitted log entry.
// Used by the telemetry package to forward logs via OTLP.
func SetHook(hook LogHook) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.hook = hook
}

// SetLevel sets the minimum level written to the output and the hook.
// Suppressed messages are still counted in metrics.
func SetLevel(level Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.minLevel = level
}

// GetLevel returns the minimum emitted level.
func GetLevel() Level {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	if defaultLogger.minLevel == "" {
		return LevelInfo
	}
	return defaultLogger.minLevel
}

// log writes a structured log entry in OTEL-compatible JSON format.
func (l *Logger) log(level Level, msg string, attrs map[string]interface{}) {
	component, _ := attrs["component"].(string)
	if component == "" {
		component = callerComponent()
	}
	operation, _ := attrs["operation"].(string)
	if operation == "" {
		operation = detectOperation(msg)
	}
	logMessagesTotal.WithLabelValues(string(level), component, operation).Inc()

	l.mu.Lock()
	min := l.minLevel
	if min == "" {
		min = LevelInfo
	}
	if severityNumbers[level] < severityNumbers[min] {
		l.mu.Unlock()
		return
	}

	entry := LogEntry{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		SeverityText:   string(level),
		SeverityNumber: severityNumbers[level],
		Body:           msg,
		Attributes:     attrs,
		Resource:       l.resource,
	}
	hook := l.hook
	data, _ := json.Marshal(entry)
	_, _ = l.output.Write(append(data, '\n'))
	l.mu.Unlock()

	// Call hook outside the lock to avoid deadlocks
	if hook != nil {
		hook(level, msg, attrs)
	}
}

// callerComponent returns the internal package name of the code that called a
// package-level log function, or "main" for commands.
func callerComponent() string {
	pcs := make([]uintptr, 4)
	// log -> Info/Warn/... -> caller
	n := runtime.Callers(4, pcs)
	if n == 0 {
		return "unknown"
	}
	frame, _ := runtime.CallersFrames(pcs[:n]).Next()
	fn := frame.Function
	if i := strings.Index(fn, "/internal/"); i >= 0 {
		rest := fn[i+len("/internal/"):]
		if j := strings.IndexAny(rest, "./"); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	if strings.HasPrefix(fn, "main.") {
		return "main"
	}
	return "unknown"
}

var operationKeywords = []struct {
	keyword   string
	operation string
}{
	{"duplicate checkpoint", "checkpoint"},
	{"checkpoint", "checkpoint"},
	{"stage", "derive"},
	{"timeline", "derive"},
	{"collector", "collect"},
	{"snapshot", "snapshot"},
	{"cache", "cache"},
	{"bucket", "cache"},
	{"query", "query"},
	{"database", "query"},
	{"config", "config"},
	{"telemetry", "telemetry"},
	{"otlp", "telemetry"},
	{"memory limit", "memlimit"},
	{"startup", "lifecycle"},
	{"shutdown", "lifecycle"},
	{"started", "lifecycle"},
	{"stopped", "lifecycle"},
}

// detectOperation derives a coarse operation label from a log message.
func detectOperation(msg string) string {
	lower := strings.ToLower(msg)
	for _, k := range operationKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.operation
		}
	}
	return "general"
}

func fieldsOf(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug level message.
func Debug(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelDebug, msg, fieldsOf(fields))
}

// Info logs an info level message.
func Info(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelInfo, msg, fieldsOf(fields))
}

// Warn logs a warning level message.
func Warn(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelWarn, msg, fieldsOf(fields))
}

// Error logs an error level message.
func Error(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelError, msg, fieldsOf(fields))
}

// Fatal logs a fatal level message and exits.
func Fatal(msg string, fields ...map[string]interface{}) {
	defaultLogger.log(LevelFatal, msg, fieldsOf(fields))
	os.Exit(1)
}

// F is a helper to create fields map.
func F(keyvals ...interface{}) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(keyvals)-1; i += 2 {
		if key, ok := keyvals[i].(string); ok {
			fields[key] = keyvals[i+1]
		}
	}
	return fields
}
