package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name ("debug", "info", ...) to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", name)
	}
}

// LogContext provides context for log messages
type LogContext struct {
	SuiteID    string `json:"suiteId,omitempty"`
	JobID      string `json:"jobId,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
	Model      string `json:"model,omitempty"`
	Operation  string `json:"operation,omitempty"`
}

// Options configures a Logger
type Options struct {
	Level  LogLevel
	JSON   bool
	Stdout io.Writer
	Stderr io.Writer
}

// Logger provides leveled logging with proper output streams.
// Normal logs go to stdout, errors to stderr.
type Logger struct {
	debug  *log.Logger
	info   *log.Logger
	warn   *log.Logger
	error  *log.Logger
	fatal  *log.Logger
	level  LogLevel
	json   bool
	stdout io.Writer
	stderr io.Writer
	mu     sync.Mutex
}

// JSONLogEntry represents a structured log entry
type JSONLogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   *LogContext            `json:"context,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewLogger creates a logger configured from the environment.
// LOG_LEVEL selects the minimum level, LOG_FORMAT=json (or a Cloud Foundry
// VCAP_APPLICATION) switches to JSON entries.
func NewLogger() *Logger {
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = INFO
	}
	jsonOutput := os.Getenv("LOG_FORMAT") == "json" || os.Getenv("VCAP_APPLICATION") != ""
	return New(Options{Level: level, JSON: jsonOutput})
}

// New creates a logger with explicit options
func New(opts Options) *Logger {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Logger{
		debug:  log.New(stdout, "[DEBUG] ", log.LstdFlags),
		info:   log.New(stdout, "[INFO]  ", log.LstdFlags),
		warn:   log.New(stdout, "[WARN]  ", log.LstdFlags),
		error:  log.New(stderr, "[ERROR] ", log.LstdFlags),
		fatal:  log.New(stderr, "[FATAL] ", log.LstdFlags),
		level:  opts.Level,
		json:   opts.JSON,
		stdout: stdout,
		stderr: stderr,
	}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return New(Options{Level: FATAL + 1, Stdout: io.Discard, Stderr: io.Discard})
}

// Level returns the minimum level that is emitted
func (l *Logger) Level() LogLevel {
	return l.level
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

func (l *Logger) output(level LogLevel, ctx *LogContext, fields map[string]interface{}, format string, v ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	if l.json {
		l.logJSON(level, format, ctx, fields, v...)
		return
	}

	line := l.formatContext(ctx) + format + l.formatFields(fields)
	switch level {
	case DEBUG:
		l.debug.Printf(line, v...)
	case INFO:
		l.info.Printf(line, v...)
	case WARN:
		l.warn.Printf(line, v...)
	case ERROR:
		l.error.Printf(line, v...)
	default:
		l.fatal.Printf(line, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(DEBUG, nil, nil, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.output(INFO, nil, nil, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(WARN, nil, nil, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.output(ERROR, nil, nil, format, v...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.output(FATAL, nil, nil, format, v...)
	os.Exit(1)
}

// DebugWithContext logs a debug message with context
func (l *Logger) DebugWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.output(DEBUG, ctx, nil, format, v...)
}

// InfoWithContext logs an info message with context
func (l *Logger) InfoWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.output(INFO, ctx, nil, format, v...)
}

// WarnWithContext logs a warning message with context
func (l *Logger) WarnWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.output(WARN, ctx, nil, format, v...)
}

// ErrorWithContext logs an error message with context
func (l *Logger) ErrorWithContext(ctx *LogContext, format string, v ...interface{}) {
	l.output(ERROR, ctx, nil, format, v...)
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.output(DEBUG, nil, fields, format, v...)
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.output(INFO, nil, fields, format, v...)
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.output(WARN, nil, fields, format, v...)
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	l.output(ERROR, nil, fields, format, v...)
}

// logJSON logs a structured JSON message
func (l *Logger) logJSON(level LogLevel, format string, ctx *LogContext, fields map[string]interface{}, v ...interface{}) {
	message := format
	if len(v) > 0 {
		message = fmt.Sprintf(format, v...)
	}

	entry := JSONLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Message:   message,
		Context:   ctx,
		Fields:    fields,
	}

	output := l.stdout
	if level >= ERROR {
		output = l.stderr
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	encoder := json.NewEncoder(output)
	encoder.SetEscapeHTML(false)
	encoder.Encode(entry)
}

// formatContext formats context for human-readable logs
func (l *Logger) formatContext(ctx *LogContext) string {
	if ctx == nil {
		return ""
	}

	parts := []string{}
	if ctx.SuiteID != "" {
		parts = append(parts, fmt.Sprintf("[Suite:%s]", ctx.SuiteID))
	}
	if ctx.JobID != "" {
		parts = append(parts, fmt.Sprintf("[Job:%s]", ctx.JobID))
	}
	if ctx.QuestionID != "" {
		parts = append(parts, fmt.Sprintf("[Question:%s]", ctx.QuestionID))
	}
	if ctx.Model != "" {
		parts = append(parts, fmt.Sprintf("[Model:%s]", ctx.Model))
	}
	if ctx.Operation != "" {
		parts = append(parts, fmt.Sprintf("[Op:%s]", ctx.Operation))
	}

	if len(parts) > 0 {
		return strings.Join(parts, "") + " "
	}
	return ""
}

// formatFields formats structured fields for human-readable logs.
// Keys are sorted so output is stable.
func (l *Logger) formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fieldStr := " |"
	for _, k := range keys {
		// escape % so the fields survive the Printf in output
		fieldStr += strings.ReplaceAll(fmt.Sprintf(" %s=%v", k, fields[k]), "%", "%%")
	}
	return fieldStr
}

// WithContext returns a context logger for chaining
func (l *Logger) WithContext(ctx *LogContext) *ContextLogger {
	return &ContextLogger{
		logger: l,
		ctx:    ctx,
	}
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *Logger
	ctx    *LogContext
}

// Debug logs a debug message with the context
func (cl *ContextLogger) Debug(format string, v ...interface{}) {
	cl.logger.DebugWithContext(cl.ctx, format, v...)
}

// Info logs an info message with the context
func (cl *ContextLogger) Info(format string, v ...interface{}) {
	cl.logger.InfoWithContext(cl.ctx, format, v...)
}

// Warn logs a warning message with the context
func (cl *ContextLogger) Warn(format string, v ...interface{}) {
	cl.logger.WarnWithContext(cl.ctx, format, v...)
}

// Error logs an error message with the context
func (cl *ContextLogger) Error(format string, v ...interface{}) {
	cl.logger.ErrorWithContext(cl.ctx, format, v...)
}

// InfoWithFields logs an info message with context and fields
func (cl *ContextLogger) InfoWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.output(INFO, cl.ctx, fields, format, v...)
}

// ErrorWithFields logs an error message with context and fields
func (cl *ContextLogger) ErrorWithFields(format string, fields map[string]interface{}, v ...interface{}) {
	cl.logger.output(ERROR, cl.ctx, fields, format, v...)
}
