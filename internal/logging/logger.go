package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
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

// Fields are structured key/value pairs attached to a log entry
type Fields map[string]interface{}

// Logger provides structured logging with file output support.
// Loggers derived with WithField share the parent's sink.
type Logger struct {
	level      Level
	jsonFormat bool
	sink       *sink
	fields     Fields
}

// sink serialises writes; watchers log from their own goroutines.
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
}

// NewLogger creates a logger writing to w
func NewLogger(w io.Writer, level Level, jsonFormat bool) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		sink:       &sink{output: w},
		fields:     make(Fields),
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewLogger(io.Discard, FATAL+1, false)
}

// NewFileLogger creates a logger appending to path. When echo is set,
// entries are also written to stderr.
func NewFileLogger(path string, level Level, jsonFormat, echo bool) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	var output io.Writer = logFile
	if echo {
		output = io.MultiWriter(logFile, os.Stderr)
	}

	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		sink:       &sink{output: output, logFile: logFile},
		fields:     make(Fields),
	}, nil
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	var line string
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    merged,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
			return
		}
		line = string(data)
	} else {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		line = fmt.Sprintf("[%s] %s: %s", timestamp, level.String(), message)
		if len(merged) > 0 {
			line += " " + formatFields(merged)
		}
	}

	l.sink.mu.Lock()
	fmt.Fprintln(l.sink.output, line)
	l.sink.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

// formatFields renders fields as sorted key=value pairs
func formatFields(fields Fields) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) {
	l.log(DEBUG, message, first(fields))
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) {
	l.log(INFO, message, first(fields))
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) {
	l.log(WARN, message, first(fields))
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) {
	l.log(ERROR, message, first(fields))
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) {
	l.log(FATAL, message, first(fields))
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newFields := make(Fields, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		sink:       l.sink,
		fields:     newFields,
	}
}

// Writer returns an io.Writer that logs every written line at level.
// Used to forward child output into the log.
func (l *Logger) Writer(level Level) io.Writer {
	return &lineWriter{logger: l, level: level}
}

type lineWriter struct {
	logger *Logger
	level  Level
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.log(w.level, line, nil)
		}
	}
	return len(p), nil
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch level {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	case "FATAL", "fatal":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	if l.sink.logFile != nil {
		l.Debug("Logger closing")
		return l.sink.logFile.Close()
	}
	return nil
}
