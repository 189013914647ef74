package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
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
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level, defaulting to INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides leveled logging with attached context fields.
// The level can be changed at runtime (config hot reload), so reads
// and writes of it go through a mutex shared by derived loggers.
type Logger struct {
	mu        *sync.Mutex
	level     *Level
	component string
	output    io.Writer
	fields    map[string]interface{}
}

// NewLogger creates a logger for a component. A nil output writes to stdout.
func NewLogger(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		mu:        &sync.Mutex{},
		level:     &level,
		component: component,
		output:    output,
	}
}

// SetLevel changes the minimum level for this logger and all loggers
// derived from it.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	*l.level = level
	l.mu.Unlock()
}

// Component returns a copy of the logger tagged with a different component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		mu:        l.mu,
		level:     l.level,
		component: name,
		output:    l.output,
		fields:    l.fields,
	}
}

// WithContext returns a new Logger with one added context field
func (l *Logger) WithContext(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new Logger with multiple added context fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		mu:        l.mu,
		level:     l.level,
		component: l.component,
		output:    l.output,
		fields:    merged,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	min := *l.level
	l.mu.Unlock()
	if level < min {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Component: l.component,
		Message:   fmt.Sprintf(format, args...),
		Fields:    l.fields,
	}

	l.mu.Lock()
	l.output.Write([]byte(formatEntry(entry)))
	l.mu.Unlock()
}
