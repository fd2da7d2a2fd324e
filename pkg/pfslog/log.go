// Package pfslog provides the structured logger used across the virtual
// file system: leveled, field-carrying, with text or JSON output written
// to a single io.Writer; it does no log-file rotation.
package pfslog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
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

// ParseLevel parses a case-insensitive level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// Format selects the wire rendering of each entry.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Entry is one emitted log record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Config configures a Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
}

// DefaultConfig returns the baseline configuration: INFO level, text
// output to stderr, caller annotation on.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stderr,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// Logger is a leveled, field-carrying structured logger. Immutable
// derivations (WithField/WithFields/WithComponent) share the underlying
// output and mutex-guarded level state of their parent.
type Logger struct {
	mu              *sync.RWMutex
	level           *Level
	output          io.Writer
	format          Format
	includeCaller   bool
	contextFields   map[string]interface{}
	componentLevels map[string]Level
}

// New builds a Logger from config, defaulting when config is nil.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	lvl := config.Level
	return &Logger{
		mu:              &sync.RWMutex{},
		level:           &lvl,
		output:          config.Output,
		format:          config.Format,
		includeCaller:   config.IncludeCaller,
		contextFields:   map[string]interface{}{},
		componentLevels: map[string]Level{},
	}
}

// WithField returns a derived logger carrying an additional field on every
// subsequent entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a derived logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.contextFields)+len(fields))
	for k, v := range l.contextFields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		mu:              l.mu,
		level:           l.level,
		output:          l.output,
		format:          l.format,
		includeCaller:   l.includeCaller,
		contextFields:   merged,
		componentLevels: l.componentLevels,
	}
}

// WithComponent tags every entry with a component name, honoring any
// per-component level override set via SetComponentLevel.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// SetComponentLevel overrides the effective level for entries tagged with
// the given component.
func (l *Logger) SetComponentLevel(component string, level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.componentLevels[component] = level
}

// SetLevel sets the global level shared by this logger and its derivations.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

func (l *Logger) isEnabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if component, ok := l.contextFields["component"].(string); ok {
		if compLevel, exists := l.componentLevels[component]; exists {
			return level >= compLevel
		}
	}
	return level >= *l.level
}

func (l *Logger) emit(level Level, message string, fields map[string]interface{}) {
	if !l.isEnabled(level) {
		return
	}
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}, len(l.contextFields)+len(fields)),
	}
	for k, v := range l.contextFields {
		entry.Fields[k] = v
	}
	for k, v := range fields {
		entry.Fields[k] = v
	}
	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			parts := strings.Split(file, "/")
			entry.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var rendered string
	if l.format == FormatJSON {
		if data, err := json.Marshal(entry); err == nil {
			rendered = string(data) + "\n"
		} else {
			rendered = formatText(entry)
		}
	} else {
		rendered = formatText(entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(rendered))
}

func formatText(entry Entry) string {
	var sb strings.Builder
	sb.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(entry.Level)
	sb.WriteString("] ")
	if entry.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(entry.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(entry.Message)
	if len(entry.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range entry.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&sb, "%s=%v", k, v)
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

func (l *Logger) Trace(message string, fields ...map[string]interface{}) { l.logf(TRACE, message, fields) }
func (l *Logger) Debug(message string, fields ...map[string]interface{}) { l.logf(DEBUG, message, fields) }
func (l *Logger) Info(message string, fields ...map[string]interface{})  { l.logf(INFO, message, fields) }
func (l *Logger) Warn(message string, fields ...map[string]interface{})  { l.logf(WARN, message, fields) }
func (l *Logger) Error(message string, fields ...map[string]interface{}) { l.logf(ERROR, message, fields) }

func (l *Logger) logf(level Level, message string, fieldMaps []map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 {
		fields = fieldMaps[0]
	}
	l.emit(level, message, fields)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.emit(DEBUG, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(format string, args ...interface{})  { l.emit(INFO, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.emit(WARN, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.emit(ERROR, fmt.Sprintf(format, args...), nil) }
