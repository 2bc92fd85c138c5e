// Package logging provides the structured logging interface that the
// event-sourcing core and its reaction runtime log through. Aggregate
// actors, process instances, and the NATS broadcast store take an ILogger
// rather than calling a global logger directly.
package logging

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Level is a log severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// ILogger is the structured logging contract aggregate actors, process
// instances, and the NATS broadcast store hold as a field and log through.
type ILogger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithFields returns a new Logger with fields merged onto its own.
	WithFields(fields ...Field) ILogger

	// WithField is WithFields for a single key/value pair.
	WithField(key string, value any) ILogger
}

// Field is one structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value any
}

// Field constructors.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

func Error(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration carries a time.Duration field value.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// StdLogger is an ILogger built on the standard library's log package.
type StdLogger struct {
	prefix string
	fields []Field
}

// NewStdLogger builds a StdLogger that prefixes every line with prefix.
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{
		prefix: prefix,
		fields: make([]Field, 0),
	}
}

// format lays a line out as: <prefix> [component] event=... msg key=value...
// component and event are pulled to the front since they're what callers
// scan/grep for first; everything else follows in the order it was given.
func (l *StdLogger) format(msg string, fields ...Field) string {
	allFields := append(append([]Field{}, l.fields...), fields...)

	var component, event string
	otherFields := make([]Field, 0, len(allFields))

	for _, f := range allFields {
		switch f.Key {
		case "component":
			component = formatValue(f.Value)
		case "event":
			event = formatValue(f.Value)
		default:
			otherFields = append(otherFields, f)
		}
	}

	result := ""

	if l.prefix != "" {
		result += l.prefix
	}

	if component != "" {
		if result != "" {
			result += " "
		}
		result += "[" + component + "]"
	}
	if event != "" {
		if result != "" {
			result += " "
		}
		result += "event=" + event
	}

	if msg != "" {
		if result != "" {
			result += " "
		}
		result += msg
	}

	for _, f := range otherFields {
		result += " " + f.Key + "=" + formatValue(f.Value)
	}

	return result
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	log.Println("[DEBUG]", l.format(msg, fields...))
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	log.Println("[INFO]", l.format(msg, fields...))
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	log.Println("[WARN]", l.format(msg, fields...))
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	log.Println("[ERROR]", l.format(msg, fields...))
}

func (l *StdLogger) WithFields(fields ...Field) ILogger {
	newFields := make([]Field, len(l.fields)+len(fields))
	copy(newFields, l.fields)
	copy(newFields[len(l.fields):], fields)
	return &StdLogger{
		prefix: l.prefix,
		fields: newFields,
	}
}

func (l *StdLogger) WithField(key string, value any) ILogger {
	return l.WithFields(Field{Key: key, Value: value})
}

// NoopLogger discards everything; useful where tests construct a component
// without caring about its log output.
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (l *NoopLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (l *NoopLogger) WithFields(fields ...Field) ILogger                     { return l }
func (l *NoopLogger) WithField(key string, value any) ILogger                { return l }

var globalLogger ILogger = NewStdLogger("")

// SetLogger replaces the package-level default logger.
func SetLogger(logger ILogger) {
	globalLogger = logger
}

// GetLogger returns the package-level default logger.
func GetLogger() ILogger {
	return globalLogger
}

// ComponentLogger derives a component-tagged logger from the global default.
//
// This is a fallback for composition roots wiring up a registry, router, or
// store without an explicit logger; once constructed, a component should log
// through the logger field it was given, not by calling GetLogger again.
func ComponentLogger(component string) ILogger {
	return GetLogger().WithField("component", component)
}
