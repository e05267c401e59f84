package injector

import (
	"fmt"
)

// Logger defines the interface for logging
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
}

// SilentLogger discards all output (for when no logger is set)
type SilentLogger struct{}

func (l *SilentLogger) Info(msg string, fields ...interface{})  {}
func (l *SilentLogger) Warn(msg string, fields ...interface{})  {}
func (l *SilentLogger) Error(msg string, fields ...interface{}) {}
func (l *SilentLogger) Debug(msg string, fields ...interface{}) {}

// Global logger instance, used by the call interceptor which has no
// caller-supplied logger to hand.
var globalLogger Logger = &SilentLogger{}

// SetLogger sets the global logger. A nil logger restores the silent default.
func SetLogger(logger Logger) {
	if logger == nil {
		logger = &SilentLogger{}
	}
	globalLogger = logger
}

// GetLogger returns the current global logger
func GetLogger() Logger {
	return globalLogger
}

// requestLogger prefixes every line with the request's ID.
type requestLogger struct {
	base Logger
	id   string
}

func withRequest(base Logger, id string) Logger {
	if base == nil {
		base = globalLogger
	}
	return &requestLogger{base: base, id: id}
}

func (l *requestLogger) fields(fields []interface{}) []interface{} {
	return append([]interface{}{"request_id", l.id}, fields...)
}

func (l *requestLogger) Info(msg string, fields ...interface{}) {
	l.base.Info(msg, l.fields(fields)...)
}

func (l *requestLogger) Warn(msg string, fields ...interface{}) {
	l.base.Warn(msg, l.fields(fields)...)
}

func (l *requestLogger) Error(msg string, fields ...interface{}) {
	l.base.Error(msg, l.fields(fields)...)
}

func (l *requestLogger) Debug(msg string, fields ...interface{}) {
	l.base.Debug(msg, l.fields(fields)...)
}

// hexAddr formats an address the way every log line in this package does.
func hexAddr(addr uintptr) string {
	return fmt.Sprintf("0x%X", uint64(addr))
}
