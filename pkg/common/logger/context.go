package logger

import (
	"context"
	"sync"
)

// LoggerContext accumulates attributes over the course of an operation so that
// later log lines carry everything learned so far.
type LoggerContext struct {
	mu     sync.Mutex
	base   *Logger
	fields []any
}

// NewLoggerContext wraps base so attributes can be added incrementally.
func NewLoggerContext(base *Logger) *LoggerContext {
	return &LoggerContext{base: base}
}

// Add appends key/value pairs to every subsequent log line.
func (l *LoggerContext) Add(args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, args...)
}

func (l *LoggerContext) current() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fields) == 0 {
		return l.base
	}
	return l.base.With(l.fields...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (l *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	l.current().Debugc(ctx, 4, msg, args...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (l *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	l.current().Infoc(ctx, 4, msg, args...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (l *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	l.current().Warnc(ctx, 4, msg, args...)
}

// Error logs at LevelError with the accumulated attributes.
func (l *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	l.current().Errorc(ctx, 4, msg, args...)
}
