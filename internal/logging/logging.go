// Package logging provides structured logging for the task lifecycle services.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger wraps a logrus logger with a fixed service field.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger for a service. level is a logrus level name ("info",
// "debug", ...); format is "json" or "text".
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Logger: l, service: service}
}

// NewDefault creates an info-level text logger.
func NewDefault(service string) *Logger {
	return New(service, "info", "text")
}

// NewDiscard creates a logger that drops everything. Used by tests.
func NewDiscard() *Logger {
	l := NewDefault("test")
	l.SetOutput(io.Discard)
	return l
}

// Service returns the service name of the logger.
func (l *Logger) Service() string {
	return l.service
}

// WithContext returns an entry carrying the service and, when present, the trace id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithTask returns an entry scoped to one task.
func (l *Logger) WithTask(ctx context.Context, taskID string) *logrus.Entry {
	return l.WithContext(ctx).WithField("task_id", taskID)
}

// LogRequest logs one served HTTP request. Server errors log at warn level.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	if status >= 500 {
		entry.Warn("http request")
		return
	}
	entry.Info("http request")
}

// NewTraceID generates a trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace id on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the trace id stored on ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
