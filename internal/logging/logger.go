// Package logging provides structured logging for the feed mailer service.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	accountIDKey contextKey = "account_id"
	ruleIDKey    contextKey = "rule_id"
	feedIDKey    contextKey = "feed_id"
	strategyKey  contextKey = "strategy"
	traceIDKey   contextKey = "trace_id"
)

// Logger wraps slog with feed-mailer-specific functionality.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output destination (stdout, stderr, or file path).
	Output string
	// AddSource adds source code location to log entries.
	AddSource bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Output:    "stdout",
		AddSource: false,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		output = f
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	case "json", "":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// Default returns a default logger.
func Default() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

// WithTraceID returns a new context carrying the trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithAccountID returns a new context carrying the IMAP account ID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// WithRuleID returns a new context carrying the rule ID.
func WithRuleID(ctx context.Context, ruleID string) context.Context {
	return context.WithValue(ctx, ruleIDKey, ruleID)
}

// WithFeedID returns a new context carrying the feed ID.
func WithFeedID(ctx context.Context, feedID string) context.Context {
	return context.WithValue(ctx, feedIDKey, feedID)
}

// WithStrategy returns a new context carrying the active fetch strategy name.
func WithStrategy(ctx context.Context, strategy string) context.Context {
	return context.WithValue(ctx, strategyKey, strategy)
}

func extractContextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		attrs = append(attrs, slog.String("trace_id", v))
	}
	if v, ok := ctx.Value(accountIDKey).(string); ok {
		attrs = append(attrs, slog.String("account_id", v))
	}
	if v, ok := ctx.Value(ruleIDKey).(string); ok {
		attrs = append(attrs, slog.String("rule_id", v))
	}
	if v, ok := ctx.Value(feedIDKey).(string); ok {
		attrs = append(attrs, slog.String("feed_id", v))
	}
	if v, ok := ctx.Value(strategyKey).(string); ok {
		attrs = append(attrs, slog.String("strategy", v))
	}
	return attrs
}

// InfoContext logs an info message enriched with context-carried fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	attrs := extractContextAttrs(ctx)
	allArgs := make([]any, 0, len(attrs)*2+len(args))
	for _, attr := range attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)
	l.Logger.InfoContext(ctx, msg, allArgs...)
}

// ErrorContext logs an error message enriched with context-carried fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	attrs := extractContextAttrs(ctx)
	allArgs := make([]any, 0, len(attrs)*2+len(args)+2)
	if err != nil {
		allArgs = append(allArgs, "error", err.Error())
	}
	for _, attr := range attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)
	l.Logger.ErrorContext(ctx, msg, allArgs...)
}

// WarnContext logs a warning message enriched with context-carried fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	attrs := extractContextAttrs(ctx)
	allArgs := make([]any, 0, len(attrs)*2+len(args))
	for _, attr := range attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)
	l.Logger.WarnContext(ctx, msg, allArgs...)
}

// DebugContext logs a debug message enriched with context-carried fields.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	attrs := extractContextAttrs(ctx)
	allArgs := make([]any, 0, len(attrs)*2+len(args))
	for _, attr := range attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)
	l.Logger.DebugContext(ctx, msg, allArgs...)
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{Logger: l.Logger.With("error", err.Error())}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// IMAP returns a logger configured for IMAP client operations.
func (l *Logger) IMAP() *Logger {
	return &Logger{Logger: l.Logger.With("component", "imapclient")}
}

// Scheduler returns a logger configured for background scheduling.
func (l *Logger) Scheduler() *Logger {
	return &Logger{Logger: l.Logger.With("component", "scheduler")}
}

// Retention returns a logger configured for the retention compactor.
func (l *Logger) Retention() *Logger {
	return &Logger{Logger: l.Logger.With("component", "retention")}
}

// Storage returns a logger configured for store operations.
func (l *Logger) Storage() *Logger {
	return &Logger{Logger: l.Logger.With("component", "store")}
}

// HTTP returns a logger configured for the HTTP API.
func (l *Logger) HTTP() *Logger {
	return &Logger{Logger: l.Logger.With("component", "httpapi")}
}

// Caller adds caller information to the log entry.
func (l *Logger) Caller() *Logger {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return l
	}
	return &Logger{
		Logger: l.Logger.With("caller", slog.GroupValue(
			slog.String("file", file),
			slog.Int("line", line),
		)),
	}
}
