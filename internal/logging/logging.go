// Package logging provides structured logging for infoset.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("drain")
//	log.Info("sweep complete", "drained", 10)
//
//	// Log with sweep context
//	logging.WithContext(ctx).Warn("file quarantined", "path", path)
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a config level name into a slog.Level.
// An empty name maps to info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers resolve the global logger lazily, so package-level
// loggers created before Init still honour the configured handler.
//
// Example:
//
//	log := logging.Component("spool")
//	log.Info("scan complete") // Output: time=... level=INFO component=spool msg="scan complete"
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// WithContext returns a logger that includes context values.
// Sweep and device identifiers set with ContextWithSweepID and
// ContextWithDeviceID are attached as attributes.
func WithContext(ctx context.Context) *slog.Logger {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return FromContext(ctx, Logger)
}

// FromContext decorates base with the identifiers stored in ctx.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base

	if sweepID, ok := ctx.Value(contextKeySweepID).(string); ok {
		logger = logger.With("sweep_id", sweepID)
	}
	if deviceID, ok := ctx.Value(contextKeyDeviceID).(string); ok {
		logger = logger.With("device_id", deviceID)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeySweepID contextKey = iota
	contextKeyDeviceID
)

// ContextWithSweepID adds a sweep ID to the context for logging.
func ContextWithSweepID(ctx context.Context, sweepID string) context.Context {
	return context.WithValue(ctx, contextKeySweepID, sweepID)
}

// ContextWithDeviceID adds a device ID to the context for logging.
func ContextWithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, contextKeyDeviceID, deviceID)
}

// =============================================================================
// Component Handler
// =============================================================================

// componentHandler forwards records to the current global handler.
type componentHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *componentHandler) target() slog.Handler {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	var handler slog.Handler = Logger.Handler()
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	return handler.WithAttrs(h.attrs)
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	return Logger.Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &componentHandler{attrs: merged, groups: h.groups}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &componentHandler{attrs: h.attrs, groups: groups}
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	if Logger == nil {
		Init(slog.LevelInfo, false)
	}
	Logger.Error(msg, args...)
}
