// Package logging provides structured logging infrastructure for the tempo sync engine.
// It wraps Go's standard log/slog package with context-aware logging, correlation IDs,
// and sync-specific log attributes.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// contextKey is used for storing logger-related values in context.
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
	// CycleIDKey is the context key for sync cycle IDs.
	CycleIDKey contextKey = "cycle_id"
	// EntityTypeKey is the context key for the entity type being synced.
	EntityTypeKey contextKey = "entity_type"
	// EntityIDKey is the context key for the entity ID being synced.
	EntityIDKey contextKey = "entity_id"
)

// Level represents log levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents log output formats.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns sensible default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     os.Stderr,
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// Logger wraps slog.Logger. Loggers derived with With share the level of
// their parent, so SetLevel applies to all of them.
type Logger struct {
	slogger *slog.Logger
	level   *slog.LevelVar
}

var (
	global     *Logger
	globalOnce sync.Once
)

// Default returns the process fallback logger used when a component is
// constructed without one.
func Default() *Logger {
	globalOnce.Do(func() {
		global = New(DefaultConfig())
	})
	return global
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return New(Config{Level: LevelError, Output: io.Discard})
}

// New creates a new Logger with the provided configuration.
func New(cfg Config) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && cfg.TimeFormat != "" {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
				}
			}
			return a
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		slogger: slog.New(handler),
		level:   level,
	}
}

// ParseLevel converts a level name from configuration into a Level,
// falling back to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return Level(s)
	}
	return LevelInfo
}

func parseLevel(l Level) slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel dynamically changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.level.Set(parseLevel(level))
}

// Enabled reports whether records at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return parseLevel(level) >= l.level.Level()
}

// With returns a new Logger with the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slogger: l.slogger.With(args...),
		level:   l.level,
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slogger.Debug(msg, args...)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slogger.Info(msg, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slogger.Warn(msg, args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slogger.Error(msg, args...)
}

// DebugContext logs at debug level with context.
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.slogger.DebugContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// InfoContext logs at info level with context.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.slogger.InfoContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// WarnContext logs at warn level with context.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.slogger.WarnContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// ErrorContext logs at error level with context.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.slogger.ErrorContext(ctx, msg, l.enrichArgs(ctx, args)...)
}

// enrichArgs extracts context values and adds them as log attributes.
func (l *Logger) enrichArgs(ctx context.Context, args []any) []any {
	enriched := make([]any, 0, len(args)+8)

	for _, key := range []contextKey{CorrelationIDKey, CycleIDKey, EntityTypeKey, EntityIDKey} {
		if v := ctx.Value(key); v != nil {
			enriched = append(enriched, string(key), v)
		}
	}

	enriched = append(enriched, args...)
	return enriched
}

// --- Context helpers ---

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// WithCycleID adds a sync cycle ID to the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CycleIDKey, id)
}

// WithEntity adds the entity type and ID to the context.
func WithEntity(ctx context.Context, entityType, entityID string) context.Context {
	ctx = context.WithValue(ctx, EntityTypeKey, entityType)
	return context.WithValue(ctx, EntityIDKey, entityID)
}

// CorrelationID extracts the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if v := ctx.Value(CorrelationIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CycleID extracts the sync cycle ID from context.
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(CycleIDKey).(string); ok {
		return v
	}
	return ""
}

// --- Sync-specific logging helpers ---

// LogCycleStart logs the start of a sync cycle.
func LogCycleStart(ctx context.Context, logger *Logger, trigger string, pending int) {
	logger.InfoContext(ctx, "sync cycle started",
		"trigger", trigger,
		"pending", pending,
	)
}

// LogCycleComplete logs the completion of a sync cycle.
func LogCycleComplete(ctx context.Context, logger *Logger, synced, conflicted, rejected int, duration time.Duration) {
	logger.InfoContext(ctx, "sync cycle completed",
		"synced", synced,
		"conflicted", conflicted,
		"rejected", rejected,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogCycleAborted logs a cycle stopped by a transient failure.
func LogCycleAborted(ctx context.Context, logger *Logger, err error, retryIn time.Duration) {
	logger.WarnContext(ctx, "sync cycle aborted",
		"error", err.Error(),
		"retry_in_ms", retryIn.Milliseconds(),
	)
}

// LogMutationApplied logs a mutation confirmed by the remote store.
func LogMutationApplied(ctx context.Context, logger *Logger, path string, version int64) {
	logger.DebugContext(ctx, "mutation applied",
		"path", path,
		"version", version,
	)
}

// LogConflictDetected logs a mutation moved to the conflict queue.
func LogConflictDetected(ctx context.Context, logger *Logger, conflictID string, fields []string) {
	logger.WarnContext(ctx, "conflict detected",
		"conflict_id", conflictID,
		"conflicting_fields", fields,
	)
}

// LogConflictResolved logs a manual conflict resolution.
func LogConflictResolved(ctx context.Context, logger *Logger, conflictID, choice string) {
	logger.InfoContext(ctx, "conflict resolved",
		"conflict_id", conflictID,
		"choice", choice,
	)
}

// LogMutationRejected logs a mutation refused by the remote store.
func LogMutationRejected(ctx context.Context, logger *Logger, mutationID string, err error) {
	logger.WarnContext(ctx, "mutation rejected",
		"mutation_id", mutationID,
		"error", err.Error(),
	)
}

// LogReplaySkipped logs an unreadable durable log record skipped during replay.
func LogReplaySkipped(ctx context.Context, logger *Logger, seq int64, err error) {
	logger.ErrorContext(ctx, "skipping corrupt mutation log record",
		"seq", seq,
		"error", err.Error(),
	)
}

// LogConnectivityChange logs a debounced connectivity transition.
func LogConnectivityChange(ctx context.Context, logger *Logger, online bool) {
	logger.InfoContext(ctx, "connectivity changed",
		"online", online,
	)
}
