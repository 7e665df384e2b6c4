// Package logging provides the structured logger shared by the host
// dispatcher, the guest proxy and the session controller.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Level represents a logging level.
type Level int

// Logging levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) slog() slog.Level {
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

// Config holds configuration for a Logger.
type Config struct {
	// Level sets the minimum level that is written.
	Level Level
	// EnableCallerInfo includes file and line number in records.
	EnableCallerInfo bool
	// Output receives the records. Defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns info-level logging to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo}
}

// Logger writes structured records. A nil *Logger and the logger returned
// by NewNopLogger discard everything.
type Logger struct {
	logger *slog.Logger
	level  Level
}

// NewLogger creates a text logger with the given configuration.
func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	handler := slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:     cfg.Level.slog(),
		AddSource: cfg.EnableCallerInfo,
	})
	return &Logger{logger: slog.New(handler), level: cfg.Level}
}

// NewNopLogger creates a logger that discards all records.
func NewNopLogger() *Logger {
	return &Logger{}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && l.logger != nil && level >= l.level
}

// Debug logs a debug-level record.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	if l.enabled(LevelDebug) {
		l.logger.DebugContext(ctx, msg, args...)
	}
}

// Info logs an info-level record.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	if l.enabled(LevelInfo) {
		l.logger.InfoContext(ctx, msg, args...)
	}
}

// Warn logs a warn-level record.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	if l.enabled(LevelWarn) {
		l.logger.WarnContext(ctx, msg, args...)
	}
}

// Error logs an error-level record.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	if l.enabled(LevelError) {
		l.logger.ErrorContext(ctx, msg, args...)
	}
}

// With returns a logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || l.logger == nil {
		return l
	}
	return &Logger{logger: l.logger.With(args...), level: l.level}
}

// WithOperation returns a logger with operation context.
func (l *Logger) WithOperation(op string) *Logger {
	return l.With("operation", op)
}

// WithPeer returns a logger with the remote participant's id.
func (l *Logger) WithPeer(peer string) *Logger {
	return l.With("peer", peer)
}

// WithPath returns a logger with path context.
func (l *Logger) WithPath(path string) *Logger {
	return l.With("path", path)
}

// WithDuration returns a logger with duration context.
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.With("duration_ms", d.Milliseconds())
}

// ParseLevel parses a level name. Unknown names return LevelInfo and an
// error.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
