// Package logging provides structured logging for kaiwa processes.
// It wraps Go's log/slog package to produce JSON-formatted logs with
// attribute propagation, writing to a size-rotated file so long-lived
// web processes and short CLI invocations share one log without manual
// housekeeping. The persistence core never logs at write time; logging
// belongs to the process boundary that invoked it.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// RotationConfig bounds the rotated log file.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRotation keeps logs small enough to tail and old enough to
// debug yesterday's run.
var DefaultRotation = RotationConfig{
	MaxSizeMB:  10,
	MaxBackups: 3,
	MaxAgeDays: 14,
}

// Logger provides structured logging with attribute propagation.
// It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	closer io.Closer
}

// NewLogger creates a Logger writing JSON records to path, rotated per
// rotation. The level parameter controls which messages are logged:
//   - DEBUG: All messages
//   - INFO: Info, Warn, and Error messages
//   - WARN: Warn and Error messages
//   - ERROR: Only Error messages
func NewLogger(path, level string, rotation RotationConfig) *Logger {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return &Logger{
		logger: slog.New(handler),
		closer: sink,
	}
}

// NewWriterLogger creates a Logger writing to w, useful for tests and
// for stderr logging before a log path is known.
func NewWriterLogger(w io.Writer, level string) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{logger: slog.New(handler)}
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger carrying additional key-value attributes
// on every record.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), closer: l.closer}
}

// WithSession returns a child Logger tagged with the session ID.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.With("session_id", sessionID)
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Close flushes and closes the underlying log sink, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
