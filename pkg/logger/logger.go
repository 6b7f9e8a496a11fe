package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// LogLevel represents the available log levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger provides a structured logger instance configured for the application
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new structured logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithConsoleWriter(level, os.Stderr)
}

// NewLoggerWithConsoleWriter builds a logger that writes console output to the given writer
// and structured lines to ~/.framebridge/logs/framebridge.log.
func NewLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) *Logger {
	slogLevel := level.slogLevel()
	if consoleWriter == nil {
		consoleWriter = os.Stderr
	}
	handler := newMultiHandler(newPlainHandler(consoleWriter, slogLevel), newFileTextHandler(slogLevel))
	return &Logger{Logger: slog.New(handler)}
}

// NewConsoleOnlyLogger builds a logger without the file sink. Tests and the
// MCP stdio mode use it so nothing but protocol frames reach stdout.
func NewConsoleOnlyLogger(level LogLevel, consoleWriter io.Writer) *Logger {
	if consoleWriter == nil {
		consoleWriter = io.Discard
	}
	return &Logger{Logger: slog.New(newPlainHandler(consoleWriter, level.slogLevel()))}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewConsoleOnlyLogger(LogLevelError, io.Discard)
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent creates a logger with a component context for better tracing
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.With("component", component),
	}
}

// LogWithIntention logs a message at the provided level with an intention tag.
func (l *Logger) LogWithIntention(level slog.Level, intention Intention, msg string, args ...any) {
	kv := append([]any{"intention", string(intention)}, args...)
	l.Log(context.Background(), level, msg, kv...)
}

func (l *Logger) InfoWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelInfo, intention, msg, args...)
}

// Warnings and errors do not carry intentions; intention is only for info/debug
func (l *Logger) WarnWithIntention(_ Intention, msg string, args ...any) {
	l.Warn(msg, args...)
}

func (l *Logger) ErrorWithIntention(_ Intention, msg string, args ...any) {
	l.Error(msg, args...)
}

func (l *Logger) DebugWithIntention(intention Intention, msg string, args ...any) {
	l.LogWithIntention(slog.LevelDebug, intention, msg, args...)
}

// Default logger instance - single instance for the entire application
var Default = NewDefaultLogger()

// NewDefaultLogger creates a logger with INFO level for general use
func NewDefaultLogger() *Logger {
	return NewLogger(LogLevelInfo)
}

// SetGlobalLoggerWithConsoleWriter replaces the global Default logger using the provided console writer
func SetGlobalLoggerWithConsoleWriter(level LogLevel, consoleWriter io.Writer) {
	Default = NewLoggerWithConsoleWriter(level, consoleWriter)
}

// NewComponentLogger creates a new logger for a specific component
func NewComponentLogger(component string) *Logger {
	return Default.WithComponent(component)
}

// newFileTextHandler opens ~/.framebridge/logs/framebridge.log for append and returns a slog text handler
func newFileTextHandler(level slog.Level) slog.Handler {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".framebridge", "logs")
	_ = os.MkdirAll(base, 0o755)
	path := filepath.Join(base, "framebridge.log")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level})
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format("15:04:05.000"))}
			}
			return a
		},
	}
	return slog.NewTextHandler(f, opts)
}
