package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

func New(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}

// Global logger instance
var GlobalLogger = New(os.Stdout, "info", "text")

// Init replaces the global logger once configuration is known.
func Init(level, format string) {
	GlobalLogger = New(os.Stdout, level, format)
	slog.SetDefault(GlobalLogger.Logger)
}

// Convenience functions
func Info(msg string, args ...any) {
	GlobalLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	GlobalLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	GlobalLogger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	GlobalLogger.Debug(msg, args...)
}

func Fatal(msg string, args ...any) {
	GlobalLogger.Fatal(msg, args...)
}
