package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu           sync.RWMutex
	globalLogger *slog.Logger
)

// ParseLevel maps a config level name to a slog level. Unknown names map to INFO and ok is false.
func ParseLevel(levelStr string) (level slog.Level, ok bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO", "":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// InitSlog initializes the global logger with a JSON or text handler writing to stdout.
func InitSlog(levelStr, format string) {
	initSlog(os.Stdout, levelStr, format)
}

func initSlog(w io.Writer, levelStr, format string) {
	level, ok := ParseLevel(levelStr)
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "console" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	SetLogger(slog.New(handler))
	if !ok {
		Warn("Invalid log level string, defaulting to INFO", "input", levelStr)
	}
}

// SetLogger installs l as the global logger and as slog's default.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// L returns the global logger, initializing it at INFO level if needed.
func L() *slog.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l == nil {
		InitSlog("INFO", "json")
		mu.RLock()
		l = globalLogger
		mu.RUnlock()
	}
	return l
}

// Debug logs a message at DebugLevel.
func Debug(msg string, args ...any) {
	l := L()
	if l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug(msg, args...)
	}
}

// Info logs a message at InfoLevel.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// Fatal logs a message at ErrorLevel then exits.
func Fatal(msg string, args ...any) {
	L().Error(msg, args...)
	os.Exit(1)
}
