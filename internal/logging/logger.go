// Package logging provides centralized logging functionality for the application.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug for per-request detail such as API paths and payload sizes.
	LevelDebug LogLevel = "debug"
	// LevelInfo for migration progress.
	LevelInfo LogLevel = "info"
	// LevelWarn for skipped items such as missing attachment files.
	LevelWarn LogLevel = "warn"
	// LevelError for failed writes that the run recovers from.
	LevelError LogLevel = "error"
)

var (
	// defaultLogger is the default logger instance.
	defaultLogger *slog.Logger

	// logFile is the file opened by SetupFileLogger, if any.
	logFile *os.File
)

// init initializes the default logger.
func init() {
	SetupLogger(os.Stdout, LevelFromEnv())
}

// LevelFromEnv reads LOG_LEVEL, defaulting to info.
func LevelFromEnv() LogLevel {
	level := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if level == "" {
		return LevelInfo
	}
	return LogLevel(level)
}

func (l LogLevel) slogLevel() slog.Level {
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

// SetupLogger configures the logger with the specified output and level.
func SetupLogger(w io.Writer, level LogLevel) {
	opts := &slog.HandlerOptions{
		Level: level.slogLevel(),
	}

	handler := slog.NewTextHandler(w, opts)
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// SetupFileLogger writes log output to w and to the file at path,
// appending to it and creating parent directories as needed. Call
// CloseLogFile when the run ends.
func SetupFileLogger(w io.Writer, path string, level LogLevel) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	CloseLogFile()
	logFile = f
	SetupLogger(io.MultiWriter(w, f), level)
	return nil
}

// CloseLogFile closes the file opened by SetupFileLogger. It is safe to
// call when no file is open.
func CloseLogFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// With returns a logger that adds args to every record and installs it as
// the default logger.
func With(args ...any) *slog.Logger {
	defaultLogger = defaultLogger.With(args...)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// Debug logs a message at debug level.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs a message at info level.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a message at warn level.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs a message at error level.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// GetLogger returns the default logger.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// MaskSensitive masks sensitive data for logging.
func MaskSensitive(value string) string {
	if value == "" {
		return "<not set>"
	}
	if len(value) <= 4 {
		return "<set>"
	}
	return value[:4] + "..." + strings.Repeat("*", 3)
}
