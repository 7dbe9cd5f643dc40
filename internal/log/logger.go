// internal/log/logger.go

// Package log provides configurable logging for sbrealtime with console, file, and database backends.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log modes accepted by Config.Mode.
const (
	ModeConsole  = "console"
	ModeFile     = "file"
	ModeDatabase = "database"
)

// Config holds all logging configuration.
type Config struct {
	Mode   string // ModeConsole, ModeFile or ModeDatabase
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json" (for console/file only)

	// Console-specific; nil means stderr so stdout stays free for event output
	Output io.Writer

	// File-specific
	FilePath   string
	MaxSizeMB  int // Rotate when file exceeds this size
	MaxBackups int // Keep at most this many old files

	// Database-specific
	DBPath        string // Path to log.db
	RetentionDays int    // Delete entries older than this
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:          ModeConsole,
		Level:         "info",
		Format:        "text",
		FilePath:      "sbrealtime.log",
		MaxSizeMB:     100,
		MaxBackups:    3,
		DBPath:        "log.db",
		RetentionDays: 7,
	}
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Closeable is implemented by handlers holding files or databases.
type Closeable interface {
	Close() error
}

var (
	defaultLogger *slog.Logger
	current       slog.Handler
	mu            sync.RWMutex
)

// Init initializes the global logger with the given configuration. The
// previous backend, if any, is closed.
func Init(cfg *Config) error {
	mu.Lock()
	defer mu.Unlock()

	var handler slog.Handler
	level := ParseLevel(cfg.Level)

	switch cfg.Mode {
	case ModeFile:
		h, err := NewFileHandler(cfg, level)
		if err != nil {
			return err
		}
		handler = h
	case ModeDatabase:
		h, err := NewDBHandler(cfg, level)
		if err != nil {
			return err
		}
		handler = h
	case ModeConsole, "":
		w := cfg.Output
		if w == nil {
			w = os.Stderr
		}
		handler = NewConsoleHandler(w, cfg, level)
	default:
		return fmt.Errorf("unknown log mode %q", cfg.Mode)
	}

	closeLocked()
	current = handler
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
	return nil
}

// Close flushes and closes the active backend and falls back to slog's
// default logger.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	err := closeLocked()
	defaultLogger = nil
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return err
}

func closeLocked() error {
	if c, ok := current.(Closeable); ok {
		current = nil
		return c.Close()
	}
	current = nil
	return nil
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Log logs at the given level.
func Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	Logger().Log(ctx, level, msg, args...)
}
