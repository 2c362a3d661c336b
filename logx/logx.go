// Package logx provides the printf-style logger used throughout dbgctl.
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	isatty "github.com/mattn/go-isatty"
)

// Logger defines the interface for logging.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetLevel(level Level)
}

// Level is a logging threshold.
type Level = slog.Level

// Supported levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel maps a level name to a Level. Unknown names fall back to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// DefaultLogger formats printf-style messages and hands them to a slog logger.
type DefaultLogger struct {
	level  *slog.LevelVar
	logger *slog.Logger
}

// NewDefaultLogger creates a logger writing to stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(os.Stderr, LevelInfo)
}

// NewLogger creates a logger writing to w. Colour is only used when w is a terminal.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	lv := new(slog.LevelVar)
	lv.Set(level)

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}

	return &DefaultLogger{
		level: lv,
		logger: slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lv,
			TimeFormat: "[15:04:05.000]",
			NoColor:    noColor,
		})),
	}
}

func (l *DefaultLogger) log(level Level, format string, v ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Debug(format string, v ...interface{}) { l.log(LevelDebug, format, v...) }
func (l *DefaultLogger) Info(format string, v ...interface{})  { l.log(LevelInfo, format, v...) }
func (l *DefaultLogger) Warn(format string, v ...interface{})  { l.log(LevelWarn, format, v...) }
func (l *DefaultLogger) Error(format string, v ...interface{}) { l.log(LevelError, format, v...) }

// SetLevel updates the logging threshold.
func (l *DefaultLogger) SetLevel(level Level) {
	l.level.Set(level)
}

// Ensure interface compliance
var _ Logger = (*DefaultLogger)(nil)

type nopLogger struct{}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) SetLevel(Level)               {}
