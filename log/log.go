package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger keeps the printf style used across the miner while emitting through slog.
type Logger struct {
	l *slog.Logger
}

var (
	level = new(slog.LevelVar)
	std   atomic.Pointer[Logger]
)

func init() {
	Setup("info", false, os.Stdout)
}

// Setup replaces the default logger. Level is one of debug, info, warn, error.
func Setup(lvl string, json bool, w io.Writer) {
	level.Set(ParseLevel(lvl))
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	std.Store(&Logger{l: slog.New(h)})
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func SetDebug(on bool) {
	if on {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}
}

func DebugEnabled() bool {
	return level.Level() <= slog.LevelDebug
}

// With returns a logger that tags every line with args, e.g. With("board", id).
func With(args ...any) *Logger {
	return &Logger{l: std.Load().l.With(args...)}
}

func (my *Logger) logf(lvl slog.Level, format string, args ...any) {
	if !my.l.Enabled(context.Background(), lvl) {
		return
	}
	my.l.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
}

func (my *Logger) With(args ...any) *Logger {
	return &Logger{l: my.l.With(args...)}
}

func (my *Logger) Debugf(format string, args ...any) { my.logf(slog.LevelDebug, format, args...) }
func (my *Logger) Infof(format string, args ...any)  { my.logf(slog.LevelInfo, format, args...) }
func (my *Logger) Warnf(format string, args ...any)  { my.logf(slog.LevelWarn, format, args...) }
func (my *Logger) Errorf(format string, args ...any) { my.logf(slog.LevelError, format, args...) }

func Errorf(format string, args ...interface{}) {
	std.Load().logf(slog.LevelError, format, args...)
}

func Warnf(format string, args ...interface{}) {
	std.Load().logf(slog.LevelWarn, format, args...)
}

func Debugf(format string, args ...interface{}) {
	std.Load().logf(slog.LevelDebug, format, args...)
}

func Infof(format string, args ...interface{}) {
	std.Load().logf(slog.LevelInfo, format, args...)
}

func Info(args ...interface{}) {
	std.Load().logf(slog.LevelInfo, "%s", fmt.Sprint(args...))
}

func Error(args ...interface{}) {
	std.Load().logf(slog.LevelError, "%s", fmt.Sprint(args...))
}

func Debug(args ...interface{}) {
	std.Load().logf(slog.LevelDebug, "%s", fmt.Sprint(args...))
}
