package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Fields carries structured context attached to a log line.
type Fields map[string]interface{}

// WithField builds a single-entry Fields value.
func WithField(key string, value interface{}) Fields {
	return Fields{key: value}
}

// WithFields wraps an existing map as Fields.
func WithFields(fields map[string]interface{}) Fields {
	return Fields(fields)
}

// Logger writes leveled JSON lines.
type Logger struct {
	level  Level
	base   Fields
	logger *slog.Logger
}

// New creates a logger writing to stderr.
func New(level Level) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(level Level, w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level.slogLevel()})
	return &Logger{
		level:  level,
		logger: slog.New(handler),
	}
}

// ParseLevel maps debug/info/warn/error to a Level, defaulting to info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a child logger that always includes fields.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, base: merged, logger: l.logger}
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.log(LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.log(LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.log(LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.log(LevelError, msg, fields)
}

func (l *Logger) log(level Level, msg string, fields []Fields) {
	if l == nil || level < l.level {
		return
	}

	merged := make(Fields, len(l.base))
	for k, v := range l.base {
		merged[k] = v
	}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, merged[k]))
	}

	l.logger.LogAttrs(context.Background(), level.slogLevel(), msg, attrs...)
}

func (lv Level) slogLevel() slog.Level {
	switch lv {
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
