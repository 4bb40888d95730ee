package logger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

// Level 是 ErrorLogger 使用的日志级别
type Level string

const (
	LevelDebugName Level = "debug"
	LevelInfoName  Level = "info"
	LevelWarnName  Level = "warn"
	LevelErrorName Level = "error"
)

// ErrorLogger 记录带上下文的客户端错误，实现方可以把错误上报到任意后端
type ErrorLogger interface {
	Log(level Level, message string, context map[string]any)
}

// SlogErrorLogger 把 ErrorLogger 调用转发到 slog 默认处理器
type SlogErrorLogger struct {
	Component string
}

func NewSlogErrorLogger(component string) *SlogErrorLogger {
	return &SlogErrorLogger{Component: component}
}

func (l *SlogErrorLogger) Log(level Level, message string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys)+2)
	if l.Component != "" {
		args = append(args, "component", l.Component)
	}
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	slog.Log(context.Background(), slogLevel(level), message, args...)
}

func slogLevel(level Level) slog.Level {
	switch Level(strings.ToLower(string(level))) {
	case LevelDebugName:
		return slog.LevelDebug
	case LevelInfoName:
		return slog.LevelInfo
	case LevelWarnName:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// NopErrorLogger 丢弃所有记录
type NopErrorLogger struct{}

func (NopErrorLogger) Log(Level, string, map[string]any) {}
