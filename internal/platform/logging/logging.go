// Package logging 提供组件使用的最小日志接口与 slog 构造。
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Logger 是可选的结构化日志接口（msg + key/value），*slog.Logger 直接满足。
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop 返回丢弃一切输出的 Logger。
func Nop() Logger { return nop{} }

// OrNop 在 l 为 nil 时返回 Nop。
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

// New 构造文本格式的 slog.Logger。level 取 debug/info/warn/error，未知值按 info。
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
