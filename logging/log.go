package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger 日志门面接口。
// 说明：结构化方法（Info/Warn/Error/Debug）接收 key/value 形式的 args；
// 带 f 后缀的方法按 fmt 语义格式化消息，便于简单场景调用。
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
	Infof(ctx context.Context, format string, args ...any)
	Warnf(ctx context.Context, format string, args ...any)
	Errorf(ctx context.Context, format string, args ...any)
	Debugf(ctx context.Context, format string, args ...any)
	With(args ...any) Logger
}

// Options 日志器构造参数。
type Options struct {
	Level  string    // debug/info/warn/error，默认 info
	Format string    // text/json，默认 text
	Output io.Writer // 默认 os.Stderr
}

// SlogLogger 基于标准库 slog 的默认实现。
type SlogLogger struct{ l *slog.Logger }

// NewSlogLogger 创建默认 slog 日志器（文本输出，info 级别）。
func NewSlogLogger() *SlogLogger { return New(Options{}) }

// New 按 Options 创建日志器。
// 功能：解析级别与输出格式，未知取值回退为 info/text。
func New(o Options) *SlogLogger {
	out := o.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	var h slog.Handler
	if strings.EqualFold(o.Format, "json") {
		h = slog.NewJSONHandler(out, ho)
	} else {
		h = slog.NewTextHandler(out, ho)
	}
	return &SlogLogger{l: slog.New(h)}
}

// ParseLevel 将字符串级别转换为 slog.Level。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any)  { s.l.InfoContext(ctx, msg, args...) }
func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any)  { s.l.WarnContext(ctx, msg, args...) }
func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) { s.l.ErrorContext(ctx, msg, args...) }
func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) { s.l.DebugContext(ctx, msg, args...) }
func (s *SlogLogger) Infof(ctx context.Context, format string, args ...any) {
	s.l.InfoContext(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) Warnf(ctx context.Context, format string, args ...any) {
	s.l.WarnContext(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) Errorf(ctx context.Context, format string, args ...any) {
	s.l.ErrorContext(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) Debugf(ctx context.Context, format string, args ...any) {
	s.l.DebugContext(ctx, fmt.Sprintf(format, args...))
}
func (s *SlogLogger) With(args ...any) Logger { return &SlogLogger{l: s.l.With(args...)} }

// 全局默认日志器，便于简化调用。
var (
	mu            sync.RWMutex
	defaultLogger Logger = NewSlogLogger()
)

// L 获取全局日志器。
func L() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetGlobal 替换全局日志器（如业务侧注入第三方实现）。
func SetGlobal(l Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}
