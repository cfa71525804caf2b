package clog

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level 日志级别类型，按严重程度递增：Debug < Info < Warn < Error < Fatal
type Level int

const (
	DebugLevel Level = iota - 4 // 调试级别
	InfoLevel                   // 信息级别
	WarnLevel                   // 警告级别
	ErrorLevel                  // 错误级别
	FatalLevel                  // 致命级别
)

// String 返回 Level 的字符串表示
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", l)
	}
}

// ParseLevel 将字符串解析为 Level（不区分大小写），无法解析时返回 InfoLevel 和错误
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", s)
	}
}

// slogLevel 映射为 slog.Level，Fatal 在 slog 中没有常量，取 Error+4
func (l Level) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	case FatalLevel:
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l <= slog.LevelDebug:
		return DebugLevel
	case l <= slog.LevelInfo:
		return InfoLevel
	case l <= slog.LevelWarn:
		return WarnLevel
	case l <= slog.LevelError:
		return ErrorLevel
	default:
		return FatalLevel
	}
}
