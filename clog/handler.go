package clog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// clogHandler 封装 slog.Handler，提供动态级别能力。
type clogHandler struct {
	slog.Handler
	levelVar *slog.LevelVar
}

// newHandler 构造顺序：writer -> handler options -> json/text handler -> wrapper。
func newHandler(config *Config, o *options) (*clogHandler, error) {
	w, err := resolveWriter(config, o)
	if err != nil {
		return nil, err
	}

	levelVar := new(slog.LevelVar)
	level, _ := ParseLevel(config.Level)
	levelVar.Set(level.slogLevel())

	opts := &slog.HandlerOptions{
		AddSource:   config.AddSource,
		Level:       levelVar,
		ReplaceAttr: newReplaceAttr(config),
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &clogHandler{Handler: handler, levelVar: levelVar}, nil
}

func resolveWriter(config *Config, o *options) (io.Writer, error) {
	switch strings.ToLower(config.Output) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "buffer":
		if o.buffer != nil {
			return o.buffer, nil
		}
		return nil, fmt.Errorf("buffer output requires options.buffer to be set")
	default:
		return os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	}
}

// newReplaceAttr 统一处理 Level/Time/Source 字段。
func newReplaceAttr(config *Config) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.LevelKey:
			if level, ok := a.Value.Any().(slog.Level); ok {
				a.Value = slog.StringValue(strings.ToUpper(levelFromSlog(level).String()))
			}
		case slog.TimeKey:
			if a.Value.Kind() == slog.KindTime {
				a.Value = slog.StringValue(a.Value.Time().Format(timeFormat))
			}
		case slog.SourceKey:
			if source, ok := a.Value.Any().(*slog.Source); ok {
				return slog.String("caller", fmt.Sprintf("%s:%d", trimSourcePath(source.File, config.SourceRoot), source.Line))
			}
		}
		return a
	}
}

func trimSourcePath(fileName, sourceRoot string) string {
	if sourceRoot != "" {
		rel, err := filepath.Rel(sourceRoot, fileName)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	if idx := strings.Index(fileName, "filelock"); idx != -1 {
		return fileName[idx:]
	}
	return fileName
}

// SetLevel 动态调整日志级别。
func (h *clogHandler) SetLevel(level Level) error {
	h.levelVar.Set(level.slogLevel())
	return nil
}

// Flush slog 默认是同步写出，这里为空操作。
func (h *clogHandler) Flush() {}
