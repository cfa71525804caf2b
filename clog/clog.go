// Package clog 为 filelock 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象 Logger 接口，不暴露底层 slog 实现
//   - 层级命名空间，组件各自追加自己的命名空间（filelock、rwlock、asynclock ...）
//   - 支持从 Context 中提取字段
//   - 零外部依赖，仅依赖 Go 标准库
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "console", Output: "stderr"})
//	logger.Info("lock acquired", clog.String("path", "/tmp/x.lock"))
//
// 组件内部使用：
//
//	lockLogger := logger.WithNamespace("filelock")
//	lockLogger.Debug("released", clog.Int("counter", 0))
package clog

import "fmt"

// New 创建一个新的 Logger 实例
//
// config 为 nil 时使用开发环境默认配置；opts 用于命名空间、Context 字段等配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = NewDevDefaultConfig("")
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	options := applyOptions(opts...)
	if config.Namespace != "" {
		options.namespaceParts = append([]string{config.Namespace}, options.namespaceParts...)
	}

	return newLogger(config, options)
}
