package config

import "github.com/ceyewan/filelock/clog"

// Option 配置加载器的选项函数
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器，自动添加 "config" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("config")
		}
	}
}
