package filelock

import (
	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Option 锁实例初始化选项函数
type Option func(*options)

type options struct {
	logger         clog.Logger
	meter          metrics.Meter
	tracerProvider trace.TracerProvider
}

// WithLogger 注入日志记录器
// 组件会自动添加 component=filelock 字段
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracerProvider 注入 TracerProvider，默认使用 otel 全局 Provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	o.logger = o.logger.WithNamespace("filelock")
	return o
}
