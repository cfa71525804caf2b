package asynclock

import (
	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/metrics"
)

// MetricInflight 正在执行或排队的阻塞调用数量 (Gauge)
const MetricInflight = "asynclock_inflight"

// Option 初始化选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
}

// WithLogger 注入日志记录器
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

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithNamespace("asynclock")
	return o
}
