package rwlock

import (
	"time"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/metrics"
)

// Option 读写锁初始化选项
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	sqlTracing bool
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

// WithSQLTracing 为持有者表上的每条 SQL 创建 OpenTelemetry Span
func WithSQLTracing(enabled bool) Option {
	return func(o *options) {
		o.sqlTracing = enabled
	}
}

func applyOptions(opts []Option) *options {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithNamespace("rwlock")
	return o
}

// LockOption 单次获取的选项
type LockOption func(*lockOptions)

type lockOptions struct {
	timeout      time.Duration
	blocking     bool
	pollInterval time.Duration
	cancelCheck  func() bool
}

// WithTimeout 设置本次等待时长
func WithTimeout(d time.Duration) LockOption {
	return func(o *lockOptions) { o.timeout = d }
}

// WithBlocking 为 false 时只尝试一次
func WithBlocking(blocking bool) LockOption {
	return func(o *lockOptions) { o.blocking = blocking }
}

// WithPollInterval 设置本次的轮询间隔
func WithPollInterval(d time.Duration) LockOption {
	return func(o *lockOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithCancelCheck 设置在两次尝试之间检查的取消条件
func WithCancelCheck(fn func() bool) LockOption {
	return func(o *lockOptions) { o.cancelCheck = fn }
}

func (c *Config) resolve(opts []LockOption) lockOptions {
	o := lockOptions{
		timeout:      c.Timeout,
		blocking:     !c.NonBlocking,
		pollInterval: c.PollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.blocking {
		o.timeout = 0
	}
	return o
}
