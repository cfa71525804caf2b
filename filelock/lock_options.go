package filelock

import "time"

// LockOption 单次 Acquire 的选项，覆盖实例配置
type LockOption func(*lockOptions)

type lockOptions struct {
	timeout      time.Duration
	timeoutSet   bool
	blocking     bool
	blockingSet  bool
	pollInterval time.Duration
	cancelCheck  func() bool
}

// WithTimeout 设置本次等待时长：小于 0 无限等待，等于 0 只尝试一次
func WithTimeout(d time.Duration) LockOption {
	return func(o *lockOptions) {
		o.timeout = d
		o.timeoutSet = true
	}
}

// WithBlocking 为 false 时只尝试一次，忽略超时设置
func WithBlocking(blocking bool) LockOption {
	return func(o *lockOptions) {
		o.blocking = blocking
		o.blockingSet = true
	}
}

// WithPollInterval 设置本次的轮询间隔
func WithPollInterval(d time.Duration) LockOption {
	return func(o *lockOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithCancelCheck 设置取消条件，在两次尝试之间调用，返回 true 时以 ErrCanceled 结束
func WithCancelCheck(fn func() bool) LockOption {
	return func(o *lockOptions) {
		o.cancelCheck = fn
	}
}

// resolve 合并实例配置与单次选项，返回有效的等待时长与轮询间隔
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
