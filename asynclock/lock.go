package asynclock

import (
	"context"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/filelock"
	"github.com/ceyewan/filelock/xerrors"
)

// Lock 互斥锁的异步适配器
type Lock struct {
	lock   Blocking
	exec   *executor
	logger clog.Logger
}

// New 为阻塞锁创建异步适配器，cfg 为 nil 时使用 pool 与 4 个 worker
func New(l Blocking, cfg *Config, opts ...Option) (*Lock, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.Executor == ExecutorPool && l.IsThreadLocal() {
		return nil, ErrThreadLocalOffload
	}
	o := applyOptions(opts)
	exec, err := newExecutor(c, o)
	if err != nil {
		return nil, err
	}
	return &Lock{lock: l, exec: exec, logger: o.logger}, nil
}

// AcquireAsync 在后台获取锁，立即返回 Future
//
// 后台获取使用 ctx，ctx 结束后获取循环会在下一次尝试前停止。
func (a *Lock) AcquireAsync(ctx context.Context, opts ...filelock.LockOption) *Future {
	return a.exec.submit(ctx, "acquire", func() error {
		return a.lock.Acquire(ctx, opts...)
	}, func() {
		a.undo(ctx)
	})
}

// Acquire 获取锁并等待结果
func (a *Lock) Acquire(ctx context.Context, opts ...filelock.LockOption) error {
	return a.AcquireAsync(ctx, opts...).Wait(ctx)
}

// ReleaseAsync 在后台释放锁，不受 ctx 取消影响
func (a *Lock) ReleaseAsync(ctx context.Context, force bool) *Future {
	ctx = context.WithoutCancel(ctx)
	return a.exec.submit(ctx, "release", func() error {
		return a.lock.Release(ctx, force)
	}, nil)
}

// Release 释放锁并等待结果，ctx 结束只停止等待，释放仍会完成
func (a *Lock) Release(ctx context.Context, force bool) error {
	return a.ReleaseAsync(ctx, force).Wait(ctx)
}

// Do 持有锁执行 fn，fn 在调用方 goroutine 中运行
func (a *Lock) Do(ctx context.Context, fn func(ctx context.Context) error, opts ...filelock.LockOption) (err error) {
	if err := a.Acquire(ctx, opts...); err != nil {
		return err
	}
	defer func() {
		err = xerrors.Combine(err, a.Release(context.WithoutCancel(ctx), false))
	}()
	return fn(ctx)
}

// Close 拒绝新的调用并等待进行中的调用结束，不关闭被包装的锁
func (a *Lock) Close() error {
	a.exec.close()
	return nil
}

// undo 撤销调用方已放弃的获取
func (a *Lock) undo(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := a.lock.Release(ctx, false); err != nil {
		a.logger.WarnContext(ctx, "failed to release abandoned acquisition", clog.Error(err))
		return
	}
	a.logger.DebugContext(ctx, "released abandoned acquisition")
}
