package asynclock

import (
	"context"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/rwlock"
	"github.com/ceyewan/filelock/xerrors"
)

// ReadWrite 读写锁的异步适配器
//
// 写锁的所有权记录在 ctx 的 Holder 上而不是 worker 上，因此可以放心交给 pool。
type ReadWrite struct {
	lock   *rwlock.Lock
	exec   *executor
	logger clog.Logger
}

// NewReadWrite 为读写锁创建异步适配器
func NewReadWrite(l *rwlock.Lock, cfg *Config, opts ...Option) (*ReadWrite, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	exec, err := newExecutor(c, o)
	if err != nil {
		return nil, err
	}
	return &ReadWrite{lock: l, exec: exec, logger: o.logger}, nil
}

// AcquireReadAsync 在后台获取读锁
func (a *ReadWrite) AcquireReadAsync(ctx context.Context, opts ...rwlock.LockOption) *Future {
	return a.exec.submit(ctx, "acquire_read", func() error {
		return a.lock.AcquireRead(ctx, opts...)
	}, func() { a.undo(ctx) })
}

// AcquireWriteAsync 在后台获取写锁
func (a *ReadWrite) AcquireWriteAsync(ctx context.Context, opts ...rwlock.LockOption) *Future {
	return a.exec.submit(ctx, "acquire_write", func() error {
		return a.lock.AcquireWrite(ctx, opts...)
	}, func() { a.undo(ctx) })
}

// AcquireRead 获取读锁并等待结果
func (a *ReadWrite) AcquireRead(ctx context.Context, opts ...rwlock.LockOption) error {
	return a.AcquireReadAsync(ctx, opts...).Wait(ctx)
}

// AcquireWrite 获取写锁并等待结果
func (a *ReadWrite) AcquireWrite(ctx context.Context, opts ...rwlock.LockOption) error {
	return a.AcquireWriteAsync(ctx, opts...).Wait(ctx)
}

// Release 在后台释放并等待结果
func (a *ReadWrite) Release(ctx context.Context, force bool) error {
	rctx := context.WithoutCancel(ctx)
	return a.exec.submit(rctx, "release", func() error {
		return a.lock.Release(rctx, force)
	}, nil).Wait(ctx)
}

// ReadLock 持有读锁执行 fn
func (a *ReadWrite) ReadLock(ctx context.Context, fn func(ctx context.Context) error, opts ...rwlock.LockOption) (err error) {
	if err := a.AcquireRead(ctx, opts...); err != nil {
		return err
	}
	defer func() {
		err = xerrors.Combine(err, a.Release(context.WithoutCancel(ctx), false))
	}()
	return fn(ctx)
}

// WriteLock 持有写锁执行 fn
func (a *ReadWrite) WriteLock(ctx context.Context, fn func(ctx context.Context) error, opts ...rwlock.LockOption) (err error) {
	if err := a.AcquireWrite(ctx, opts...); err != nil {
		return err
	}
	defer func() {
		err = xerrors.Combine(err, a.Release(context.WithoutCancel(ctx), false))
	}()
	return fn(ctx)
}

// Close 拒绝新的调用并等待进行中的调用结束，不关闭被包装的锁
func (a *ReadWrite) Close() error {
	a.exec.close()
	return nil
}

func (a *ReadWrite) undo(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := a.lock.Release(ctx, false); err != nil {
		a.logger.WarnContext(ctx, "failed to release abandoned acquisition", clog.Error(err))
	}
}
