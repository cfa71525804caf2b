package filelock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/internal/backend"
	"github.com/ceyewan/filelock/internal/singleton"
	"github.com/ceyewan/filelock/metrics"
	"github.com/ceyewan/filelock/xerrors"
)

const tracerName = "filelock"

var sharedLocks = singleton.New[Config, *fileLock](func(have, want Config) string {
	return have.diff(want)
})

// New 创建文件锁实例
//
// cfg 为 nil 时使用 DefaultConfig。构造时探测锁目录的内核锁能力并确定后端，
// 之后不再变化。Singleton 为 true 时，同一规范路径与后端返回共享同一状态的实例，
// 配置不同返回 ErrConfigConflict。
func New(path string, cfg *Config, opts ...Option) (Locker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	abs, err := absPath(path)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)

	kind, fellBack, err := backend.Select(filepath.Dir(abs), c.Backend.kind())
	if err != nil {
		return nil, xerrors.Wrapf(err, "select backend for %s", abs)
	}
	if fellBack {
		o.logger.Warn("kernel locking unsupported, falling back to soft lock",
			clog.String("path", abs))
	}

	if !c.Singleton {
		fl, err := newFileLock(abs, kind, c, o)
		if err != nil {
			return nil, err
		}
		return &locker{fileLock: fl}, nil
	}

	key := singleton.Key{Class: string(kind), Path: canonicalPath(abs)}
	fl, _, err := sharedLocks.Acquire(key, c, func() (*fileLock, error) {
		return newFileLock(abs, kind, c, o)
	})
	if err != nil {
		return nil, err
	}
	return &locker{fileLock: fl, shared: &key}, nil
}

// locker 每次 New 返回的句柄，单例模式下多个句柄共享同一个 fileLock
//
// 句柄关闭后不能再使用，即使共享的 fileLock 仍被其他句柄引用。
type locker struct {
	*fileLock
	shared    *singleton.Key
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (l *locker) Acquire(ctx context.Context, opts ...LockOption) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.fileLock.Acquire(ctx, opts...)
}

func (l *locker) Release(ctx context.Context, force bool) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.fileLock.Release(ctx, force)
}

func (l *locker) Do(ctx context.Context, fn func(ctx context.Context) error, opts ...LockOption) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.fileLock.Do(ctx, fn, opts...)
}

func (l *locker) IsLocked(ctx context.Context) bool {
	return !l.closed.Load() && l.fileLock.IsLocked(ctx)
}

func (l *locker) Counter(ctx context.Context) int {
	if l.closed.Load() {
		return 0
	}
	return l.fileLock.Counter(ctx)
}

// Close 关闭句柄；单例模式下只有最后一个句柄关闭时才释放锁
func (l *locker) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		if l.shared != nil && !sharedLocks.Release(*l.shared) {
			return
		}
		l.closeErr = l.fileLock.close()
	})
	return l.closeErr
}

type fileLock struct {
	path    string
	cfg     Config
	kind    backend.Kind
	backend backend.Backend
	logger  clog.Logger
	tracer  trace.Tracer
	metrics *lockMetrics
	labels  []metrics.Label

	mu       sync.Mutex
	closed   bool
	shared   lockContext
	contexts map[Holder]*lockContext
}

func newFileLock(path string, kind backend.Kind, cfg Config, o *options) (*fileLock, error) {
	lm, err := newLockMetrics(o.meter)
	if err != nil {
		return nil, xerrors.Wrap(err, "create filelock metrics")
	}
	fl := &fileLock{
		path:     path,
		cfg:      cfg,
		kind:     kind,
		logger:   o.logger.With(clog.String("path", path), clog.String("backend", string(kind))),
		tracer:   o.tracerProvider.Tracer(tracerName),
		metrics:  lm,
		labels:   []metrics.Label{metrics.L(LabelBackend, string(kind))},
		contexts: make(map[Holder]*lockContext),
	}
	fl.backend, err = backend.New(kind, backend.Options{
		Mode:     cfg.Mode,
		Lifetime: cfg.Lifetime,
		Logger:   fl.logger,
		OnBreak: func(reason string) {
			lm.broken.Inc(context.Background(), append(fl.labels, metrics.L(LabelReason, reason))...)
		},
	})
	if err != nil {
		return nil, err
	}
	fl.logger.Info("file lock created",
		clog.Bool("thread_local", cfg.ThreadLocal),
		clog.Bool("singleton", cfg.Singleton))
	return fl, nil
}

// contextFor 返回 holder 对应的重入状态，调用方持有 mu
func (l *fileLock) contextFor(holder Holder, create bool) *lockContext {
	if !l.cfg.ThreadLocal {
		return &l.shared
	}
	lc, ok := l.contexts[holder]
	if !ok && create {
		lc = &lockContext{}
		l.contexts[holder] = lc
	}
	return lc
}

func (l *fileLock) Acquire(ctx context.Context, opts ...LockOption) error {
	o := l.cfg.resolve(opts)
	holder, explicit := HolderFrom(ctx)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if lc := l.contextFor(holder, false); lc != nil && lc.held() {
		lc.counter++
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	canonical := canonicalPath(l.path)
	if explicit && o.timeout < 0 && processHoldings.conflict(holder, canonical, l) {
		l.logger.ErrorContext(ctx, "self deadlock detected",
			clog.String("holder", holder.String()),
			clog.ErrorWithCode(ErrDeadlock, ErrorCode(ErrDeadlock)))
		return xerrors.Wrapf(ErrDeadlock,
			"holder %s already holds %s through another instance and would wait forever", holder, canonical)
	}

	ctx, span := l.tracer.Start(ctx, "filelock.Acquire", trace.WithAttributes(
		attribute.String("filelock.path", l.path),
		attribute.String("filelock.backend", string(l.kind)),
		attribute.Int64("filelock.timeout_ms", o.timeout.Milliseconds()),
	))
	defer span.End()

	loop := acquire.Loop{
		Timeout:      o.timeout,
		PollInterval: o.pollInterval,
		CancelCheck:  o.cancelCheck,
	}
	if l.cfg.WatchRelease && o.timeout != 0 {
		if w, err := acquire.WatchFile(l.path); err != nil {
			l.logger.DebugContext(ctx, "release watch unavailable, polling only", clog.Error(err))
		} else {
			defer w.Close()
			loop.Waiter = w
		}
	}

	reentered := false
	res, err := loop.Run(ctx, func(ctx context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			return false, ErrClosed
		}
		lc := l.contextFor(holder, true)
		if lc.held() {
			// 共享模式下其他 goroutine 在等待期间拿到了锁
			lc.counter++
			reentered = true
			return true, nil
		}
		h, err := l.backend.TryAcquire(ctx, l.path)
		if err != nil || h == nil {
			return false, err
		}
		*lc = lockContext{
			counter:    1,
			handle:     h,
			acquiredAt: time.Now(),
			holder:     holder,
			explicit:   explicit,
			canonical:  canonical,
		}
		if explicit {
			processHoldings.add(holder, canonical, l)
		}
		return true, nil
	})
	span.SetAttributes(attribute.Int("filelock.attempts", res.Attempts))

	if err != nil {
		l.dropEmptyContext(holder)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		code := ErrorCode(err)
		if xerrors.Is(err, ErrTimeout) {
			l.metrics.timeouts.Inc(ctx, l.labels...)
			l.logger.DebugContext(ctx, "acquire timed out",
				clog.Duration("waited", res.Waited), clog.Int("attempts", res.Attempts))
			return xerrors.Wrapf(err, "lock %s", l.path)
		}
		if xerrors.Is(err, ErrCanceled) || xerrors.Is(err, ErrClosed) {
			return xerrors.Wrapf(err, "lock %s", l.path)
		}
		l.logger.ErrorContext(ctx, "acquire failed", clog.ErrorWithCode(err, code))
		return xerrors.Wrapf(err, "lock %s", l.path)
	}
	if !reentered {
		l.metrics.acquired.Inc(ctx, l.labels...)
		l.metrics.wait.Record(ctx, res.Waited.Seconds(), l.labels...)
		l.logger.DebugContext(ctx, "lock acquired",
			clog.Duration("waited", res.Waited), clog.Int("attempts", res.Attempts))
	}
	return nil
}

// dropEmptyContext 移除获取失败后残留的空状态，避免持有者表无限增长
func (l *fileLock) dropEmptyContext(holder Holder) {
	if !l.cfg.ThreadLocal {
		return
	}
	l.mu.Lock()
	if lc, ok := l.contexts[holder]; ok && !lc.held() {
		delete(l.contexts, holder)
	}
	l.mu.Unlock()
}

func (l *fileLock) Release(ctx context.Context, force bool) error {
	holder, _ := HolderFrom(ctx)

	l.mu.Lock()
	lc := l.contextFor(holder, false)
	if lc == nil || !lc.held() {
		l.mu.Unlock()
		return nil
	}
	if force {
		lc.counter = 0
	} else {
		lc.counter--
	}
	if lc.held() {
		l.mu.Unlock()
		return nil
	}
	held := time.Since(lc.acquiredAt)
	err := l.releaseLocked(holder, lc)
	l.mu.Unlock()

	l.metrics.released.Inc(ctx, l.labels...)
	l.metrics.hold.Record(ctx, held.Seconds(), l.labels...)
	if err != nil {
		l.logger.WarnContext(ctx, "release failed", clog.ErrorWithCode(err, ErrorCode(err)))
		return xerrors.Wrapf(err, "unlock %s", l.path)
	}
	l.logger.DebugContext(ctx, "lock released", clog.Duration("held", held))
	return nil
}

// releaseLocked 释放底层锁并清理状态，调用方持有 mu
func (l *fileLock) releaseLocked(holder Holder, lc *lockContext) error {
	if lc.explicit {
		processHoldings.remove(lc.holder, lc.canonical, l)
	}
	h := lc.reset()
	if l.cfg.ThreadLocal {
		delete(l.contexts, holder)
	}
	if h == nil {
		return nil
	}
	return h.Release()
}

func (l *fileLock) Do(ctx context.Context, fn func(ctx context.Context) error, opts ...LockOption) (err error) {
	if err := l.Acquire(ctx, opts...); err != nil {
		return err
	}
	defer func() {
		err = xerrors.Combine(err, l.Release(ctx, false))
	}()
	return fn(ctx)
}

func (l *fileLock) IsLocked(ctx context.Context) bool {
	return l.Counter(ctx) > 0
}

func (l *fileLock) Counter(ctx context.Context) int {
	holder, _ := HolderFrom(ctx)
	l.mu.Lock()
	defer l.mu.Unlock()
	if lc := l.contextFor(holder, false); lc != nil {
		return lc.counter
	}
	return 0
}

func (l *fileLock) Path() string        { return l.path }
func (l *fileLock) Config() Config      { return l.cfg }
func (l *fileLock) Kind() string        { return string(l.kind) }
func (l *fileLock) IsThreadLocal() bool { return l.cfg.ThreadLocal }

// close 强制释放所有持有者的锁并拒绝后续获取
func (l *fileLock) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.shared.held() {
		errs = append(errs, l.releaseLocked(processHolder, &l.shared))
	}
	for holder, lc := range l.contexts {
		if lc.held() {
			errs = append(errs, l.releaseLocked(holder, lc))
		}
	}
	if err := xerrors.Combine(errs...); err != nil {
		return xerrors.Wrapf(err, "close %s", l.path)
	}
	return nil
}

func (l *fileLock) String() string {
	return fmt.Sprintf("filelock(%s, %s)", l.path, l.kind)
}
