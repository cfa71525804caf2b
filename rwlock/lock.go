package rwlock

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/connector"
	"github.com/ceyewan/filelock/filelock"
	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/internal/backend"
	"github.com/ceyewan/filelock/internal/singleton"
	"github.com/ceyewan/filelock/metrics"
	"github.com/ceyewan/filelock/xerrors"
)

const (
	// MetricAcquired 获取成功次数 (Counter)，按 mode 区分
	MetricAcquired = "rwlock_acquired_total"
	// MetricTimeout 获取超时次数 (Counter)
	MetricTimeout = "rwlock_timeout_total"

	// migrateTimeout 建表时等待其他进程的上限
	migrateTimeout = 10 * time.Second
	// releaseTimeout 删除持有行时等待数据库的上限
	releaseTimeout = 30 * time.Second
)

var sharedLocks = singleton.New[Config, *engine](func(have, want Config) string {
	return have.diff(want)
})

// Lock 读写锁句柄
//
// 单例模式下多个句柄共享同一个底层实例，Close 按引用计数。
type Lock struct {
	*engine
	shared    *singleton.Key
	closeOnce sync.Once
	closeErr  error
}

// StoragePath 返回 path 对应的数据库文件路径
func StoragePath(path string) string {
	if strings.HasSuffix(path, StorageSuffix) {
		return path
	}
	return path + StorageSuffix
}

// New 创建读写锁，数据库文件为 path 加 .rwlock 后缀
func New(path string, cfg *Config, opts ...Option) (*Lock, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, xerrors.Wrap(ErrInvalidConfig, "empty lock path")
	}
	abs, err := filepath.Abs(StoragePath(path))
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve %s", path)
	}
	o := applyOptions(opts)

	if !c.Singleton {
		e, err := newEngine(abs, c, o)
		if err != nil {
			return nil, err
		}
		return &Lock{engine: e}, nil
	}

	key := singleton.Key{Class: "rwlock", Path: singleton.CanonicalPath(abs)}
	e, _, err := sharedLocks.Acquire(key, c, func() (*engine, error) {
		return newEngine(abs, c, o)
	})
	if err != nil {
		return nil, err
	}
	return &Lock{engine: e, shared: &key}, nil
}

// Close 释放仍持有的锁并关闭数据库连接
func (l *Lock) Close() error {
	l.closeOnce.Do(func() {
		if l.shared != nil && !sharedLocks.Release(*l.shared) {
			return
		}
		l.closeErr = l.engine.close()
	})
	return l.closeErr
}

type engine struct {
	path     string
	cfg      Config
	conn     connector.SQLiteConnector
	store    *store
	logger   clog.Logger
	acquired metrics.Counter
	timeouts metrics.Counter

	// txSem 串行化本实例的获取过程，等待时遵守调用方的超时
	txSem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	mode   Mode
	level  int
	writer filelock.Holder
	rowID  uint
}

func newEngine(path string, cfg Config, o *options) (*engine, error) {
	logger := o.logger.With(clog.String("path", path))
	conn, err := connector.NewSQLite(&connector.SQLiteConfig{
		Name:          filepath.Base(path),
		Path:          path,
		BusyTimeout:   cfg.BusyTimeout,
		TxLock:        "immediate",
		EnableTracing: o.sqlTracing,
	}, connector.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(context.Background()); err != nil {
		return nil, err
	}

	e := &engine{
		path:   path,
		cfg:    cfg,
		conn:   conn,
		logger: logger,
		txSem:  semaphore.NewWeighted(1),
		store: &store{
			db:     conn.GetClient(),
			pid:    os.Getpid(),
			host:   backend.Hostname(),
			alive:  backend.ProcessAlive,
			logger: logger,
		},
	}
	if e.acquired, err = o.meter.Counter(MetricAcquired, "成功获取读写锁的次数"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if e.timeouts, err = o.meter.Counter(MetricTimeout, "获取读写锁超时的次数"); err != nil {
		_ = conn.Close()
		return nil, err
	}

	loop := acquire.Loop{Timeout: migrateTimeout, PollInterval: cfg.PollInterval}
	_, err = loop.Run(context.Background(), func(ctx context.Context) (bool, error) {
		err := e.store.migrate(ctx)
		if isBusy(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		_ = conn.Close()
		return nil, xerrors.Wrapf(err, "prepare %s", path)
	}
	logger.Info("read-write lock opened", clog.Bool("singleton", cfg.Singleton))
	return e, nil
}

// AcquireRead 获取读锁
func (e *engine) AcquireRead(ctx context.Context, opts ...LockOption) error {
	return e.acquire(ctx, ModeRead, opts)
}

// AcquireWrite 获取写锁
func (e *engine) AcquireWrite(ctx context.Context, opts ...LockOption) error {
	return e.acquire(ctx, ModeWrite, opts)
}

// reenter 已持有时检查模式与所有权并增加层级，调用方持有 mu
func (e *engine) reenter(want Mode, holder filelock.Holder) (bool, error) {
	if e.level == 0 {
		return false, nil
	}
	if e.mode != want {
		if want == ModeWrite {
			return false, xerrors.Wrapf(ErrModeViolation, "%s: already holding a read lock (upgrade not allowed)", e.path)
		}
		return false, xerrors.Wrapf(ErrModeViolation, "%s: already holding a write lock (downgrade not allowed)", e.path)
	}
	if want == ModeWrite && e.writer != holder {
		return false, xerrors.Wrapf(ErrOwnershipViolation, "%s: write lock held by %s, requested by %s", e.path, e.writer, holder)
	}
	e.level++
	return true, nil
}

func (e *engine) acquire(ctx context.Context, want Mode, opts []LockOption) error {
	o := e.cfg.resolve(opts)
	holder, _ := filelock.HolderFrom(ctx)
	start := time.Now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	ok, err := e.reenter(want, holder)
	e.mu.Unlock()
	if ok || err != nil {
		return err
	}

	if err := e.lockTx(ctx, o); err != nil {
		return e.fail(ctx, want, err)
	}
	defer e.txSem.Release(1)

	// 等待期间其他 goroutine 可能已经完成获取
	e.mu.Lock()
	ok, err = e.reenter(want, holder)
	e.mu.Unlock()
	if ok || err != nil {
		return err
	}

	timeout := o.timeout
	if timeout > 0 {
		timeout = max(timeout-time.Since(start), 0)
	}
	loop := acquire.Loop{Timeout: timeout, PollInterval: o.pollInterval, CancelCheck: o.cancelCheck}
	res, err := loop.Run(ctx, func(ctx context.Context) (bool, error) {
		id, ok, err := e.store.tryAcquire(ctx, want, holder.String())
		if isBusy(err) {
			return false, nil
		}
		if err != nil || !ok {
			return false, err
		}
		e.mu.Lock()
		e.mode, e.level, e.rowID = want, 1, id
		if want == ModeWrite {
			e.writer = holder
		}
		e.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return e.fail(ctx, want, err)
	}
	e.acquired.Inc(ctx, metrics.L("mode", string(want)))
	e.logger.DebugContext(ctx, "lock acquired",
		clog.String("mode", string(want)),
		clog.Duration("waited", res.Waited),
		clog.Int("attempts", res.Attempts))
	return nil
}

// lockTx 获取实例内的事务许可，等待同样遵守超时、取消条件与 ctx
func (e *engine) lockTx(ctx context.Context, o lockOptions) error {
	loop := acquire.Loop{Timeout: o.timeout, PollInterval: o.pollInterval, CancelCheck: o.cancelCheck}
	_, err := loop.Run(ctx, func(context.Context) (bool, error) {
		return e.txSem.TryAcquire(1), nil
	})
	return err
}

func (e *engine) fail(ctx context.Context, want Mode, err error) error {
	if xerrors.Is(err, ErrTimeout) {
		e.timeouts.Inc(ctx, metrics.L("mode", string(want)))
	} else if !xerrors.Is(err, ErrCanceled) {
		e.logger.ErrorContext(ctx, "acquire failed",
			clog.String("mode", string(want)),
			clog.ErrorWithCode(err, ErrorCode(err)))
	}
	return xerrors.Wrapf(err, "%s lock %s", want, e.path)
}

// Release 将层级减一，归零时删除登记的行
//
// 未持有时返回 ErrNotHeld，force 为 true 时忽略。
// 写锁只能由持有者释放，force 为 true 时不检查。
func (e *engine) Release(ctx context.Context, force bool) error {
	holder, _ := filelock.HolderFrom(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.level == 0 {
		if force {
			return nil
		}
		return xerrors.Wrapf(ErrNotHeld, "%s", e.path)
	}
	if !force && e.mode == ModeWrite && e.writer != holder {
		return xerrors.Wrapf(ErrOwnershipViolation, "%s: write lock held by %s, released by %s", e.path, e.writer, holder)
	}
	if force {
		e.level = 0
	} else {
		e.level--
	}
	if e.level > 0 {
		return nil
	}
	return e.releaseLocked(ctx)
}

// releaseLocked 删除登记行并清空状态，调用方持有 mu
func (e *engine) releaseLocked(ctx context.Context) error {
	id, mode := e.rowID, e.mode
	e.mode, e.level, e.rowID, e.writer = ModeNone, 0, 0, filelock.Holder{}

	// 释放不受调用方取消影响，数据库繁忙时重试
	ctx = context.WithoutCancel(ctx)
	loop := acquire.Loop{Timeout: releaseTimeout, PollInterval: e.cfg.PollInterval}
	_, err := loop.Run(ctx, func(ctx context.Context) (bool, error) {
		err := e.store.remove(ctx, id)
		if isBusy(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		e.logger.WarnContext(ctx, "release failed", clog.String("mode", string(mode)), clog.Error(err))
		return xerrors.Wrapf(err, "release %s", e.path)
	}
	e.logger.DebugContext(ctx, "lock released", clog.String("mode", string(mode)))
	return nil
}

// ReadLock 持有读锁执行 fn
func (e *engine) ReadLock(ctx context.Context, fn func(ctx context.Context) error, opts ...LockOption) error {
	return e.with(ctx, ModeRead, fn, opts)
}

// WriteLock 持有写锁执行 fn
func (e *engine) WriteLock(ctx context.Context, fn func(ctx context.Context) error, opts ...LockOption) error {
	return e.with(ctx, ModeWrite, fn, opts)
}

func (e *engine) with(ctx context.Context, mode Mode, fn func(ctx context.Context) error, opts []LockOption) (err error) {
	if err := e.acquire(ctx, mode, opts); err != nil {
		return err
	}
	defer func() {
		err = xerrors.Combine(err, e.Release(ctx, false))
	}()
	return fn(ctx)
}

// Mode 当前持有的模式，未持有时为 ModeNone
func (e *engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Level 当前重入层级
func (e *engine) Level() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Path 数据库文件路径
func (e *engine) Path() string { return e.path }

// Config 返回配置副本
func (e *engine) Config() Config { return e.cfg }

// Holders 返回数据库中当前登记的读者与写者数量，包括其他进程
func (e *engine) Holders(ctx context.Context) (readers, writers int64, err error) {
	return e.store.counts(ctx)
}

func (e *engine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.level > 0 {
		errs = append(errs, e.releaseLocked(context.Background()))
	}
	errs = append(errs, e.conn.Close())
	return xerrors.Combine(errs...)
}
