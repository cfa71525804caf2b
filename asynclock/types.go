// Package asynclock 把阻塞的锁操作交给后台 worker 执行，调用方通过 Future 等待结果。
//
// 获取文件锁可能阻塞到超时为止，在事件循环或需要同时等待多个事件的 goroutine 中，
// 可以用 AcquireAsync 拿到一个 Future，再与其他 channel 一起 select。
//
// 执行方式：
//   - pool（默认）：固定数量的 worker 执行阻塞调用
//   - inline：在调用方 goroutine 中直接执行，只适用于已知不会阻塞的场景
//
// pool 模式下获取与释放可能发生在不同的 worker 上，
// 因此不接受按 Holder 区分计数的锁（ThreadLocal），构造时返回 ErrThreadLocalOffload。
//
// 调用方放弃等待后，如果后台的获取最终成功，锁会被自动释放，不会泄漏。
package asynclock

import (
	"context"

	"github.com/ceyewan/filelock/filelock"
	"github.com/ceyewan/filelock/xerrors"
)

// Executor 执行方式
type Executor string

const (
	ExecutorPool   Executor = "pool"
	ExecutorInline Executor = "inline"
)

// DefaultWorkers pool 模式默认的 worker 数量
const DefaultWorkers = 4

// Config 异步适配器配置
type Config struct {
	// Executor 执行方式，默认 pool
	Executor Executor `mapstructure:"executor" json:"executor" yaml:"executor"`

	// Workers pool 模式下同时执行的阻塞调用上限，默认 4
	Workers int `mapstructure:"workers" json:"workers" yaml:"workers"`
}

func (c *Config) setDefaults() {
	if c.Executor == "" {
		c.Executor = ExecutorPool
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
}

func (c *Config) validate() error {
	switch c.Executor {
	case ExecutorPool, ExecutorInline:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unknown executor %q", c.Executor)
	}
	if c.Workers < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "workers must be > 0, got %d", c.Workers)
	}
	return nil
}

// Blocking 可被异步化的阻塞锁，filelock.Locker 满足该接口
type Blocking interface {
	Acquire(ctx context.Context, opts ...filelock.LockOption) error
	Release(ctx context.Context, force bool) error
	IsThreadLocal() bool
}

var (
	// ErrThreadLocalOffload pool 模式不能与按 Holder 计数的锁组合
	ErrThreadLocalOffload = xerrors.New("asynclock: thread-local lock cannot be offloaded to a worker pool")

	// ErrClosed 适配器已关闭
	ErrClosed = xerrors.New("asynclock: closed")

	ErrInvalidConfig = xerrors.New("asynclock: invalid config")
)
