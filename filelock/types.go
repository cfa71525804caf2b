// Package filelock 提供基于文件路径的跨进程互斥锁。
//
// 多个互不共享内存的进程通过同一个路径协调对资源的访问。锁是可重入的：
// 同一持有者重复 Acquire 只增加计数，计数归零时才真正释放。
//
// 后端：
//   - kernel：unix 上使用 flock，windows 上使用 LockFileEx，持有进程退出时由内核释放
//   - soft：以独占创建标记文件表示持有，适用于不支持内核锁的文件系统，
//     持有者崩溃留下的陈旧标记会在本机被自动识别并清理
//   - auto（默认）：探测锁目录是否支持内核锁，不支持时回退到 soft 并记录 WARN 日志
//
// 基本使用：
//
//	locker, err := filelock.New("/var/run/app.lock", nil, filelock.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer locker.Close()
//
//	err = locker.Do(ctx, func(ctx context.Context) error {
//	    // 临界区
//	    return nil
//	}, filelock.WithTimeout(5*time.Second))
//
// 持有者：Go 没有线程标识，可重入计数与自死锁检测以 ctx 中携带的 Holder 区分调用方。
// 没有携带 Holder 的调用共享进程级默认持有者。
package filelock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/internal/backend"
	"github.com/ceyewan/filelock/xerrors"
)

// Backend 后端选择
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendKernel Backend = "kernel"
	BackendSoft   Backend = "soft"
)

// DefaultPollInterval 默认轮询间隔
const DefaultPollInterval = acquire.DefaultPollInterval

// Config 锁实例的静态配置
//
// 零值的 Timeout 为 0，表示只尝试一次。需要无限等待时使用 DefaultConfig，
// 从配置文件加载时也应先填充 DefaultConfig 再反序列化，未出现的字段会保留默认值。
type Config struct {
	// Backend 选择后端，默认 auto
	Backend Backend `mapstructure:"backend" json:"backend" yaml:"backend"`

	// Timeout 默认等待时长：小于 0 无限等待，等于 0 只尝试一次
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`

	// PollInterval 两次尝试之间的间隔，默认 50ms
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`

	// NonBlocking 为 true 时每次 Acquire 只尝试一次，优先于 Timeout
	NonBlocking bool `mapstructure:"non_blocking" json:"non_blocking" yaml:"non_blocking"`

	// Lifetime 大于 0 时，持有超过该时长的锁可被其他竞争者强制替换
	Lifetime time.Duration `mapstructure:"lifetime" json:"lifetime" yaml:"lifetime"`

	// Mode 锁文件权限，0 表示交给操作系统默认值（0666 与 umask）
	Mode os.FileMode `mapstructure:"mode" json:"mode" yaml:"mode"`

	// ThreadLocal 为 true 时每个 Holder 拥有独立的重入计数
	ThreadLocal bool `mapstructure:"thread_local" json:"thread_local" yaml:"thread_local"`

	// Singleton 为 true 时同一路径、同一后端的实例在进程内共享
	Singleton bool `mapstructure:"singleton" json:"singleton" yaml:"singleton"`

	// WatchRelease 为 true 时通过文件系统通知在锁释放后提前唤醒等待者
	WatchRelease bool `mapstructure:"watch_release" json:"watch_release" yaml:"watch_release"`
}

// DefaultConfig 返回无限等待、自动选择后端的默认配置
func DefaultConfig() *Config {
	return &Config{
		Backend:      BackendAuto,
		Timeout:      -1,
		PollInterval: DefaultPollInterval,
	}
}

func (c *Config) setDefaults() {
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendAuto, BackendKernel, BackendSoft:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unknown backend %q", c.Backend)
	}
	if c.PollInterval < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "poll_interval must be > 0, got %s", c.PollInterval)
	}
	if c.Lifetime < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "lifetime must be >= 0, got %s", c.Lifetime)
	}
	if c.Mode&^os.ModePerm != 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "mode must only contain permission bits, got %s", c.Mode)
	}
	return nil
}

// diff 逐字段比较配置，返回第一个不同的字段描述，相同时返回空串
func (c Config) diff(o Config) string {
	switch {
	case c.Backend != o.Backend:
		return fmt.Sprintf("backend (%s != %s)", c.Backend, o.Backend)
	case c.Timeout != o.Timeout:
		return fmt.Sprintf("timeout (%s != %s)", c.Timeout, o.Timeout)
	case c.PollInterval != o.PollInterval:
		return fmt.Sprintf("poll_interval (%s != %s)", c.PollInterval, o.PollInterval)
	case c.NonBlocking != o.NonBlocking:
		return fmt.Sprintf("non_blocking (%t != %t)", c.NonBlocking, o.NonBlocking)
	case c.Lifetime != o.Lifetime:
		return fmt.Sprintf("lifetime (%s != %s)", c.Lifetime, o.Lifetime)
	case c.Mode != o.Mode:
		return fmt.Sprintf("mode (%#o != %#o)", uint32(c.Mode), uint32(o.Mode))
	case c.ThreadLocal != o.ThreadLocal:
		return fmt.Sprintf("thread_local (%t != %t)", c.ThreadLocal, o.ThreadLocal)
	case c.WatchRelease != o.WatchRelease:
		return fmt.Sprintf("watch_release (%t != %t)", c.WatchRelease, o.WatchRelease)
	}
	return ""
}

func (b Backend) kind() backend.Kind {
	return backend.Kind(b)
}

// Locker 定义了文件锁的核心行为
type Locker interface {
	// Acquire 获取锁，已持有时只增加重入计数
	//
	// 超时返回 ErrTimeout；ctx 取消或取消条件成立返回 ErrCanceled；
	// 同一 Holder 通过另一个实例无限等待同一路径时返回 ErrDeadlock。
	Acquire(ctx context.Context, opts ...LockOption) error

	// Release 将重入计数减一，归零时释放底层锁
	// force 为 true 时直接归零。未持有时调用不做任何事
	Release(ctx context.Context, force bool) error

	// Do 在持有锁期间执行 fn，任何退出路径（包括 panic）都会释放
	Do(ctx context.Context, fn func(ctx context.Context) error, opts ...LockOption) error

	// IsLocked 当前持有者是否持有锁
	IsLocked(ctx context.Context) bool

	// Counter 当前持有者的重入计数
	Counter(ctx context.Context) int

	// Path 锁文件的绝对路径
	Path() string

	// Config 返回实例的配置副本
	Config() Config

	// Kind 实际使用的后端：kernel 或 soft
	Kind() string

	// IsThreadLocal 是否按 Holder 区分重入计数
	IsThreadLocal() bool

	// Close 释放该实例持有的全部锁
	// 单例实例按引用计数，最后一个引用关闭时才真正释放
	Close() error
}
