// Package rwlock 提供跨进程的读写锁。
//
// 读者与写者以行的形式记录在锁文件旁的 SQLite 数据库（<path>.rwlock）中，
// 每次获取都在一个 BEGIN IMMEDIATE 事务里检查并登记，保证跨进程的原子性：
//   - 读锁：没有写者时登记一行 read，多个读者可以同时持有
//   - 写锁：没有任何读者和写者时登记一行 write
//
// 同一实例内可以在同一模式下重入，只增加层级计数，不再写库。
// 持有读锁时请求写锁（升级）或反之（降级）返回 ErrModeViolation；
// 写锁只能由获取它的 Holder 重入和释放，否则返回 ErrOwnershipViolation。
//
// 持有者进程崩溃后留下的行，会在本机其他进程下一次获取时被清理。
//
// 基本使用：
//
//	rw, err := rwlock.New("/var/run/app.lock", nil, rwlock.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer rw.Close()
//
//	err = rw.ReadLock(ctx, func(ctx context.Context) error {
//	    return readState()
//	})
package rwlock

import (
	"fmt"
	"time"

	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/xerrors"
)

// Mode 锁模式
type Mode string

const (
	// ModeNone 未持有
	ModeNone  Mode = ""
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// StorageSuffix 持有者数据库文件的后缀
const StorageSuffix = ".rwlock"

// Config 读写锁配置
type Config struct {
	// Timeout 默认等待时长：小于 0 无限等待，等于 0 只尝试一次
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`

	// PollInterval 两次尝试之间的间隔，默认 50ms
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`

	// NonBlocking 为 true 时只尝试一次
	NonBlocking bool `mapstructure:"non_blocking" json:"non_blocking" yaml:"non_blocking"`

	// Singleton 为 true 时同一路径在进程内共享一个实例
	Singleton bool `mapstructure:"singleton" json:"singleton" yaml:"singleton"`

	// BusyTimeout SQLite 等待数据库写锁的时长，超过后视为一次竞争，默认 100ms
	BusyTimeout time.Duration `mapstructure:"busy_timeout" json:"busy_timeout" yaml:"busy_timeout"`
}

// DefaultConfig 返回无限等待、进程内共享的默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:      -1,
		PollInterval: acquire.DefaultPollInterval,
		Singleton:    true,
		BusyTimeout:  100 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = acquire.DefaultPollInterval
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 100 * time.Millisecond
	}
}

func (c *Config) validate() error {
	if c.PollInterval < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "poll_interval must be > 0, got %s", c.PollInterval)
	}
	if c.BusyTimeout < 0 {
		return xerrors.Wrapf(ErrInvalidConfig, "busy_timeout must be >= 0, got %s", c.BusyTimeout)
	}
	return nil
}

func (c Config) diff(o Config) string {
	switch {
	case c.Timeout != o.Timeout:
		return fmt.Sprintf("timeout (%s != %s)", c.Timeout, o.Timeout)
	case c.PollInterval != o.PollInterval:
		return fmt.Sprintf("poll_interval (%s != %s)", c.PollInterval, o.PollInterval)
	case c.NonBlocking != o.NonBlocking:
		return fmt.Sprintf("non_blocking (%t != %t)", c.NonBlocking, o.NonBlocking)
	case c.BusyTimeout != o.BusyTimeout:
		return fmt.Sprintf("busy_timeout (%s != %s)", c.BusyTimeout, o.BusyTimeout)
	}
	return ""
}
