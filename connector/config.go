package connector

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// SQLiteConfig SQLite 连接配置
type SQLiteConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")
	Path string `mapstructure:"path"` // [必填] 数据库文件路径

	// BusyTimeout 遇到其他连接持有写锁时 SQLite 内部重试的时长 (默认: 100ms)
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// TxLock 事务开始时的加锁方式：deferred、immediate、exclusive (默认: "immediate")
	TxLock string `mapstructure:"tx_lock"`

	// JournalMode 日志模式，为空时使用 SQLite 默认值
	JournalMode string `mapstructure:"journal_mode"`

	// MaxOpenConns 最大打开连接数 (默认: 1)
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// EnableTracing 为每条 SQL 创建 OpenTelemetry Span
	EnableTracing bool `mapstructure:"enable_tracing"`
}

// setDefaults 设置默认值
func (c *SQLiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 100 * time.Millisecond
	}
	if c.TxLock == "" {
		c.TxLock = "immediate"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
}

// validate 设置默认值并验证配置
func (c *SQLiteConfig) validate() error {
	if c == nil {
		return fmt.Errorf("%w: sqlite config is nil", ErrConfig)
	}
	c.setDefaults()

	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrConfig)
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("%w: busy_timeout must be >= 0", ErrConfig)
	}
	switch c.TxLock {
	case "deferred", "immediate", "exclusive":
	default:
		return fmt.Errorf("%w: unknown tx_lock %q", ErrConfig, c.TxLock)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("%w: max_open_conns must be >= 0", ErrConfig)
	}
	return nil
}

// DSN 生成 go-sqlite3 识别的连接串
func (c *SQLiteConfig) DSN() string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(c.BusyTimeout.Milliseconds(), 10))
	q.Set("_txlock", c.TxLock)
	if c.JournalMode != "" {
		q.Set("_journal_mode", c.JournalMode)
	}
	return c.Path + "?" + q.Encode()
}
