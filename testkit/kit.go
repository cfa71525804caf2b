// Package testkit 为各组件的测试提供统一的依赖构造工具。
package testkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
	Dir    string
}

// NewKit 返回一个包含默认依赖的测试工具包
// Dir 是本测试独享的临时目录，Meter 在测试结束时关闭
func NewKit(t *testing.T) *Kit {
	t.Helper()
	meter := NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
		Dir:    t.TempDir(),
	}
}

// NewLogger 返回一个用于测试的 logger
// 默认只输出 WARN 及以上，设置 TESTKIT_LOG_LEVEL=debug 可查看完整日志
func NewLogger() clog.Logger {
	cfg := clog.NewDevDefaultConfig("filelock-test")
	cfg.Level = "warn"
	if lvl := os.Getenv("TESTKIT_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	logger, err := clog.New(cfg)
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个用于测试的 meter，不监听端口
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("filelock-test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文，测试结束时自动取消
func NewContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx, cancel
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
func NewID() string {
	return uuid.New().String()[0:8]
}

// NewLockPath 在测试临时目录下返回一个尚不存在的锁文件路径
func NewLockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test-"+NewID()+".lock")
}
