package filelock

import (
	"github.com/ceyewan/filelock/metrics"
)

// Metrics 指标常量定义
const (
	// MetricAcquired 获取成功次数 (Counter)，重入不计
	MetricAcquired = "filelock_acquired_total"

	// MetricTimeout 获取超时次数 (Counter)
	MetricTimeout = "filelock_timeout_total"

	// MetricReleased 底层锁释放次数 (Counter)
	MetricReleased = "filelock_released_total"

	// MetricWaitDuration 获取成功前的等待时长 (Histogram)
	MetricWaitDuration = "filelock_wait_duration_seconds"

	// MetricHoldDuration 锁持有时长 (Histogram)
	MetricHoldDuration = "filelock_hold_duration_seconds"

	// MetricBroken 被强制移除的陈旧或过期锁文件数量 (Counter)
	MetricBroken = "filelock_stale_broken_total"

	// LabelBackend 后端类型标签
	LabelBackend = "backend"

	// LabelReason 强制移除原因标签：stale 或 expired
	LabelReason = "reason"
)

type lockMetrics struct {
	acquired metrics.Counter
	timeouts metrics.Counter
	released metrics.Counter
	broken   metrics.Counter
	wait     metrics.Histogram
	hold     metrics.Histogram
}

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60}

func newLockMetrics(m metrics.Meter) (*lockMetrics, error) {
	var (
		lm  lockMetrics
		err error
	)
	if lm.acquired, err = m.Counter(MetricAcquired, "成功获取文件锁的次数"); err != nil {
		return nil, err
	}
	if lm.timeouts, err = m.Counter(MetricTimeout, "获取文件锁超时的次数"); err != nil {
		return nil, err
	}
	if lm.released, err = m.Counter(MetricReleased, "释放文件锁的次数"); err != nil {
		return nil, err
	}
	if lm.broken, err = m.Counter(MetricBroken, "强制移除的陈旧或过期锁文件数量"); err != nil {
		return nil, err
	}
	if lm.wait, err = m.Histogram(MetricWaitDuration, "获取文件锁的等待时长",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets...)); err != nil {
		return nil, err
	}
	if lm.hold, err = m.Histogram(MetricHoldDuration, "文件锁的持有时长",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets...)); err != nil {
		return nil, err
	}
	return &lm, nil
}
