// Package metrics 为 filelock 提供统一的指标收集能力。
// 基于 OpenTelemetry 标准构建，提供简洁的 Counter、Gauge、Histogram 指标接口，
// 并通过 Prometheus Exporter 暴露给采集端。
//
// 快速开始：
//
//	meter, err := metrics.New(metrics.NewDevDefaultConfig("lockd"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer meter.Shutdown(ctx)
//
//	counter, _ := meter.Counter("filelock_acquired_total", "成功获取锁的次数")
//	counter.Inc(ctx, metrics.L("backend", "kernel"))
//
// Enabled 为 false 时 New 返回空实现，调用方无需判空。
package metrics

import (
	"context"
	"net/http"
)

// Counter 计数器接口，用于只增不减的累计值，例如加锁次数、超时次数。
type Counter interface {
	// Inc 将计数器增加 1
	Inc(ctx context.Context, labels ...Label)

	// Add 将计数器增加给定的值
	// 注意：传入负数会被忽略
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘接口，用于可任意增减的瞬时值，例如当前持有的锁数量。
type Gauge interface {
	// Set 将 gauge 设置为给定的值，覆盖之前的值
	Set(ctx context.Context, val float64, labels ...Label)

	// Inc 将 gauge 增加 1
	Inc(ctx context.Context, labels ...Label)

	// Dec 将 gauge 减少 1
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图接口，用于记录值的分布，例如等待锁的耗时。
type Histogram interface {
	// Record 在直方图中记录一个值
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标创建工厂接口
//
// 一个 Meter 实例通常对应一个进程，通过 Meter 创建的指标可以在多个 goroutine 中并发使用。
// 同名指标重复创建时返回同一个底层仪表。
type Meter interface {
	// Counter 创建计数器实例
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)

	// Gauge 创建仪表盘实例
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)

	// Histogram 创建直方图实例
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 格式的指标 HTTP 处理器
	// 禁用时返回 404 处理器
	Handler() http.Handler

	// Shutdown 关闭 Meter，刷新所有指标
	// 通常在应用程序退出时调用
	Shutdown(ctx context.Context) error
}

// MetricOption 指标配置选项函数类型
type MetricOption func(*MetricOptions)

// MetricOptions 指标配置选项
type MetricOptions struct {
	// Unit 指标单位，例如 "s"、"ms"、"By"
	Unit string

	// Buckets 直方图的显式分桶边界，为空时使用 SDK 默认分桶
	Buckets []float64
}

// WithUnit 设置指标单位
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图分桶边界
func WithBuckets(buckets ...float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = buckets
	}
}
