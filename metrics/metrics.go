package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/filelock/clog"
)

// ============================================================================
// 工厂函数
// ============================================================================

// New 创建 Meter 实例
//
// 每个 Meter 持有独立的 Prometheus Registry，多个实例之间互不影响。
// cfg.Port 大于 0 时会在后台启动 HTTP 服务器，Shutdown 时一并关闭。
func New(cfg *Config, opts ...Option) (Meter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("metrics: config is required")
	}
	if !cfg.Enabled {
		return Discard(), nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("metrics: create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	m := &meterImpl{
		meter:    mp.Meter("github.com/ceyewan/filelock"),
		provider: mp,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:   o.logger,
	}

	if cfg.EnableRuntime {
		if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
			_ = mp.Shutdown(context.Background())
			return nil, fmt.Errorf("metrics: start runtime instrumentation: %w", err)
		}
	}

	if cfg.Port > 0 {
		m.startServer(cfg)
	}
	return m, nil
}

// Must 类似 New，但出错时 panic
// 仅用于初始化阶段
func Must(cfg *Config, opts ...Option) Meter {
	m, err := New(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create metrics: %v", err))
	}
	return m
}

// ============================================================================
// Meter 实现
// ============================================================================

type meterImpl struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	server   *http.Server
	logger   clog.Logger
}

func (m *meterImpl) startServer(cfg *Config) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, m.handler)
	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		m.logger.Info("starting prometheus metrics server",
			clog.String("addr", m.server.Addr), clog.String("path", cfg.Path))
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("prometheus metrics server stopped", clog.Error(err))
		}
	}()
}

func (m *meterImpl) Counter(name string, desc string, opts ...MetricOption) (Counter, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64CounterOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	c, err := m.meter.Float64Counter(name, otelOpts...)
	if err != nil {
		return nil, err
	}
	return &counterImpl{c: c}, nil
}

func (m *meterImpl) Gauge(name string, desc string, opts ...MetricOption) (Gauge, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64GaugeOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	g, err := m.meter.Float64Gauge(name, otelOpts...)
	if err != nil {
		return nil, err
	}
	return &gaugeImpl{
		g:      g,
		values: make(map[string]float64),
	}, nil
}

func (m *meterImpl) Histogram(name string, desc string, opts ...MetricOption) (Histogram, error) {
	mo := applyMetricOptions(opts)
	otelOpts := []metric.Float64HistogramOption{metric.WithDescription(desc)}
	if mo.Unit != "" {
		otelOpts = append(otelOpts, metric.WithUnit(mo.Unit))
	}
	if len(mo.Buckets) > 0 {
		otelOpts = append(otelOpts, metric.WithExplicitBucketBoundaries(mo.Buckets...))
	}
	h, err := m.meter.Float64Histogram(name, otelOpts...)
	if err != nil {
		return nil, err
	}
	return &histogramImpl{h: h}, nil
}

func (m *meterImpl) Handler() http.Handler {
	return m.handler
}

func (m *meterImpl) Shutdown(ctx context.Context) error {
	var serverErr error
	if m.server != nil {
		serverErr = m.server.Shutdown(ctx)
	}
	return errors.Join(serverErr, m.provider.Shutdown(ctx))
}

// ============================================================================
// 指标实现
// ============================================================================

type counterImpl struct {
	c metric.Float64Counter
}

func (c *counterImpl) Inc(ctx context.Context, labels ...Label) {
	c.c.Add(ctx, 1, metric.WithAttributes(toAttributes(labels)...))
}

func (c *counterImpl) Add(ctx context.Context, val float64, labels ...Label) {
	if val < 0 {
		return
	}
	c.c.Add(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

// gaugeImpl 在本地维护每组标签的当前值，Inc/Dec 基于它计算后再上报
type gaugeImpl struct {
	g      metric.Float64Gauge
	values map[string]float64
	mu     sync.Mutex
}

func (g *gaugeImpl) Set(ctx context.Context, val float64, labels ...Label) {
	g.mu.Lock()
	g.values[labelKey(labels)] = val
	g.mu.Unlock()
	g.g.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

func (g *gaugeImpl) Inc(ctx context.Context, labels ...Label) {
	g.add(ctx, 1, labels)
}

func (g *gaugeImpl) Dec(ctx context.Context, labels ...Label) {
	g.add(ctx, -1, labels)
}

func (g *gaugeImpl) add(ctx context.Context, delta float64, labels []Label) {
	key := labelKey(labels)
	g.mu.Lock()
	g.values[key] += delta
	val := g.values[key]
	g.mu.Unlock()
	g.g.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

type histogramImpl struct {
	h metric.Float64Histogram
}

func (h *histogramImpl) Record(ctx context.Context, val float64, labels ...Label) {
	h.h.Record(ctx, val, metric.WithAttributes(toAttributes(labels)...))
}

// ============================================================================
// noop 实现
// ============================================================================

// Discard 返回一个空实现的 Meter，组件未注入 Meter 时使用
func Discard() Meter {
	return noopMeter{}
}

type noopMeter struct{}

func (noopMeter) Counter(string, string, ...MetricOption) (Counter, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Gauge(string, string, ...MetricOption) (Gauge, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Histogram(string, string, ...MetricOption) (Histogram, error) {
	return noopInstrument{}, nil
}

func (noopMeter) Handler() http.Handler          { return http.NotFoundHandler() }
func (noopMeter) Shutdown(context.Context) error { return nil }

type noopInstrument struct{}

func (noopInstrument) Inc(context.Context, ...Label)             {}
func (noopInstrument) Dec(context.Context, ...Label)             {}
func (noopInstrument) Add(context.Context, float64, ...Label)    {}
func (noopInstrument) Set(context.Context, float64, ...Label)    {}
func (noopInstrument) Record(context.Context, float64, ...Label) {}

// ============================================================================
// 辅助函数
// ============================================================================

func applyMetricOptions(opts []MetricOption) *MetricOptions {
	mo := &MetricOptions{}
	for _, o := range opts {
		o(mo)
	}
	return mo
}

func toAttributes(labels []Label) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, len(labels))
	for i, l := range labels {
		attrs[i] = attribute.String(l.Key, l.Value)
	}
	return attrs
}

// labelKey 根据标签生成唯一的键
func labelKey(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Key + "=" + l.Value
	}
	return strings.Join(parts, "|")
}
