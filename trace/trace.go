// Package trace 初始化进程级的 OpenTelemetry TracerProvider。
//
// filelock、rwlock 默认使用 otel 全局 Provider 创建 Span，
// 在进程启动时调用 Init 即可把获取锁的耗时、重试次数与超时导出到 Tempo/Jaeger；
// 不需要导出时调用 Discard，Span 仍然带有 TraceID，便于与日志关联。
package trace

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ceyewan/filelock/xerrors"
)

// Init 初始化全局 TracerProvider
//
// 返回值是一个 Shutdown 函数，调用者应在应用退出时调用它以刷新剩余数据。
func Init(cfg *Config) (func(context.Context) error, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to create otlp exporter")
	}

	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampler))),
	}
	if cfg.Batcher == "simple" {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(exporter))
	} else {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	return install(sdktrace.NewTracerProvider(tpOpts...)), nil
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	var opts []resource.Option
	if serviceName != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "create resource")
	}
	return res, nil
}

// install 设置全局 Provider 与 W3C TraceContext/Baggage 传播器
func install(tp *sdktrace.TracerProvider) func(context.Context) error {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}
