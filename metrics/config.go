package metrics

import "fmt"

// Config 指标系统的配置结构体
//
// 支持从配置文件加载：
//
//	metrics:
//	  enabled: true
//	  service_name: "lockd"
//	  version: "v1.0.0"
//	  port: 9090
//	  path: "/metrics"
type Config struct {
	// Enabled 是否启用指标收集，为 false 时 New 返回空实现
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name 属性
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`

	// Version 作为 OpenTelemetry Resource 的 service.version 属性
	Version string `mapstructure:"version" yaml:"version" json:"version"`

	// Port 大于 0 时启动独立的 HTTP 服务器暴露指标
	Port int `mapstructure:"port" yaml:"port" json:"port"`

	// Path 指标的 HTTP 路径，必须以 "/" 开头
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// EnableRuntime 同时采集 Go 运行时指标（goroutine 数、GC、内存）
	EnableRuntime bool `mapstructure:"enable_runtime" yaml:"enable_runtime" json:"enable_runtime"`
}

// NewDevDefaultConfig 开发环境默认配置：启用指标但不监听端口
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}

// NewProdDefaultConfig 生产环境默认配置：在 9090 端口暴露 /metrics
func NewProdDefaultConfig(serviceName, version string) *Config {
	return &Config{
		Enabled:       true,
		ServiceName:   serviceName,
		Version:       version,
		Port:          9090,
		Path:          "/metrics",
		EnableRuntime: true,
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ServiceName == "" {
		return fmt.Errorf("metrics: service_name is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("metrics: invalid port %d", c.Port)
	}
	if c.Port > 0 && (c.Path == "" || c.Path[0] != '/') {
		return fmt.Errorf("metrics: path must start with '/', got %q", c.Path)
	}
	return nil
}
