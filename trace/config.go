package trace

import (
	"github.com/ceyewan/filelock/xerrors"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = xerrors.New("trace: invalid config")

// Config 配置
type Config struct {
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Sampler     float64 `mapstructure:"sampler"`
	Batcher     string  `mapstructure:"batcher"`
	Insecure    bool    `mapstructure:"insecure"`
}

// DefaultConfig 返回默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Endpoint:    "localhost:4317",
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}

func (c *Config) validate() error {
	if c == nil {
		return xerrors.Wrap(ErrInvalidConfig, "config is required")
	}
	if c.ServiceName == "" {
		return xerrors.Wrap(ErrInvalidConfig, "service_name is required")
	}
	if c.Endpoint == "" {
		return xerrors.Wrap(ErrInvalidConfig, "endpoint is required")
	}
	if c.Sampler < 0 || c.Sampler > 1 {
		return xerrors.Wrapf(ErrInvalidConfig, "sampler must be between 0 and 1, got %v", c.Sampler)
	}
	if c.Batcher != "" && c.Batcher != "batch" && c.Batcher != "simple" {
		return xerrors.Wrapf(ErrInvalidConfig, "batcher must be \"batch\" or \"simple\", got %q", c.Batcher)
	}
	return nil
}
