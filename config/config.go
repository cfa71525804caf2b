package config

import (
	"context"
	"fmt"
	"strings"
)

// Config 配置加载器自身的配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型 (yaml, json 等)，默认 "yaml"
	EnvPrefix string   // 环境变量前缀，默认 "FILELOCK"
}

// validate 设置默认值并验证配置
func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = "config"
	}
	if c.Paths == nil {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = "FILELOCK"
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)
	if strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("%w: config name %q must not contain path separators", ErrValidationFailed, c.Name)
	}
	return nil
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置。
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newLoader(cfg, opts...), nil
}

// MustLoad 创建并立即加载配置，失败时 panic
// 仅用于初始化阶段
func MustLoad(cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create config loader: %v", err))
	}
	if err := l.Load(context.Background()); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return l
}
