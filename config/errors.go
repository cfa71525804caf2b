package config

import "github.com/ceyewan/filelock/xerrors"

var (
	// ErrValidationFailed 配置验证失败
	ErrValidationFailed = xerrors.New("configuration validation failed")

	// ErrNotLoaded 在 Load 之前调用了需要已加载配置的方法
	ErrNotLoaded = xerrors.New("configuration not loaded")
)

// IsValidationError 检查错误是否为配置验证失败
func IsValidationError(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}
