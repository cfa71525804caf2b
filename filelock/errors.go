package filelock

import (
	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/internal/backend"
	"github.com/ceyewan/filelock/internal/singleton"
	"github.com/ceyewan/filelock/xerrors"
)

var (
	// ErrTimeout 在超时时间内未能获取锁，调用方可以重试
	ErrTimeout = acquire.ErrTimeout

	// ErrCanceled ctx 被取消或取消条件成立
	ErrCanceled = acquire.ErrCanceled

	// ErrUnsupported 要求使用内核锁但文件系统不支持
	ErrUnsupported = backend.ErrUnsupported

	// ErrConfigConflict 单例已存在且配置不同
	ErrConfigConflict = singleton.ErrConfigConflict

	// ErrDeadlock 同一持有者通过另一个实例无限等待自己已持有的锁
	ErrDeadlock = xerrors.New("filelock: deadlock detected")

	// ErrClosed 实例已关闭
	ErrClosed = xerrors.New("filelock: locker closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = xerrors.New("filelock: invalid config")
)

// errorCodes 用于日志中的 code 字段
var errorCodes = []xerrors.Code{
	{Err: ErrTimeout, Code: "timeout"},
	{Err: ErrCanceled, Code: "canceled"},
	{Err: ErrUnsupported, Code: "unsupported"},
	{Err: ErrConfigConflict, Code: "config_conflict"},
	{Err: ErrDeadlock, Code: "deadlock"},
	{Err: ErrClosed, Code: "closed"},
	{Err: ErrInvalidConfig, Code: "invalid_config"},
}

// ErrorCode 返回错误对应的机器可读错误码，无法识别的错误归为 io
func ErrorCode(err error) string {
	return xerrors.CodeOf(err, "io", errorCodes)
}
