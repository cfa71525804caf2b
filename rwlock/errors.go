package rwlock

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/ceyewan/filelock/internal/acquire"
	"github.com/ceyewan/filelock/internal/singleton"
	"github.com/ceyewan/filelock/xerrors"
)

var (
	ErrTimeout        = acquire.ErrTimeout
	ErrCanceled       = acquire.ErrCanceled
	ErrConfigConflict = singleton.ErrConfigConflict

	// ErrModeViolation 持有一种模式时请求另一种模式
	ErrModeViolation = xerrors.New("rwlock: mode violation")

	// ErrOwnershipViolation 写锁被非持有者重入或释放
	ErrOwnershipViolation = xerrors.New("rwlock: ownership violation")

	// ErrNotHeld 释放未持有的锁
	ErrNotHeld = xerrors.New("rwlock: lock not held")

	// ErrSchemaVersion 数据库由更新版本创建
	ErrSchemaVersion = xerrors.New("rwlock: unsupported schema version")

	ErrClosed        = xerrors.New("rwlock: lock closed")
	ErrInvalidConfig = xerrors.New("rwlock: invalid config")
)

var errorCodes = []xerrors.Code{
	{Err: ErrTimeout, Code: "timeout"},
	{Err: ErrCanceled, Code: "canceled"},
	{Err: ErrConfigConflict, Code: "config_conflict"},
	{Err: ErrModeViolation, Code: "mode_violation"},
	{Err: ErrOwnershipViolation, Code: "ownership_violation"},
	{Err: ErrNotHeld, Code: "not_held"},
	{Err: ErrSchemaVersion, Code: "schema_version"},
	{Err: ErrClosed, Code: "closed"},
	{Err: ErrInvalidConfig, Code: "invalid_config"},
}

// ErrorCode 返回错误对应的机器可读错误码
func ErrorCode(err error) string {
	return xerrors.CodeOf(err, "io", errorCodes)
}

// isBusy 数据库被其他连接锁住，属于可重试的竞争
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
