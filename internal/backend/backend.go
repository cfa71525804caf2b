// Package backend 实现真正建立互斥的几种后端。
//
// 后端是一个封闭的集合：内核锁（unix 上是 flock，windows 上是 LockFileEx）
// 和基于文件存在性的软锁。Select 在构造锁实例时探测目录能力并选出其中之一，
// 之后该实例的后端不再变化。
//
// 每个后端只提供一次非阻塞尝试，重试、超时与取消由 internal/acquire 负责。
package backend

import (
	"context"
	"os"
	"time"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/xerrors"
)

// Kind 后端类型
type Kind string

const (
	// KindAuto 探测内核锁能力，不可用时回退到软锁
	KindAuto Kind = "auto"
	// KindKernel 由操作系统强制的文件锁，持有进程退出时自动释放
	KindKernel Kind = "kernel"
	// KindSoft 以标记文件是否存在表示锁状态
	KindSoft Kind = "soft"
)

var (
	// ErrUnsupported 当前平台或文件系统不支持内核锁
	ErrUnsupported = xerrors.New("filelock: kernel locking not supported")

	// ErrUnknownKind 后端类型不在支持的集合中
	ErrUnknownKind = xerrors.New("filelock: unknown backend")
)

// Break 原因，用于日志与指标
const (
	BreakStale   = "stale"
	BreakExpired = "expired"
)

// Handle 表示一次成功的加锁，Release 后失效
type Handle interface {
	Release() error
}

// Backend 对单个路径执行一次非阻塞的加锁尝试
//
// TryAcquire 返回 (nil, nil) 表示锁被他人持有，可以重试；
// 返回非 nil 的 error 表示致命错误。
type Backend interface {
	Kind() Kind
	TryAcquire(ctx context.Context, path string) (Handle, error)
}

// Options 后端的公共参数
type Options struct {
	// Mode 为 0 时使用 0666 并交给 umask 处理，不再调用 chmod
	Mode os.FileMode

	// Lifetime 大于 0 时，修改时间早于该时长的锁文件会被视为过期并强制移除
	Lifetime time.Duration

	Logger clog.Logger

	// OnBreak 在移除过期或陈旧的锁文件后调用，reason 为 BreakStale 或 BreakExpired
	OnBreak func(reason string)
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = clog.Discard()
	}
	if o.OnBreak == nil {
		o.OnBreak = func(string) {}
	}
	return o
}

// perm 返回创建文件时使用的权限位
func (o Options) perm() os.FileMode {
	if o.Mode == 0 {
		return 0o666
	}
	return o.Mode.Perm()
}

// New 创建指定类型的后端，kind 必须是 KindKernel 或 KindSoft
func New(kind Kind, opts Options) (Backend, error) {
	opts = opts.withDefaults()
	switch kind {
	case KindKernel:
		return newKernel(opts)
	case KindSoft:
		return &softBackend{opts: opts}, nil
	default:
		return nil, xerrors.Wrapf(ErrUnknownKind, "%q", kind)
	}
}

// Select 决定 dir 下的锁实际使用哪种后端
//
// requested 为 KindAuto 时探测内核锁，不可用则返回 KindSoft 且 fellBack 为 true。
// 明确要求 KindKernel 但不可用时返回 ErrUnsupported。
// 探测因权限或目录不存在而失败时不做判断，交给加锁时报告真实错误。
func Select(dir string, requested Kind) (kind Kind, fellBack bool, err error) {
	switch requested {
	case KindSoft:
		return KindSoft, false, nil
	case KindKernel, KindAuto, "":
	default:
		return "", false, xerrors.Wrapf(ErrUnknownKind, "%q", requested)
	}

	probeErr := probeKernel(dir)
	if probeErr == nil || !xerrors.Is(probeErr, ErrUnsupported) {
		return KindKernel, false, nil
	}
	if requested == KindKernel {
		return "", false, probeErr
	}
	return KindSoft, true, nil
}
