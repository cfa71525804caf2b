// Package acquire 实现与后端无关的重试状态机。
//
// Loop 反复调用 Attempt，直到成功、遇到致命错误、超时或被取消。
// Attempt 遵循 (acquired, err) 约定：(false, nil) 表示可重试的竞争，
// 非 nil 的 err 表示致命错误，立即返回不再重试。
package acquire

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/filelock/xerrors"
)

var (
	// ErrTimeout 在超时时间内未能获取锁
	ErrTimeout = xerrors.New("filelock: acquisition timed out")

	// ErrCanceled 取消条件成立或 ctx 被取消
	ErrCanceled = xerrors.New("filelock: acquisition canceled")
)

// DefaultPollInterval 未指定轮询间隔时使用的默认值
const DefaultPollInterval = 50 * time.Millisecond

// Attempt 执行一次非阻塞的加锁尝试
type Attempt func(ctx context.Context) (acquired bool, err error)

// Loop 描述一次加锁过程的停止条件
type Loop struct {
	// Timeout 小于 0 表示无限等待，等于 0 表示只尝试一次
	Timeout time.Duration

	// PollInterval 两次尝试之间的等待时长
	PollInterval time.Duration

	// CancelCheck 只在两次尝试之间调用，返回 true 时停止等待
	CancelCheck func() bool

	// Waiter 可选，用于在锁可能被释放时提前唤醒
	Waiter Waiter
}

// Result 记录一次 Run 的统计信息
type Result struct {
	Attempts int
	Waited   time.Duration
}

// Run 驱动 attempt 直到获取成功或停止条件成立
//
// 计时使用单调时钟。ctx 的取消与 CancelCheck 一样只在两次尝试之间检查，
// 不会打断正在进行的系统调用。
func (l Loop) Run(ctx context.Context, attempt Attempt) (Result, error) {
	poll := l.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	start := time.Now()
	var res Result
	for {
		res.Attempts++
		ok, err := attempt(ctx)
		res.Waited = time.Since(start)
		if err != nil {
			return res, err
		}
		if ok {
			return res, nil
		}

		if l.Timeout == 0 {
			return res, ErrTimeout
		}
		sleep := poll
		if l.Timeout > 0 {
			remaining := l.Timeout - time.Since(start)
			if remaining <= 0 {
				return res, ErrTimeout
			}
			sleep = min(sleep, remaining)
		}
		if l.CancelCheck != nil && l.CancelCheck() {
			return res, ErrCanceled
		}
		if err := ctx.Err(); err != nil {
			return res, ctxError(err)
		}

		if err := l.sleep(ctx, sleep); err != nil {
			return res, err
		}
	}
}

func (l Loop) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if l.Waiter != nil {
		wake = l.Waiter.Wake()
	}

	select {
	case <-ctx.Done():
		return ctxError(ctx.Err())
	case <-timer.C:
	case <-wake:
	}
	return nil
}

// ctxError 把 ctx 的截止时间映射为超时，其余情况映射为取消，同时保留原始错误
func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}
