package asynclock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ceyewan/filelock/filelock"
)

// Future 一次后台调用的结果
type Future struct {
	done chan struct{}

	mu        sync.Mutex
	err       error
	finished  bool
	abandoned bool

	// onAbandon 在调用方放弃等待且调用最终成功时执行
	onAbandon func()
}

func newFuture(onAbandon func()) *Future {
	return &Future{done: make(chan struct{}), onAbandon: onAbandon}
}

// Done 调用完成时关闭
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err 返回调用结果，完成前返回 nil
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait 等待调用完成
//
// ctx 先结束时放弃等待并返回 ErrCanceled 或 ErrTimeout，
// 后台调用不会被打断，获取类调用在成功后会被自动撤销。
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
	}
	if !f.abandon() {
		// 已经完成，结果以实际为准
		<-f.done
		return f.Err()
	}
	return ctxError(ctx.Err())
}

func (f *Future) complete(err error) {
	f.mu.Lock()
	f.err = err
	f.finished = true
	abandoned := f.abandoned
	f.mu.Unlock()
	close(f.done)

	if abandoned && err == nil && f.onAbandon != nil {
		f.onAbandon()
	}
}

func (f *Future) abandon() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished {
		return false
	}
	f.abandoned = true
	return true
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", filelock.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", filelock.ErrCanceled, err)
}
