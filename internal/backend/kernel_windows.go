//go:build windows

package backend

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/windows"

	"github.com/ceyewan/filelock/clog"
)

type kernelBackend struct {
	opts Options
}

func newKernel(opts Options) (Backend, error) {
	return &kernelBackend{opts: opts}, nil
}

func (b *kernelBackend) Kind() Kind { return KindKernel }

func (b *kernelBackend) TryAcquire(ctx context.Context, path string) (Handle, error) {
	breakExpired(path, b.opts)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, b.opts.perm())
	if err != nil {
		// 文件正被其他句柄以独占方式打开
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, windows.ERROR_SHARING_VIOLATION) {
			return nil, nil
		}
		return nil, err
	}

	ol := new(windows.Overlapped)
	err = windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, windows.ERROR_LOCK_VIOLATION) || errors.Is(err, windows.ERROR_IO_PENDING) {
			return nil, nil
		}
		return nil, &os.PathError{Op: "LockFileEx", Path: path, Err: err}
	}

	if b.opts.Lifetime > 0 {
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}

	b.opts.Logger.Debug("kernel lock taken", clog.String("path", path))
	return &kernelHandle{f: f, path: path}, nil
}

type kernelHandle struct {
	f    *os.File
	path string
}

// Release 解锁并关闭句柄，然后尽力删除锁文件
func (h *kernelHandle) Release() error {
	if h.f == nil {
		return nil
	}
	f := h.f
	h.f = nil

	ol := new(windows.Overlapped)
	unlockErr := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
	closeErr := f.Close()
	// 其他进程可能已经打开了该文件，删除失败属于正常情况
	_ = os.Remove(h.path)

	if unlockErr != nil {
		return &os.PathError{Op: "UnlockFileEx", Path: h.path, Err: unlockErr}
	}
	return closeErr
}

func probeKernel(string) error {
	return nil
}
