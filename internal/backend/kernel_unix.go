//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/xerrors"
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

	fd, err := b.open(path)
	if err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, nil
	}

	if err := flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = unix.Close(fd)
		switch {
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EAGAIN):
			return nil, nil
		case isUnsupported(err):
			return nil, xerrors.Wrapf(ErrUnsupported, "flock %s: %v", path, err)
		default:
			return nil, &os.PathError{Op: "flock", Path: path, Err: err}
		}
	}

	// 释放方会先 unlink 再解锁，open 与 flock 之间文件可能已被删除，
	// 锁在一个已删除的 inode 上没有意义
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		return nil, &os.PathError{Op: "fstat", Path: path, Err: err}
	}
	if st.Nlink == 0 {
		_ = unix.Close(fd)
		return nil, nil
	}

	if b.opts.Lifetime > 0 {
		now := time.Now()
		_ = os.Chtimes(path, now, now)
	}

	b.opts.Logger.Debug("kernel lock taken", clog.String("path", path), clog.Int("fd", fd))
	return &kernelHandle{fd: fd, path: path, dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}

// open 打开或创建锁文件，返回 -1 表示文件在重试前消失，按竞争处理
//
// 不使用 O_TRUNC：竞争者的 open 不能刷新持有者文件的修改时间，Lifetime 以它判断过期。
func (b *kernelBackend) open(path string) (int, error) {
	flags := unix.O_RDWR | unix.O_CREAT | unix.O_NOFOLLOW | unix.O_CLOEXEC
	perm := uint32(b.opts.perm())

	fd, err := openRetry(path, flags, perm)
	if err != nil && (errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)) {
		// 粘滞位目录（如 /tmp）中，文件属于其他用户时 O_CREAT 会失败，改为只打开已有文件
		if _, statErr := os.Lstat(path); statErr == nil {
			fd, err = openRetry(path, flags&^unix.O_CREAT, perm)
			if errors.Is(err, unix.ENOENT) {
				return -1, nil
			}
		}
	}
	if err != nil {
		return -1, &os.PathError{Op: "open", Path: path, Err: err}
	}

	if b.opts.Mode != 0 {
		// 文件属于其他用户时 fchmod 返回 EPERM，忽略
		if err := unix.Fchmod(fd, perm); err != nil && !errors.Is(err, unix.EPERM) {
			_ = unix.Close(fd)
			return -1, &os.PathError{Op: "fchmod", Path: path, Err: err}
		}
	}
	return fd, nil
}

type kernelHandle struct {
	fd   int
	path string
	dev  uint64
	ino  uint64
}

// Release 删除锁文件、解锁并关闭句柄
//
// 删除是尽力而为：只在路径仍指向本句柄的 inode 时才删除，
// 另一个进程可能正在重新创建同名文件。
func (h *kernelHandle) Release() error {
	if h.fd < 0 {
		return nil
	}
	fd := h.fd
	h.fd = -1

	var st unix.Stat_t
	if err := unix.Lstat(h.path, &st); err == nil && uint64(st.Dev) == h.dev && uint64(st.Ino) == h.ino {
		_ = unix.Unlink(h.path)
	}

	unlockErr := flock(fd, unix.LOCK_UN)
	closeErr := unix.Close(fd)
	if unlockErr != nil {
		return &os.PathError{Op: "funlock", Path: h.path, Err: unlockErr}
	}
	if closeErr != nil {
		return &os.PathError{Op: "close", Path: h.path, Err: closeErr}
	}
	return nil
}

// probeKernel 在 dir 下创建临时文件并尝试 flock，判断文件系统是否支持内核锁
func probeKernel(dir string) error {
	f, err := os.CreateTemp(dir, ".filelock-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	defer func() {
		_ = f.Close()
		_ = os.Remove(name)
	}()

	fd := int(f.Fd())
	if err := flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if isUnsupported(err) {
			return xerrors.Wrapf(ErrUnsupported, "flock in %s: %v", filepath.Clean(dir), err)
		}
		return &os.PathError{Op: "flock", Path: name, Err: err}
	}
	return flock(fd, unix.LOCK_UN)
}

func isUnsupported(err error) bool {
	return errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}

func flock(fd int, how int) error {
	for {
		err := unix.Flock(fd, how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func openRetry(path string, flags int, perm uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags, perm)
		if !errors.Is(err, unix.EINTR) {
			return fd, err
		}
	}
}
