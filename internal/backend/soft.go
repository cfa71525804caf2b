package backend

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/ceyewan/filelock/clog"
)

// softBackend 以独占创建标记文件的方式加锁，适用于任何文件系统，
// 但持有进程崩溃后会留下陈旧标记，需要 Detector 识别并清理。
type softBackend struct {
	opts Options
}

func (b *softBackend) Kind() Kind { return KindSoft }

func (b *softBackend) TryAcquire(ctx context.Context, path string) (Handle, error) {
	if err := checkWritable(path); err != nil {
		return nil, err
	}
	breakExpired(path, b.opts)

	h, err := b.create(path)
	if h != nil || err == nil || !errors.Is(err, fs.ErrExist) {
		return h, err
	}

	switch b.detector(ctx).Inspect(path) {
	case VerdictGone:
	case VerdictStale:
		if !staleBreakSupported {
			return nil, nil
		}
		if err := breakFile(path); err != nil {
			b.opts.Logger.Warn("failed to break stale lock marker", clog.String("path", path), clog.Error(err))
			return nil, nil
		}
		b.opts.Logger.Warn("stale lock marker broken", clog.String("path", path))
		b.opts.OnBreak(BreakStale)
	default:
		return nil, nil
	}

	// 标记已被清理，立即再试一次
	h, err = b.create(path)
	if err != nil && errors.Is(err, fs.ErrExist) {
		return nil, nil
	}
	return h, err
}

func (b *softBackend) detector(ctx context.Context) Detector {
	return Detector{
		Alive: func(pid int) bool { return ProcessAlive(ctx, pid) },
		Host:  Hostname(),
		Now:   time.Now,
	}
}

// create 独占创建标记文件并写入持有者记录
//
// 返回的 error 为 fs.ErrExist 时表示已被他人持有，由调用方决定是否检测陈旧。
func (b *softBackend) create(path string) (Handle, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_TRUNC|oNoFollow, b.opts.perm())
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		// windows 上 EACCES 表示文件正被其他进程打开
		if runtime.GOOS == "windows" && errors.Is(err, fs.ErrPermission) {
			return nil, nil
		}
		return nil, err
	}

	content := CurrentRecord().Encode()
	_, werr := f.Write(content)
	if werr == nil && b.opts.Mode != 0 {
		_ = f.Chmod(b.opts.Mode.Perm())
	}
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	b.opts.Logger.Debug("soft lock marker created", clog.String("path", path))
	return &softHandle{path: path, content: content}, nil
}

type softHandle struct {
	path    string
	content []byte
}

// Release 只在标记内容仍是自己写入的时候删除它
func (h *softHandle) Release() error {
	if h.content == nil {
		return nil
	}
	content := h.content
	h.content = nil

	data, err := readMarker(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !bytes.Equal(data, content) {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// checkWritable 已存在的只读标记或目录无法作为锁使用，直接报告致命错误
func checkWritable(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return &os.PathError{Op: "open", Path: path, Err: errors.New("is a directory")}
	}
	if info.Mode().IsRegular() && info.Mode().Perm()&0o200 == 0 {
		return &os.PathError{Op: "open", Path: path, Err: fs.ErrPermission}
	}
	return nil
}
