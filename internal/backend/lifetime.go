package backend

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/ceyewan/filelock/clog"
)

// breakExpired 在配置了 Lifetime 时移除修改时间过旧的锁文件
//
// 移除失败只记录日志，随后的加锁尝试会把它当作普通竞争。
func breakExpired(path string, opts Options) {
	if opts.Lifetime <= 0 {
		return
	}
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	age := time.Since(info.ModTime())
	if age <= opts.Lifetime {
		return
	}
	if err := breakFile(path); err != nil {
		opts.Logger.Warn("failed to break expired lock file", clog.String("path", path), clog.Error(err))
		return
	}
	opts.Logger.Warn("expired lock file broken",
		clog.String("path", path), clog.Duration("age", age), clog.Duration("lifetime", opts.Lifetime))
	opts.OnBreak(BreakExpired)
}

// breakFile 先把锁文件重命名为进程私有的名字再删除
//
// 重命名是原子的，多个进程同时清理同一个文件时只有一个会成功，
// 其余的看到 ENOENT，这不算错误。
func breakFile(path string) error {
	breakPath := path + ".break." + strconv.Itoa(os.Getpid())
	if err := os.Rename(path, breakPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.Remove(breakPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
