package filelock

import (
	"path/filepath"

	"github.com/ceyewan/filelock/internal/singleton"
	"github.com/ceyewan/filelock/xerrors"
)

// absPath 返回不解析符号链接的绝对路径，用于真正加锁的文件
func absPath(path string) (string, error) {
	if path == "" {
		return "", xerrors.Wrap(ErrInvalidConfig, "empty lock path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", xerrors.Wrapf(err, "resolve %s", path)
	}
	return abs, nil
}

func canonicalPath(abs string) string {
	return singleton.CanonicalPath(abs)
}
