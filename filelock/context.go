package filelock

import (
	"time"

	"github.com/ceyewan/filelock/internal/backend"
)

// lockContext 一个持有者（或整个实例共享）的重入状态
//
// counter > 0 当且仅当 handle 非空，两者只在 fileLock.mu 下一起修改。
type lockContext struct {
	counter    int
	handle     backend.Handle
	acquiredAt time.Time

	// holder 与 canonical 仅在显式持有者加锁时记录，用于死锁检测表的注销
	holder    Holder
	explicit  bool
	canonical string
}

func (c *lockContext) held() bool {
	return c.counter > 0
}

// reset 清空状态并返回原来的句柄
func (c *lockContext) reset() backend.Handle {
	h := c.handle
	*c = lockContext{}
	return h
}
