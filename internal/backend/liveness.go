package backend

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var hostname = sync.OnceValue(func() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
})

// Hostname 返回写入标记与读写锁记录的主机标识
func Hostname() string {
	return hostname()
}

// ProcessAlive 判断本机 pid 是否仍在运行
//
// 探测失败或 pid 超出探测范围时保守地返回 true，避免误删仍被持有的锁。
func ProcessAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	if pid == os.Getpid() || pid > math.MaxInt32 {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	return exists
}
