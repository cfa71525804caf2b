//go:build unix

package backend

import "syscall"

const oNoFollow = syscall.O_NOFOLLOW

// staleBreakSupported 在 unix 上可以安全地重命名仍被读取的标记文件
const staleBreakSupported = true
