//go:build !unix

package backend

const oNoFollow = 0

// windows 上打开的读句柄会阻止重命名，陈旧标记只能由外部清理
const staleBreakSupported = false
