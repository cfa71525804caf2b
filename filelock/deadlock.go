package filelock

import "sync"

type deadlockKey struct {
	holder Holder
	path   string
}

// holdings 记录显式持有者通过哪个实例持有了哪个规范路径
//
// 同一持有者通过另一个实例无限等待同一路径永远不会成功，这种情况直接报错。
type holdings struct {
	mu sync.Mutex
	m  map[deadlockKey]*fileLock
}

var processHoldings = &holdings{m: make(map[deadlockKey]*fileLock)}

func (h *holdings) add(holder Holder, path string, l *fileLock) {
	h.mu.Lock()
	h.m[deadlockKey{holder, path}] = l
	h.mu.Unlock()
}

func (h *holdings) remove(holder Holder, path string, l *fileLock) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := deadlockKey{holder, path}
	if h.m[key] == l {
		delete(h.m, key)
	}
}

// conflict 返回 holder 是否已通过 l 之外的实例持有 path
func (h *holdings) conflict(holder Holder, path string, l *fileLock) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	other, ok := h.m[deadlockKey{holder, path}]
	return ok && other != l
}
