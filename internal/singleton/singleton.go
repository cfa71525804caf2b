// Package singleton 维护进程内按 (类别, 规范路径) 共享的锁实例。
//
// 同一个键只会构造一次实例，后续获取返回同一实例并增加引用计数；
// 配置不一致时拒绝共享。引用归零时条目被移除，下次获取会重新构造。
package singleton

import (
	"path/filepath"
	"sync"

	"github.com/ceyewan/filelock/xerrors"
)

// ErrConfigConflict 已存在的共享实例与请求的配置不同
var ErrConfigConflict = xerrors.New("filelock: singleton config conflict")

// Key 共享实例的键
type Key struct {
	Class string
	Path  string
}

type entry[C, V any] struct {
	cfg   C
	value V
	refs  int
}

// Registry 引用计数的实例表，可并发使用
type Registry[C, V any] struct {
	mu      sync.Mutex
	entries map[Key]*entry[C, V]
	diff    func(have, want C) string
}

// New 创建实例表，diff 返回两份配置第一个不同的字段，相同时返回空串
func New[C, V any](diff func(have, want C) string) *Registry[C, V] {
	return &Registry[C, V]{
		entries: make(map[Key]*entry[C, V]),
		diff:    diff,
	}
}

// Acquire 返回 key 对应的实例并增加一次引用，不存在时调用 create 构造
//
// create 在持有表锁的情况下执行，保证同一个键只构造一次。
// 配置冲突时返回 ErrConfigConflict，错误信息中带有不同的字段。
func (r *Registry[C, V]) Acquire(key Key, cfg C, create func() (V, error)) (v V, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		if field := r.diff(e.cfg, cfg); field != "" {
			return v, false, xerrors.Wrapf(ErrConfigConflict, "%s %s: %s", key.Class, key.Path, field)
		}
		e.refs++
		return e.value, false, nil
	}

	v, err = create()
	if err != nil {
		return v, false, err
	}
	r.entries[key] = &entry[C, V]{cfg: cfg, value: v, refs: 1}
	return v, true, nil
}

// Release 释放一次引用，返回是否为最后一个引用
func (r *Registry[C, V]) Release(key Key) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(r.entries, key)
	return true
}

// Len 当前共享实例的数量
func (r *Registry[C, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CanonicalPath 解析符号链接后的绝对路径，作为共享实例与死锁检测的身份
//
// 文件尚不存在时只解析父目录。
func CanonicalPath(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, base := filepath.Split(abs)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return filepath.Clean(abs)
}
