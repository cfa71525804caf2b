package acquire

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Waiter 在锁可能已被释放时发出信号
type Waiter interface {
	// Wake 返回的通道在收到释放迹象时可读，信号可能是虚假的
	Wake() <-chan struct{}

	// Close 停止监听
	Close() error
}

// fileWaiter 监听锁文件所在目录，锁文件被删除、重命名或改写时唤醒等待者
type fileWaiter struct {
	watcher *fsnotify.Watcher
	name    string
	wake    chan struct{}
	done    chan struct{}
}

// WatchFile 为 path 创建基于 fsnotify 的 Waiter
//
// 监听的是父目录而不是文件本身，因为锁文件会被反复删除和重建。
func WatchFile(path string) (Waiter, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, &os.PathError{Op: "watch", Path: filepath.Dir(path), Err: err}
	}

	fw := &fileWaiter{
		watcher: w,
		name:    filepath.Clean(path),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go fw.run()
	return fw, nil
}

func (w *fileWaiter) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Chmod) {
				w.signal()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// 事件可能已丢失，唤醒一次让等待者重新尝试
			w.signal()
		}
	}
}

func (w *fileWaiter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *fileWaiter) Wake() <-chan struct{} {
	return w.wake
}

func (w *fileWaiter) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
