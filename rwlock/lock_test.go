package rwlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/filelock/filelock"
	"github.com/ceyewan/filelock/internal/backend"
	"github.com/ceyewan/filelock/testkit"
)

func privateConfig() *Config {
	cfg := DefaultConfig()
	cfg.Singleton = false
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

func newLock(t *testing.T, path string, cfg *Config) *Lock {
	t.Helper()
	if cfg == nil {
		cfg = privateConfig()
	}
	l, err := New(path, cfg, WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNew_StoragePath(t *testing.T) {
	path := testkit.NewLockPath(t)
	l := newLock(t, path, nil)
	assert.Equal(t, path+StorageSuffix, l.Path())
	assert.FileExists(t, path+StorageSuffix)

	same := newLock(t, path+StorageSuffix, nil)
	assert.Equal(t, l.Path(), same.Path())

	_, err := New("", nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLock_ConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	r1 := newLock(t, path, nil)
	r2 := newLock(t, path, nil)
	r3 := newLock(t, path, nil)

	require.NoError(t, r1.AcquireRead(ctx, WithTimeout(5*time.Second)))
	require.NoError(t, r2.AcquireRead(ctx, WithTimeout(5*time.Second)))
	require.NoError(t, r3.AcquireRead(ctx, WithTimeout(5*time.Second)))

	readers, writers, err := r1.Holders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), readers)
	assert.Equal(t, int64(0), writers)
}

func TestLock_WriterWaitsForReaders(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	r := newLock(t, path, nil)
	w := newLock(t, path, nil)

	require.NoError(t, r.AcquireRead(ctx))
	assert.ErrorIs(t, w.AcquireWrite(ctx, WithTimeout(200*time.Millisecond)), ErrTimeout)
	assert.ErrorIs(t, w.AcquireWrite(ctx, WithBlocking(false)), ErrTimeout)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = r.Release(ctx, false)
	}()
	require.NoError(t, w.AcquireWrite(ctx, WithTimeout(5*time.Second)))
	assert.Equal(t, ModeWrite, w.Mode())

	// 写者持有时读者等待
	assert.ErrorIs(t, r.AcquireRead(ctx, WithTimeout(100*time.Millisecond)), ErrTimeout)
	require.NoError(t, w.Release(ctx, false))
	require.NoError(t, r.AcquireRead(ctx, WithTimeout(5*time.Second)))
}

func TestLock_Reentrant(t *testing.T) {
	ctx := filelock.WithHolder(context.Background())
	l := newLock(t, testkit.NewLockPath(t), nil)

	require.NoError(t, l.AcquireWrite(ctx))
	require.NoError(t, l.AcquireWrite(ctx))
	assert.Equal(t, 2, l.Level())

	require.NoError(t, l.Release(ctx, false))
	assert.Equal(t, ModeWrite, l.Mode())
	require.NoError(t, l.Release(ctx, false))
	assert.Equal(t, ModeNone, l.Mode())

	_, writers, err := l.Holders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), writers)
}

func TestLock_ModeViolation(t *testing.T) {
	ctx := context.Background()
	l := newLock(t, testkit.NewLockPath(t), nil)

	require.NoError(t, l.AcquireRead(ctx))
	err := l.AcquireWrite(ctx)
	require.ErrorIs(t, err, ErrModeViolation)
	assert.Contains(t, err.Error(), "upgrade")
	assert.Equal(t, 1, l.Level(), "违规请求不改变状态")
	require.NoError(t, l.Release(ctx, false))

	require.NoError(t, l.AcquireWrite(ctx))
	err = l.AcquireRead(ctx)
	require.ErrorIs(t, err, ErrModeViolation)
	assert.Contains(t, err.Error(), "downgrade")
	assert.Equal(t, "mode_violation", ErrorCode(err))
	require.NoError(t, l.Release(ctx, false))
}

func TestLock_WriteOwnership(t *testing.T) {
	owner := filelock.WithHolder(context.Background())
	other := filelock.WithHolder(context.Background())
	l := newLock(t, testkit.NewLockPath(t), nil)

	require.NoError(t, l.AcquireWrite(owner))
	assert.ErrorIs(t, l.AcquireWrite(other), ErrOwnershipViolation)
	assert.ErrorIs(t, l.Release(other, false), ErrOwnershipViolation)
	assert.Equal(t, 1, l.Level())

	require.NoError(t, l.Release(owner, false))
}

func TestLock_ReadReentryAcrossHolders(t *testing.T) {
	h1 := filelock.WithHolder(context.Background())
	h2 := filelock.WithHolder(context.Background())
	l := newLock(t, testkit.NewLockPath(t), nil)

	require.NoError(t, l.AcquireRead(h1))
	require.NoError(t, l.AcquireRead(h2))
	assert.Equal(t, 2, l.Level())
	require.NoError(t, l.Release(h2, false))
	require.NoError(t, l.Release(h1, false))
}

func TestLock_ReleaseNotHeld(t *testing.T) {
	ctx := context.Background()
	l := newLock(t, testkit.NewLockPath(t), nil)
	assert.ErrorIs(t, l.Release(ctx, false), ErrNotHeld)
	assert.NoError(t, l.Release(ctx, true))

	require.NoError(t, l.AcquireRead(ctx))
	require.NoError(t, l.AcquireRead(ctx))
	require.NoError(t, l.Release(ctx, true))
	assert.Equal(t, 0, l.Level())
}

func TestLock_ScopedHelpers(t *testing.T) {
	ctx := context.Background()
	l := newLock(t, testkit.NewLockPath(t), nil)

	boom := errors.New("boom")
	err := l.WriteLock(ctx, func(context.Context) error {
		assert.Equal(t, ModeWrite, l.Mode())
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ModeNone, l.Mode())

	require.NoError(t, l.ReadLock(ctx, func(context.Context) error {
		assert.Equal(t, ModeRead, l.Mode())
		return nil
	}))
	assert.Equal(t, ModeNone, l.Mode())
}

func TestLock_ConcurrentGoroutinesSameInstance(t *testing.T) {
	l := newLock(t, testkit.NewLockPath(t), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			assert.NoError(t, l.AcquireRead(ctx, WithTimeout(10*time.Second)))
			time.Sleep(5 * time.Millisecond)
			assert.NoError(t, l.Release(ctx, false))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, l.Level())
}

func TestLock_Singleton(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	a := newLock(t, path, DefaultConfig())
	b := newLock(t, path, DefaultConfig())

	require.NoError(t, a.AcquireRead(ctx))
	assert.Equal(t, 1, b.Level())
	require.NoError(t, b.Release(ctx, false))

	conflict := DefaultConfig()
	conflict.Timeout = time.Second
	_, err := New(path, conflict)
	require.ErrorIs(t, err, ErrConfigConflict)
	assert.Contains(t, err.Error(), "timeout")

	require.NoError(t, a.Close())
	require.NoError(t, b.AcquireWrite(ctx, WithTimeout(time.Second)), "仍有引用时实例可用")
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.AcquireRead(ctx), ErrClosed)
}

func TestLock_CloseReleasesRows(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	a, err := New(path, privateConfig())
	require.NoError(t, err)
	require.NoError(t, a.AcquireWrite(ctx))
	require.NoError(t, a.Close())

	b := newLock(t, path, nil)
	require.NoError(t, b.AcquireWrite(ctx, WithTimeout(0)))
}

func insertRow(t *testing.T, l *Lock, row holderRow) {
	t.Helper()
	row.AcquiredAt = time.Now().Add(-time.Hour)
	require.NoError(t, l.store.db.Create(&row).Error)
}

func TestLock_ReapsDeadProcessRows(t *testing.T) {
	ctx := context.Background()
	l := newLock(t, testkit.NewLockPath(t), nil)
	insertRow(t, l, holderRow{Mode: string(ModeWrite), PID: testkit.DeadPID(t), Host: backend.Hostname()})

	require.NoError(t, l.AcquireRead(ctx, WithTimeout(0)))
	readers, writers, err := l.Holders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), readers)
	assert.Equal(t, int64(0), writers)
}

func TestLock_KeepsForeignHostRows(t *testing.T) {
	ctx := context.Background()
	l := newLock(t, testkit.NewLockPath(t), nil)
	insertRow(t, l, holderRow{Mode: string(ModeWrite), PID: 1, Host: "another-host"})

	assert.ErrorIs(t, l.AcquireRead(ctx, WithTimeout(100*time.Millisecond)), ErrTimeout)
	_, writers, err := l.Holders(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), writers)
}

func TestLock_NewerSchemaRejected(t *testing.T) {
	path := testkit.NewLockPath(t)
	l, err := New(path, privateConfig())
	require.NoError(t, err)
	require.NoError(t, l.store.db.Model(&metaRow{}).
		Where("name = ?", schemaVersionKey).
		Update("value", fmt.Sprint(schemaVersion+1)).Error)
	require.NoError(t, l.Close())

	_, err = New(path, privateConfig())
	assert.ErrorIs(t, err, ErrSchemaVersion)
}

func TestLock_CancelCheck(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	w := newLock(t, path, nil)
	require.NoError(t, w.AcquireWrite(ctx))

	r := newLock(t, path, nil)
	calls := 0
	err := r.AcquireRead(ctx, WithCancelCheck(func() bool {
		calls++
		return calls > 2
	}))
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestLock_CancelCheckWhileInstanceBusy(t *testing.T) {
	path := testkit.NewLockPath(t)
	other := newLock(t, path, nil)
	require.NoError(t, other.AcquireWrite(context.Background()))

	// 同一实例上另一个 goroutine 正在等待写锁，占住了实例内的许可
	l := newLock(t, path, nil)
	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waiting := make(chan error, 1)
	go func() { waiting <- l.AcquireWrite(waitCtx) }()
	require.Eventually(t, func() bool {
		if !l.txSem.TryAcquire(1) {
			return true
		}
		l.txSem.Release(1)
		return false
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- l.AcquireRead(context.Background(), WithCancelCheck(func() bool { return true }))
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("取消条件成立后仍在等待")
	}

	cancel()
	assert.ErrorIs(t, <-waiting, ErrCanceled)
}

func TestStore_HolderColumns(t *testing.T) {
	l := newLock(t, testkit.NewLockPath(t), nil)
	cols, err := l.store.db.Migrator().ColumnTypes(&holderRow{})
	require.NoError(t, err)
	var names []string
	for _, c := range cols {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"id", "mode", "pid", "host", "holder", "acquired_at"}, names)

	// 每次获取都会按 pid 清理死亡进程的行
	ctx := context.Background()
	require.NoError(t, l.AcquireWrite(ctx, WithTimeout(0)))
	require.NoError(t, l.Release(ctx, false))
}

func TestLock_SQLTracing(t *testing.T) {
	l, err := New(testkit.NewLockPath(t), privateConfig(), WithSQLTracing(true))
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.ReadLock(context.Background(), func(context.Context) error { return nil }))
}

// TestHelperProcess 跨进程测试的子进程入口
func TestHelperProcess(t *testing.T) {
	mode, args, ok := testkit.HelperMode()
	if !ok {
		return
	}
	l, err := New(args[0], privateConfig())
	if err != nil {
		fmt.Println("error", err)
		os.Exit(1)
	}
	if mode == "write" {
		err = l.AcquireWrite(context.Background())
	} else {
		err = l.AcquireRead(context.Background())
	}
	if err != nil {
		fmt.Println("error", err)
		os.Exit(1)
	}
	fmt.Println("locked")
	testkit.WaitForStdinClose()
	_ = l.Close()
	os.Exit(0)
}

func TestCrossProcess_WriterExcludesReader(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	helper := testkit.StartHelper(t, "write", path)
	_, err := helper.WaitFor("locked", 10*time.Second)
	require.NoError(t, err)

	l := newLock(t, path, nil)
	assert.ErrorIs(t, l.AcquireRead(ctx, WithTimeout(300*time.Millisecond)), ErrTimeout)

	helper.Stop()
	require.NoError(t, l.AcquireRead(ctx, WithTimeout(5*time.Second)))
}

func TestCrossProcess_CrashedWriterIsReaped(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	helper := testkit.StartHelper(t, "write", path)
	_, err := helper.WaitFor("locked", 10*time.Second)
	require.NoError(t, err)
	helper.Kill()

	l := newLock(t, path, nil)
	require.NoError(t, l.AcquireWrite(ctx, WithTimeout(5*time.Second)))
}

func TestCrossProcess_ReadersShare(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	helper := testkit.StartHelper(t, "read", path)
	_, err := helper.WaitFor("locked", 10*time.Second)
	require.NoError(t, err)

	l := newLock(t, path, nil)
	require.NoError(t, l.AcquireRead(ctx, WithTimeout(time.Second)))
	assert.ErrorIs(t, newLock(t, path, nil).AcquireWrite(ctx, WithTimeout(100*time.Millisecond)), ErrTimeout)
}
