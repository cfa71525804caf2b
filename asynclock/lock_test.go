package asynclock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/filelock/filelock"
	"github.com/ceyewan/filelock/rwlock"
	"github.com/ceyewan/filelock/testkit"
)

// fakeLock 由测试控制何时完成获取
type fakeLock struct {
	threadLocal bool
	gate        chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	acquired  atomic.Int32
	released  atomic.Int32
}

func newFakeLock() *fakeLock {
	return &fakeLock{gate: make(chan struct{})}
}

func (f *fakeLock) Acquire(ctx context.Context, _ ...filelock.LockOption) error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		old := f.maxActive.Load()
		if n <= old || f.maxActive.CompareAndSwap(old, n) {
			break
		}
	}
	<-f.gate
	f.acquired.Add(1)
	return nil
}

func (f *fakeLock) Release(context.Context, bool) error {
	f.released.Add(1)
	return nil
}

func (f *fakeLock) IsThreadLocal() bool { return f.threadLocal }

func newFileLocker(t *testing.T, path string, cfg *filelock.Config) filelock.Locker {
	t.Helper()
	l, err := filelock.New(path, cfg, filelock.WithLogger(testkit.NewLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestNew_Validation(t *testing.T) {
	_, err := New(newFakeLock(), &Config{Executor: "threads"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	tl := newFakeLock()
	tl.threadLocal = true
	_, err = New(tl, nil)
	assert.ErrorIs(t, err, ErrThreadLocalOffload)

	_, err = New(tl, &Config{Executor: ExecutorInline})
	assert.NoError(t, err)
}

func TestLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	fl := newFileLocker(t, path, nil)
	a, err := New(fl, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Acquire(ctx))
	assert.True(t, fl.IsLocked(ctx))

	other := newFileLocker(t, path, nil)
	assert.ErrorIs(t, other.Acquire(ctx, filelock.WithTimeout(0)), filelock.ErrTimeout)

	require.NoError(t, a.Release(ctx, false))
	assert.False(t, fl.IsLocked(ctx))
}

func TestLock_FutureCompletesAfterRelease(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	holder := newFileLocker(t, path, nil)
	require.NoError(t, holder.Acquire(ctx))

	fl := newFileLocker(t, path, nil)
	a, err := New(fl, nil)
	require.NoError(t, err)
	defer a.Close()

	f := a.AcquireAsync(ctx, filelock.WithPollInterval(10*time.Millisecond))
	select {
	case <-f.Done():
		t.Fatal("锁被占用时不应完成")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, holder.Release(ctx, false))
	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("释放后应完成")
	}
	require.NoError(t, f.Err())
	assert.True(t, fl.IsLocked(ctx))
	require.NoError(t, a.Release(ctx, false))
}

func TestLock_CallerTimeoutStopsWaiting(t *testing.T) {
	path := testkit.NewLockPath(t)
	holder := newFileLocker(t, path, nil)
	require.NoError(t, holder.Acquire(context.Background()))
	defer holder.Release(context.Background(), true)

	fl := newFileLocker(t, path, nil)
	a, err := New(fl, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Acquire(ctx), filelock.ErrTimeout)
	assert.False(t, fl.IsLocked(context.Background()))
}

func TestLock_AbandonedAcquisitionIsReleased(t *testing.T) {
	fake := newFakeLock()
	a, err := New(fake, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := a.AcquireAsync(ctx)
	require.Eventually(t, func() bool { return fake.active.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, f.Wait(ctx), filelock.ErrCanceled)

	close(fake.gate)
	require.NoError(t, a.Close())
	assert.Equal(t, int32(1), fake.acquired.Load())
	assert.Equal(t, int32(1), fake.released.Load(), "放弃的获取成功后应自动释放")
}

func TestLock_CompletedResultWinsOverCancel(t *testing.T) {
	fake := newFakeLock()
	close(fake.gate)
	a, err := New(fake, &Config{Executor: ExecutorInline})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	f := a.AcquireAsync(ctx)
	cancel()
	require.NoError(t, f.Wait(ctx), "已完成的获取以实际结果为准")
	assert.Equal(t, int32(0), fake.released.Load())
}

func TestLock_InlineRunsSynchronously(t *testing.T) {
	fake := newFakeLock()
	close(fake.gate)
	a, err := New(fake, &Config{Executor: ExecutorInline})
	require.NoError(t, err)

	f := a.AcquireAsync(context.Background())
	select {
	case <-f.Done():
	default:
		t.Fatal("inline 模式返回时应已完成")
	}
	assert.NoError(t, f.Err())
}

func TestLock_WorkerLimit(t *testing.T) {
	fake := newFakeLock()
	a, err := New(fake, &Config{Workers: 2})
	require.NoError(t, err)

	var futures []*Future
	for i := 0; i < 6; i++ {
		futures = append(futures, a.AcquireAsync(context.Background()))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), fake.active.Load())

	close(fake.gate)
	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.LessOrEqual(t, fake.maxActive.Load(), int32(2))
	require.NoError(t, a.Close())
}

func TestLock_CloseWaitsForInflight(t *testing.T) {
	fake := newFakeLock()
	a, err := New(fake, nil)
	require.NoError(t, err)
	f := a.AcquireAsync(context.Background())

	var closed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Close()
		closed.Store(true)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, closed.Load())

	close(fake.gate)
	wg.Wait()
	assert.NoError(t, f.Err())
	assert.ErrorIs(t, a.AcquireAsync(context.Background()).Err(), ErrClosed)
}

func TestLock_Do(t *testing.T) {
	ctx := context.Background()
	fl := newFileLocker(t, testkit.NewLockPath(t), nil)
	a, err := New(fl, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Do(ctx, func(ctx context.Context) error {
		assert.True(t, fl.IsLocked(ctx))
		return nil
	}))
	assert.False(t, fl.IsLocked(ctx))
}

func TestReadWrite(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	cfg := rwlock.DefaultConfig()
	cfg.Singleton = false
	cfg.PollInterval = 10 * time.Millisecond

	rw, err := rwlock.New(path, cfg)
	require.NoError(t, err)
	defer rw.Close()
	other, err := rwlock.New(path, cfg)
	require.NoError(t, err)
	defer other.Close()

	a, err := NewReadWrite(rw, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.AcquireRead(ctx))
	assert.Equal(t, rwlock.ModeRead, rw.Mode())
	require.NoError(t, other.AcquireRead(ctx, rwlock.WithTimeout(time.Second)))
	require.NoError(t, other.Release(ctx, false))
	require.NoError(t, a.Release(ctx, false))

	owner := filelock.WithHolder(ctx)
	require.NoError(t, a.WriteLock(owner, func(context.Context) error {
		assert.Equal(t, rwlock.ModeWrite, rw.Mode())
		assert.ErrorIs(t, other.AcquireRead(ctx, rwlock.WithTimeout(0)), rwlock.ErrTimeout)
		return nil
	}))
	assert.Equal(t, rwlock.ModeNone, rw.Mode())

	require.NoError(t, a.ReadLock(ctx, func(context.Context) error { return nil }))
}
