package filelock

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/filelock/testkit"
)

// TestHelperProcess 是跨进程测试的子进程入口，正常测试运行时直接返回
func TestHelperProcess(t *testing.T) {
	mode, args, ok := testkit.HelperMode()
	if !ok {
		return
	}
	cfg := DefaultConfig()
	if mode == "hold-soft" {
		cfg.Backend = BackendSoft
	}
	l, err := New(args[0], cfg)
	if err != nil {
		fmt.Println("error", err)
		os.Exit(1)
	}
	if err := l.Acquire(context.Background()); err != nil {
		fmt.Println("error", err)
		os.Exit(1)
	}
	fmt.Println("locked")
	testkit.WaitForStdinClose()
	_ = l.Release(context.Background(), false)
	os.Exit(0)
}

func TestCrossProcess_Exclusion(t *testing.T) {
	for _, mode := range []string{"hold", "hold-soft"} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			path := testkit.NewLockPath(t)
			helper := testkit.StartHelper(t, mode, path)
			_, err := helper.WaitFor("locked", 10*time.Second)
			require.NoError(t, err)

			cfg := DefaultConfig()
			if mode == "hold-soft" {
				cfg.Backend = BackendSoft
			}
			l := newLocker(t, path, cfg)

			// 超时在 timeout 到 timeout 加一个轮询间隔之内返回
			start := time.Now()
			require.ErrorIs(t, l.Acquire(ctx, WithTimeout(time.Second)), ErrTimeout)
			waited := time.Since(start)
			assert.GreaterOrEqual(t, waited, time.Second)
			assert.Less(t, waited, time.Second+DefaultPollInterval+250*time.Millisecond)

			// 持有者释放后，新的尝试无需等待
			helper.Stop()
			start = time.Now()
			require.NoError(t, l.Acquire(ctx, WithTimeout(time.Second)))
			assert.Less(t, time.Since(start), 250*time.Millisecond)
			require.NoError(t, l.Release(ctx, false))
		})
	}
}

func TestCrossProcess_KernelReleasedOnCrash(t *testing.T) {
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	helper := testkit.StartHelper(t, "hold", path)
	_, err := helper.WaitFor("locked", 10*time.Second)
	require.NoError(t, err)

	l := newLocker(t, path, nil)
	require.ErrorIs(t, l.Acquire(ctx, WithTimeout(0)), ErrTimeout)

	helper.Kill()
	require.NoError(t, l.Acquire(ctx, WithTimeout(5*time.Second)))
	require.NoError(t, l.Release(ctx, false))
}

func TestCrossProcess_SoftRecoversFromCrash(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stale breaking is disabled on windows")
	}
	ctx := context.Background()
	path := testkit.NewLockPath(t)
	helper := testkit.StartHelper(t, "hold-soft", path)
	_, err := helper.WaitFor("locked", 10*time.Second)
	require.NoError(t, err)
	helper.Kill()

	// 标记年龄达到下限后才会被判定为陈旧
	l := newLocker(t, path, softConfig())
	require.NoError(t, l.Acquire(ctx, WithTimeout(10*time.Second)))
	require.NoError(t, l.Release(ctx, false))
	assert.NoFileExists(t, path)
}
