package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNew_Defaults(t *testing.T) {
	cfg := &Config{}
	_, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, "config", cfg.Name)
	assert.Equal(t, []string{".", "./config"}, cfg.Paths)
	assert.Equal(t, "yaml", cfg.FileType)
	assert.Equal(t, "FILELOCK", cfg.EnvPrefix)

	_, err = New(&Config{Name: "../etc/passwd"})
	assert.True(t, IsValidationError(err))
}

func TestLoader_Priority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "filelock.yaml"), `
lock:
  timeout: 5s
  poll_interval: 50ms
  backend: auto
  singleton: false
log:
  level: info
`)
	writeFile(t, filepath.Join(dir, "filelock.ci.yaml"), `
lock:
  singleton: true
`)
	writeFile(t, filepath.Join(dir, ".env"), "CFGTEST_LOG_LEVEL=debug\n")

	t.Setenv("CFGTEST_ENV", "ci")
	t.Setenv("CFGTEST_LOCK_BACKEND", "soft")
	// godotenv 写入的变量需要在测试结束后清理
	t.Cleanup(func() { os.Unsetenv("CFGTEST_LOG_LEVEL") })

	loader, err := New(&Config{Name: "filelock", Paths: []string{dir}, EnvPrefix: "cfgtest"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, "soft", loader.Get("lock.backend"), "环境变量优先")
	assert.Equal(t, "debug", loader.Get("log.level"), ".env 覆盖文件")
	assert.Equal(t, true, loader.Get("lock.singleton"), "环境特定配置覆盖基础配置")
	assert.Equal(t, "50ms", loader.Get("lock.poll_interval"))

	var out struct {
		Lock struct {
			Timeout      time.Duration `mapstructure:"timeout"`
			PollInterval time.Duration `mapstructure:"poll_interval"`
			Backend      string        `mapstructure:"backend"`
			Singleton    bool          `mapstructure:"singleton"`
		} `mapstructure:"lock"`
	}
	require.NoError(t, loader.Unmarshal(&out))
	assert.Equal(t, 5*time.Second, out.Lock.Timeout)
	assert.Equal(t, 50*time.Millisecond, out.Lock.PollInterval)
	assert.Equal(t, "soft", out.Lock.Backend)
	assert.True(t, out.Lock.Singleton)
}

func TestLoader_NotLoaded(t *testing.T) {
	loader, err := New(&Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)

	var out map[string]any
	assert.ErrorIs(t, loader.Unmarshal(&out), ErrNotLoaded)
	_, err = loader.Watch(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoader_EmptyConfigFails(t *testing.T) {
	loader, err := New(&Config{Name: "missing", Paths: []string{t.TempDir()}, EnvPrefix: "CFGEMPTY"})
	require.NoError(t, err)

	err = loader.Load(context.Background())
	assert.True(t, IsValidationError(err))
}

func TestLoader_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.yaml"), "lock: [unclosed\n")

	loader, err := New(&Config{Name: "bad", Paths: []string{dir}, EnvPrefix: "CFGBAD"})
	require.NoError(t, err)
	assert.Error(t, loader.Load(context.Background()))
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "watch.yaml")
	writeFile(t, file, "lock:\n  timeout: 1s\n")

	loader, err := New(&Config{Name: "watch", Paths: []string{dir}, EnvPrefix: "CFGWATCH"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := loader.Watch(ctx, "lock.timeout")
	require.NoError(t, err)

	// 原子替换，避免监听方读到写了一半的文件
	tmp := filepath.Join(dir, "watch.tmp")
	writeFile(t, tmp, "lock:\n  timeout: 3s\n")
	require.NoError(t, os.Rename(tmp, file))

	select {
	case ev := <-ch:
		assert.Equal(t, "lock.timeout", ev.Key)
		assert.Equal(t, "3s", ev.Value)
		assert.Equal(t, "1s", ev.OldValue)
		assert.Equal(t, "file", ev.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for config change event")
	}
}

func TestLoader_WatchCancelClosesChannel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cancel.yaml"), "a: 1\n")

	loader, err := New(&Config{Name: "cancel", Paths: []string{dir}, EnvPrefix: "CFGCANCEL"})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := loader.Watch(ctx, "a")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel was not closed after cancel")
	}
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(&Config{Name: "nothing", Paths: []string{t.TempDir()}, EnvPrefix: "CFGPANIC"})
	})
}
