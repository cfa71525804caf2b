package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/filelock/clog"
	"github.com/ceyewan/filelock/xerrors"
)

// loader 实现 Loader 接口
type loader struct {
	v         *viper.Viper
	cfg       *Config
	logger    clog.Logger
	mu        sync.RWMutex
	loaded    bool
	watches   map[string][]chan Event
	oldValues map[string]any
}

func newLoader(cfg *Config, opts ...Option) *loader {
	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return &loader{
		v:         viper.New(),
		cfg:       cfg,
		logger:    o.logger,
		watches:   make(map[string][]chan Event),
		oldValues: make(map[string]any),
	}
}

// Load 初始化并从所有来源加载配置
func (l *loader) Load(ctx context.Context) error {
	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, path := range l.cfg.Paths {
		l.v.AddConfigPath(path)
	}

	// 环境变量优先级最高，FILELOCK_LOCK_TIMEOUT 对应 lock.timeout
	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// .env 只补充尚未设置的环境变量
	if err := l.loadDotEnv(); err != nil {
		l.logger.Debug("no .env file loaded", clog.Error(err))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return xerrors.Wrapf(err, "failed to read config file %s", l.cfg.Name)
		}
		l.logger.Warn("no configuration file found",
			clog.String("name", l.cfg.Name), clog.Any("paths", l.cfg.Paths))
	}

	if err := l.loadEnvironmentConfig(); err != nil {
		return err
	}

	if err := l.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	l.captureCurrentValues()

	if l.v.ConfigFileUsed() != "" {
		l.v.OnConfigChange(func(e fsnotify.Event) {
			if err := l.loadEnvironmentConfig(); err != nil {
				l.logger.Error("reload environment config failed", clog.Error(err))
			}
			l.notifyWatches(e)
		})
		l.v.WatchConfig()
	}

	l.logger.InfoContext(ctx, "configuration loaded", clog.String("file", l.v.ConfigFileUsed()))
	return nil
}

// loadDotEnv 尝试从工作目录和各搜索路径加载 .env 文件
func (l *loader) loadDotEnv() error {
	var envLoaded bool
	var lastErr error

	candidates := []string{".env"}
	for _, path := range l.cfg.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, p := range candidates {
		if err := godotenv.Load(p); err == nil {
			envLoaded = true
		} else {
			lastErr = err
		}
	}

	if !envLoaded && lastErr != nil {
		return lastErr
	}
	return nil
}

// loadEnvironmentConfig 合并 <name>.<env> 环境特定配置文件
func (l *loader) loadEnvironmentConfig() error {
	env := os.Getenv(l.cfg.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}

	envConfigName := fmt.Sprintf("%s.%s", l.cfg.Name, env)
	l.v.SetConfigName(envConfigName)
	defer l.v.SetConfigName(l.cfg.Name)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return xerrors.Wrapf(err, "failed to merge environment config %s", envConfigName)
		}
		l.logger.Info("no environment configuration file found", clog.String("env", env))
		return nil
	}
	l.logger.Info("loaded environment configuration", clog.String("env", env))
	return nil
}

// captureCurrentValues 保存当前配置值用于变更检测
func (l *loader) captureCurrentValues() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.watches {
		l.oldValues[key] = l.v.Get(key)
	}
}

func (l *loader) Get(key string) any {
	return l.v.Get(key)
}

func (l *loader) Unmarshal(v any) error {
	if !l.isLoaded() {
		return ErrNotLoaded
	}
	return l.v.Unmarshal(v)
}

func (l *loader) UnmarshalKey(key string, v any) error {
	if !l.isLoaded() {
		return ErrNotLoaded
	}
	return l.v.UnmarshalKey(key, v)
}

// Watch 订阅特定配置 key 的变更，ctx 取消后通道被关闭
func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return nil, ErrNotLoaded
	}

	ch := make(chan Event, 10)
	l.watches[key] = append(l.watches[key], ch)
	l.oldValues[key] = l.v.Get(key)

	go func() {
		<-ctx.Done()
		l.removeWatch(key, ch)
	}()

	return ch, nil
}

func (l *loader) removeWatch(key string, ch chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	chans := l.watches[key]
	for i, c := range chans {
		if c == ch {
			l.watches[key] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(l.watches[key]) == 0 {
		delete(l.watches, key)
		delete(l.oldValues, key)
	}
	close(ch)
}

// Validate 配置为空视为验证失败
func (l *loader) Validate() error {
	if len(l.v.AllSettings()) == 0 {
		return xerrors.Wrap(ErrValidationFailed, "configuration is empty")
	}
	return nil
}

func (l *loader) isLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

// notifyWatches 对比新旧值，只通知发生变化的 key
func (l *loader) notifyWatches(_ fsnotify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, channels := range l.watches {
		newValue := l.v.Get(key)
		oldValue := l.oldValues[key]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}

		event := Event{
			Key:       key,
			Value:     newValue,
			OldValue:  oldValue,
			Source:    "file",
			Timestamp: time.Now(),
		}
		l.oldValues[key] = newValue

		for _, ch := range channels {
			select {
			case ch <- event:
			default:
				l.logger.Warn("watch channel is full, event dropped", clog.String("key", key))
			}
		}
	}
}
