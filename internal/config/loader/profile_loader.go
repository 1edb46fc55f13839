// Package loader 加载 configs/profiles.yaml 中的策略 profile，并在文件变更时热更新。
package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ictbt/internal/backtest"
	"ictbt/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]backtest.EngineConfig
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 负责从 YAML 文件中加载 profile，并监听热更新。
// 每个 profile 只写需要覆盖的字段，其余继承 base。
type ProfileLoader struct {
	path string
	v    *viper.Viper
	base backtest.EngineConfig

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string, base backtest.EngineConfig) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	l := &ProfileLoader{path: path, v: v, base: base}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("[profile] 重新加载失败，保留旧配置 (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Profile 返回指定 profile 的完整配置。
func (l *ProfileLoader) Profile(name string) (backtest.EngineConfig, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.snapshot.Profiles[strings.ToLower(strings.TrimSpace(name))]
	if ok {
		cfg.ConfluenceKinds = append([]string(nil), cfg.ConfluenceKinds...)
	}
	return cfg, ok
}

// Names 返回排序后的 profile 名称。
func (l *ProfileLoader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.snapshot.Profiles))
	for k := range l.snapshot.Profiles {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeCall(fn, snap)
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[profile] listener panic: %v", r)
		}
	}()
	fn(snap)
}

// reload 全部 profile 解析成功才替换快照。
func (l *ProfileLoader) reload() error {
	raw := l.v.GetStringMap("profiles")
	profiles := make(map[string]backtest.EngineConfig, len(raw))
	for name, entry := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		cfg, err := decodeProfile(l.base, entry)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		profiles[name] = cfg
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	l.mu.Unlock()
	logger.Infof("[profile] 从 %s 加载 %d 个 profile", filepath.Base(l.path), len(profiles))
	return nil
}

// decodeProfile 把覆盖项解码到 base 的副本上，未知字段视为错误。
func decodeProfile(base backtest.EngineConfig, entry any) (backtest.EngineConfig, error) {
	cfg := base
	cfg.ConfluenceKinds = append([]string(nil), base.ConfluenceKinds...)
	if entry != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "toml",
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			ZeroFields:       true,
			Result:           &cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		})
		if err != nil {
			return cfg, err
		}
		if err := dec.Decode(entry); err != nil {
			return cfg, err
		}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]backtest.EngineConfig, len(src.Profiles)),
	}
	for name, cfg := range src.Profiles {
		cfg.ConfluenceKinds = append([]string(nil), cfg.ConfluenceKinds...)
		dst.Profiles[name] = cfg
	}
	return dst
}
