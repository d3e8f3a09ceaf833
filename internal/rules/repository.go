package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoSource 仓库没有配置规则来源
var ErrNoSource = errors.New("规则仓库未配置来源")

// Snapshot 一次加载得到的不可变规则集合
type Snapshot struct {
	Version  uint64    `json:"version"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`

	all    []*Rule
	active []*Rule
	byID   map[int64]*Rule
}

func newSnapshot(version uint64, source string, batch []*Rule) *Snapshot {
	all := append([]*Rule(nil), batch...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	s := &Snapshot{
		Version:  version,
		Source:   source,
		LoadedAt: time.Now(),
		all:      all,
		byID:     make(map[int64]*Rule, len(all)),
	}
	for _, r := range all {
		s.byID[r.ID] = r
		if r.Active() {
			s.active = append(s.active, r)
		}
	}
	return s
}

// Rules 全部规则，按ID升序
func (s *Snapshot) Rules() []*Rule {
	return append([]*Rule(nil), s.all...)
}

// ActiveRules 启用的规则，按ID升序
func (s *Snapshot) ActiveRules() []*Rule {
	return append([]*Rule(nil), s.active...)
}

// Get 按ID查找
func (s *Snapshot) Get(id int64) (*Rule, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// Len 规则总数
func (s *Snapshot) Len() int {
	return len(s.all)
}

// ActiveLen 启用规则数
func (s *Snapshot) ActiveLen() int {
	return len(s.active)
}

// ReloadListener 快照切换后的回调
type ReloadListener func(snap *Snapshot, err error)

// Repository 规则仓库
// 读取方通过原子指针拿到完整快照；重载在后台构建新快照，校验通过后一次性替换
type Repository struct {
	source    Source
	validator *Validator
	logger    *zap.Logger

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	group   singleflight.Group

	mu        sync.RWMutex
	listeners []ReloadListener
}

// Option 仓库选项
type Option func(*Repository)

// WithValidator 自定义校验器
func WithValidator(v *Validator) Option {
	return func(r *Repository) { r.validator = v }
}

// NewRepository 创建规则仓库，初始为空快照
func NewRepository(source Source, logger *zap.Logger, opts ...Option) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Repository{
		source:    source,
		validator: NewValidator(nil),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(newSnapshot(0, "", nil))
	return r
}

// OnReload 注册重载回调，成功和失败都会调用
func (r *Repository) OnReload(l ReloadListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Snapshot 当前快照
func (r *Repository) Snapshot() *Snapshot {
	return r.current.Load()
}

// LoadActiveRules 当前快照中启用的规则，按ID升序
func (r *Repository) LoadActiveRules() []*Rule {
	return r.current.Load().ActiveRules()
}

// Get 按ID查找当前快照中的规则
func (r *Repository) Get(id int64) (*Rule, bool) {
	return r.current.Load().Get(id)
}

// Reload 从来源重新加载；并发调用合并为一次加载
// 任一规则校验失败时整批拒绝，旧快照继续生效
func (r *Repository) Reload(ctx context.Context) (*Snapshot, error) {
	if r.source == nil {
		return nil, ErrNoSource
	}
	v, err, shared := r.group.Do("reload", func() (any, error) {
		batch, err := r.source.LoadRules(ctx)
		if err != nil {
			err = fmt.Errorf("从%s加载规则失败: %w", r.source.Name(), err)
			r.logger.Error("Rule reload failed", zap.Error(err))
			r.notify(nil, err)
			return nil, err
		}
		snap, err := r.swap(r.source.Name(), batch)
		if err != nil {
			r.notify(nil, err)
			return nil, err
		}
		return snap, nil
	})
	if shared {
		r.logger.Debug("Rule reload shared with concurrent caller")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Replace 直接用给定规则替换快照，规则会被编译
func (r *Repository) Replace(batch []*Rule) (*Snapshot, error) {
	snap, err := r.swap("replace", batch)
	if err != nil {
		r.notify(nil, err)
	}
	return snap, err
}

func (r *Repository) swap(source string, batch []*Rule) (*Snapshot, error) {
	if err := r.validator.ValidateAll(batch); err != nil {
		r.logger.Warn("Rule batch rejected, keeping previous snapshot",
			zap.String("source", source),
			zap.Int("rules", len(batch)),
			zap.Error(err))
		return nil, err
	}

	snap := newSnapshot(r.version.Add(1), source, batch)
	prev := r.current.Swap(snap)

	r.logger.Info("Rule snapshot swapped",
		zap.String("source", source),
		zap.Uint64("version", snap.Version),
		zap.Uint64("previous_version", prev.Version),
		zap.Int("rules", snap.Len()),
		zap.Int("active", snap.ActiveLen()))

	r.notify(snap, nil)
	return snap, nil
}

func (r *Repository) notify(snap *Snapshot, err error) {
	r.mu.RLock()
	listeners := append([]ReloadListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, l := range listeners {
		l(snap, err)
	}
}
