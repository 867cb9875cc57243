package signals

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"signaldesk/logger"
)

// Store 信号模式存储
//
// 写操作由互斥锁串行化，每次写入生成新的只读快照；
// 提取器只读取快照，不会观察到写了一半的模式列表。
type Store struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]compiledPattern]
	onChange func([]Pattern)
}

// NewStore 创建空的模式存储
func NewStore() *Store {
	s := &Store{}
	empty := make([]compiledPattern, 0)
	s.snapshot.Store(&empty)
	return s
}

// OnChange 注册模式集合变化回调（用于持久化），回调在写锁内按修改顺序执行
func (s *Store) OnChange(fn func([]Pattern)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) current() []compiledPattern {
	return *s.snapshot.Load()
}

// publish 替换快照，调用方必须持有 mu
func (s *Store) publish(next []compiledPattern) {
	s.snapshot.Store(&next)
	if s.onChange != nil {
		s.onChange(toPatterns(next))
	}
}

// Add 添加新模式，新模式默认启用
func (s *Store) Add(name, expression string) (Pattern, error) {
	cp, err := compile(Pattern{ID: uuid.NewString(), Name: name, Expression: expression, Active: true})
	if err != nil {
		return Pattern{}, err
	}

	s.mu.Lock()
	cur := s.current()
	next := make([]compiledPattern, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, cp)
	s.publish(next)
	s.mu.Unlock()

	logger.Info("✅ 已添加信号模式: %s (%s)", cp.Name, cp.ID)
	return cp.Pattern, nil
}

// Remove 删除模式
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	cur := s.current()
	idx := indexOf(cur, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := make([]compiledPattern, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	s.publish(next)
	s.mu.Unlock()

	logger.Info("🗑️ 已删除信号模式: %s", id)
	return nil
}

// Toggle 切换模式启用状态并返回切换后的模式
func (s *Store) Toggle(id string) (Pattern, error) {
	s.mu.Lock()
	cur := s.current()
	idx := indexOf(cur, id)
	if idx < 0 {
		s.mu.Unlock()
		return Pattern{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := make([]compiledPattern, len(cur))
	copy(next, cur)
	next[idx].Active = !next[idx].Active
	toggled := next[idx].Pattern
	s.publish(next)
	s.mu.Unlock()

	logger.Info("🔁 信号模式 %s 启用状态: %v", toggled.Name, toggled.Active)
	return toggled, nil
}

// Get 按 ID 获取模式
func (s *Store) Get(id string) (Pattern, error) {
	cur := s.current()
	if idx := indexOf(cur, id); idx >= 0 {
		return cur[idx].Pattern, nil
	}
	return Pattern{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List 按插入顺序返回全部模式
func (s *Store) List() []Pattern {
	return toPatterns(s.current())
}

// Replace 整体替换模式集合；任一模式无效时不做任何修改
func (s *Store) Replace(patterns []Pattern) ([]Pattern, error) {
	next, err := compileAll(patterns)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.publish(next)
	s.mu.Unlock()

	logger.Info("✅ 信号模式已整体更新，共 %d 个", len(next))
	return toPatterns(next), nil
}

// Load 启动时加载模式，不触发变化回调
func (s *Store) Load(patterns []Pattern) error {
	next, err := compileAll(patterns)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot.Store(&next)
	s.mu.Unlock()
	return nil
}

func compileAll(patterns []Pattern) ([]compiledPattern, error) {
	next := make([]compiledPattern, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	for i, p := range patterns {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: 第 %d 个模式 ID 重复: %s", ErrInvalidPattern, i+1, p.ID)
		}
		seen[p.ID] = struct{}{}
		cp, err := compile(p)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个模式: %w", i+1, err)
		}
		next = append(next, cp)
	}
	return next, nil
}

func indexOf(items []compiledPattern, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func toPatterns(items []compiledPattern) []Pattern {
	out := make([]Pattern, len(items))
	for i := range items {
		out[i] = items[i].Pattern
	}
	return out
}
