package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrChannelRequired 频道标识为空
	ErrChannelRequired = errors.New("频道标识不能为空")
	// ErrChannelNotFound 频道未被监听
	ErrChannelNotFound = errors.New("频道不存在")
)

// ChannelSet 被监听的消息来源频道
//
// 变更先调用 persist 写入配置，写入成功后才在内存中生效。
type ChannelSet struct {
	mu       sync.RWMutex
	channels []string
	persist  func([]string) error
}

// NewChannelSet 创建频道集合，persist 可以为空
func NewChannelSet(channels []string, persist func([]string) error) *ChannelSet {
	return &ChannelSet{channels: normalize(channels), persist: persist}
}

func normalize(channels []string) []string {
	seen := make(map[string]struct{}, len(channels))
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// List 返回频道列表副本
func (cs *ChannelSet) List() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return append([]string(nil), cs.channels...)
}

// Contains 判断频道是否被监听
func (cs *ChannelSet) Contains(channel string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return indexOf(cs.channels, strings.TrimSpace(channel)) >= 0
}

// Len 频道数量
func (cs *ChannelSet) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.channels)
}

// Add 添加频道，已存在时不做任何事
func (cs *ChannelSet) Add(channel string) ([]string, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if indexOf(cs.channels, channel) >= 0 {
		return append([]string(nil), cs.channels...), nil
	}
	next := append(append([]string(nil), cs.channels...), channel)
	if err := cs.save(next); err != nil {
		return nil, err
	}
	cs.channels = next
	return append([]string(nil), next...), nil
}

// Remove 移除频道
func (cs *ChannelSet) Remove(channel string) ([]string, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, ErrChannelRequired
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	idx := indexOf(cs.channels, channel)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	next := append(append([]string(nil), cs.channels[:idx]...), cs.channels[idx+1:]...)
	if err := cs.save(next); err != nil {
		return nil, err
	}
	cs.channels = next
	return append([]string(nil), next...), nil
}

// Reset 用配置文件中的内容覆盖内存中的频道，不回写配置
func (cs *ChannelSet) Reset(channels []string) {
	cs.mu.Lock()
	cs.channels = normalize(channels)
	cs.mu.Unlock()
}

func (cs *ChannelSet) save(next []string) error {
	if cs.persist == nil {
		return nil
	}
	if err := cs.persist(append([]string(nil), next...)); err != nil {
		return fmt.Errorf("保存频道配置失败: %w", err)
	}
	return nil
}

func indexOf(items []string, v string) int {
	for i, it := range items {
		if it == v {
			return i
		}
	}
	return -1
}
