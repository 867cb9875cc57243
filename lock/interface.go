package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotHeld 锁未持有或已过期
	ErrNotHeld = errors.New("锁未持有或已过期")
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// Lock 获取锁，阻塞直到成功或 ctx 结束
	Lock(ctx context.Context, key string, ttl time.Duration) error

	// TryLock 尝试获取锁，立即返回；false 表示锁已被占用
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// LocalLock 进程内锁（单实例模式），同一进程内的并发请求仍然互斥
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]time.Time // key -> 过期时间
	now   func() time.Time
	retry time.Duration
}

// NewLocalLock 创建进程内锁
func NewLocalLock() *LocalLock {
	return &LocalLock{
		held:  make(map[string]time.Time),
		now:   time.Now,
		retry: 20 * time.Millisecond,
	}
}

func (l *LocalLock) acquire(key string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false
	}
	l.held[key] = now.Add(ttl)
	return true
}

func (l *LocalLock) Lock(ctx context.Context, key string, ttl time.Duration) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		if l.acquire(key, ttl) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.acquire(key, ttl), nil
}

func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; !ok {
		return ErrNotHeld
	}
	delete(l.held, key)
	return nil
}

func (l *LocalLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.held[key]
	if !ok || !l.now().Before(exp) {
		return ErrNotHeld
	}
	l.held[key] = l.now().Add(ttl)
	return nil
}

func (l *LocalLock) Close() error {
	return nil
}
