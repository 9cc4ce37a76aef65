// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// cacheEntry 是缓存中的条目定义
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// expired 当前时间越过 expiresAt 之后条目即视为不存在
func (e cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStore 是一个支持 TTL 的线程安全进程内缓存
type MemoryStore struct {
	mu         sync.RWMutex
	items      map[string]cacheEntry
	defaultTTL time.Duration
	clock      clockwork.Clock

	stop     chan struct{} // 用于停止后台清理 goroutine
	done     chan struct{} // 清理 goroutine 退出后关闭
	stopOnce sync.Once

	hits    atomic.Uint64
	misses  atomic.Uint64
	sets    atomic.Uint64
	expired atomic.Uint64
}

// MemoryOption 配置 MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock 替换时间源，测试中用 clockwork.FakeClock 模拟过期
func WithClock(clock clockwork.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryStore 创建一个新的内存缓存。
// cleanupInterval 大于 0 时启动一个后台清理 goroutine。
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		items:      make(map[string]cacheEntry),
		defaultTTL: effectiveTTL(defaultTTL, DefaultTTL),
		clock:      clockwork.NewRealClock(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 只有在 cleanupInterval 大于 0 时才启动清理 goroutine
	if cleanupInterval > 0 {
		ticker := s.clock.NewTicker(cleanupInterval)
		go s.cleanupLoop(ticker)
	} else {
		close(s.done)
	}

	return s
}

// Set 向缓存中添加一个带特定 TTL 的值
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	ttl = effectiveTTL(ttl, s.defaultTTL)

	s.mu.Lock()
	s.items[key] = cacheEntry{
		value:     value,
		expiresAt: s.clock.Now().Add(ttl),
	}
	s.mu.Unlock()

	s.sets.Add(1)
	slog.Debug("缓存已写入", "key", key, "ttl", ttl.String())
}

// Get 从缓存中检索一个值。如果找到且未过期，则返回值和 true。
// 如果未找到或已过期，则返回 nil 和 false。
// 过期的条目在被访问时会被删除。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	entry, found := s.items[key]
	s.mu.RUnlock()

	if !found {
		s.misses.Add(1)
		slog.Debug("缓存未命中", "key", key)
		return nil, false
	}

	if entry.expired(s.clock.Now()) {
		// 如果条目已过期，我们获取写锁并再次检查，然后删除它
		s.mu.Lock()
		// 再次检查，因为在获取写锁的过程中，条目可能已被更新或已被其他 goroutine 删除
		entry, found = s.items[key]
		if found && entry.expired(s.clock.Now()) {
			delete(s.items, key)
			s.expired.Add(1)
			slog.Debug("访问到过期条目并已删除", "key", key)
			found = false // 标记为未找到
		}
		s.mu.Unlock()
		if !found {
			s.misses.Add(1)
			return nil, false
		}
	}

	s.hits.Add(1)
	slog.Debug("缓存命中", "key", key)
	return entry.value, true
}

// Delete 删除一个键
func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// ClearPattern 删除所有匹配模式的键
func (s *MemoryStore) ClearPattern(_ context.Context, pattern string) {
	p := ParsePattern(pattern)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !p.IsPrefix() {
		delete(s.items, p.Text())
		return
	}

	deletedCount := 0
	for key := range s.items {
		if p.Match(key) {
			delete(s.items, key)
			deletedCount++
		}
	}
	slog.Debug("按模式清理缓存", "pattern", pattern, "删除数量", deletedCount)
}

// Clear 删除所有条目
func (s *MemoryStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.items = make(map[string]cacheEntry)
	s.mu.Unlock()
}

// Stats 先清理过期条目再计数，Size 总是反映逻辑上有效的条目
func (s *MemoryStore) Stats(_ context.Context) Stats {
	s.deleteExpired()

	s.mu.RLock()
	size := len(s.items)
	s.mu.RUnlock()

	return Stats{
		Size:    size,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Expired: s.expired.Load(),
		Backend: "in-memory",
	}
}

// Remote 内存缓存只在当前进程内有效
func (s *MemoryStore) Remote() bool {
	return false
}

// Stop 停止后台清理 goroutine，用于优雅关闭
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		slog.Debug("正在停止缓存的后台清理任务...")
		close(s.stop)
	})
	<-s.done
}

// cleanupLoop 定期从缓存中删除过期的条目
func (s *MemoryStore) cleanupLoop(ticker clockwork.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.deleteExpired()
		case <-s.stop:
			slog.Debug("已停止缓存的后台清理任务。")
			return
		}
	}
}

// deleteExpired 遍历所有条目并删除任何已过期的条目
func (s *MemoryStore) deleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	deletedCount := 0
	for key, entry := range s.items {
		if entry.expired(now) {
			delete(s.items, key)
			deletedCount++
		}
	}
	if deletedCount > 0 {
		s.expired.Add(uint64(deletedCount))
		slog.Debug("缓存后台清理完成", "删除数量", deletedCount)
	}
	return deletedCount
}

var _ Store = (*MemoryStore)(nil)
