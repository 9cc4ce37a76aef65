// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
)

// DefaultShards 内存限流器默认分片数
const DefaultShards = 16

// window 一个标识符当前窗口的计数
type window struct {
	count   int
	resetAt time.Time
}

// shard 持有一部分标识符，每个分片有自己的锁
type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryLimiter 是进程内的固定窗口限流器。
// 标识符按 xxhash 分散到多个分片，单次检查只锁住一个分片。
type MemoryLimiter struct {
	shards []*shard
	clock  clockwork.Clock

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Option 配置限流器
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock 替换时间源，测试中用 clockwork.FakeClock 模拟窗口重置
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewMemoryLimiter 创建内存限流器。
// sweepInterval 大于 0 时启动后台 goroutine 定期回收已过期的窗口。
func NewMemoryLimiter(shards int, sweepInterval time.Duration, opts ...Option) *MemoryLimiter {
	if shards <= 0 {
		shards = DefaultShards
	}
	o := buildOptions(opts)

	l := &MemoryLimiter{
		shards: make([]*shard, shards),
		clock:  o.clock,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}

	if sweepInterval > 0 {
		ticker := l.clock.NewTicker(sweepInterval)
		go l.sweepLoop(ticker)
	} else {
		close(l.done)
	}

	return l
}

// Check 为 identifier 计数一次。
// 没有窗口或当前时间已越过 resetAt 时开启新窗口；拒绝的请求同样计数。
func (l *MemoryLimiter) Check(_ context.Context, identifier string, cfg Config) Result {
	identifier = normalizeIdentifier(identifier)
	cfg = cfg.normalize()

	s := l.shardFor(identifier)
	now := l.clock.Now()

	s.mu.Lock()
	w, ok := s.windows[identifier]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(cfg.Window)}
		s.windows[identifier] = w
	}
	w.count++
	count, resetAt := w.count, w.resetAt
	s.mu.Unlock()

	return evaluate(count, cfg, resetAt, now)
}

// Len 返回当前持有的窗口数量（包括尚未回收的过期窗口）
func (l *MemoryLimiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Sweep 删除所有 resetAt 已过的窗口，返回删除数量。
// 各分片依次加锁，任何时刻最多持有一个分片的锁。
func (l *MemoryLimiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, w := range s.windows {
			if now.After(w.resetAt) {
				delete(s.windows, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stop 停止后台回收 goroutine
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
	<-l.done
}

func (l *MemoryLimiter) shardFor(identifier string) *shard {
	return l.shards[xxhash.Sum64String(identifier)%uint64(len(l.shards))]
}

// sweepLoop 定期回收过期窗口
func (l *MemoryLimiter) sweepLoop(ticker clockwork.Ticker) {
	defer close(l.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if removed := l.Sweep(); removed > 0 {
				slog.Debug("限流窗口回收完成", "删除数量", removed)
			}
		case <-l.stop:
			slog.Debug("已停止限流窗口回收任务。")
			return
		}
	}
}

var _ Limiter = (*MemoryLimiter)(nil)
