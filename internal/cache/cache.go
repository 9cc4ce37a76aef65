// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package cache 提供网关的请求级缓存：带 TTL 的键值存储、按模式失效以及统计信息。
//
// 存储的值是不透明的已序列化字节，缓存本身不解析也不拷贝它们；
// 调用方不应修改 Get 返回的切片并期望缓存看到这个修改。
package cache

import (
	"context"
	"time"
)

// DefaultTTL 是调用方未提供有效 TTL 时使用的过期时间
const DefaultTTL = 5 * time.Minute

// Store 定义了缓存存储的通用接口。
// 任何缓存实现（内存或 Redis）都必须实现此接口，且必须是并发安全的。
// 所有操作在正常情况下都不会失败：后端错误会被记录并按未命中处理。
type Store interface {
	// Get 返回未过期的值和 true；不存在或已过期时返回 nil 和 false。
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set 写入一个值，ttl <= 0 时使用存储的默认 TTL。已存在的键会被无条件覆盖。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete 删除一个键，键不存在时什么也不做。
	Delete(ctx context.Context, key string)

	// ClearPattern 删除所有匹配 pattern 的键，规则见 ParsePattern。
	ClearPattern(ctx context.Context, pattern string)

	// Clear 删除全部条目。
	Clear(ctx context.Context)

	// Stats 返回当前统计信息。
	Stats(ctx context.Context) Stats

	// Remote 报告存储是否在多个进程间共享。
	Remote() bool

	// Stop 停止后台清理或释放连接，可重复调用。
	Stop()
}

// Stats 是缓存的统计快照
type Stats struct {
	// Size 为逻辑上仍然有效的条目数量（内存实现会先清理过期条目再计数）
	Size int `json:"size"`

	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Sets    uint64 `json:"sets"`
	Expired uint64 `json:"expired"`

	Backend string `json:"backend"`
}

// HitRatio 返回命中率 (0.0 - 1.0)
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// effectiveTTL 非正数的 TTL 视为调用方的疏忽，回退到默认值而不是立即过期
func effectiveTTL(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTTL
}
