// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize 每次 SCAN 请求的 COUNT 提示值
const scanBatchSize = 500

// RedisStoreConfig 定义了 RedisStore 的配置。
type RedisStoreConfig struct {
	Addr       string
	Password   string
	DB         int           // 数据库索引
	KeyPrefix  string        // 所有键的命名空间前缀
	DefaultTTL time.Duration // Set 未指定 TTL 时使用
}

// RedisStore 是一个基于 Redis 的 Store 实现，多个网关实例共享同一份缓存。
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	owned      bool // 由 NewRedisStore 创建的客户端在 Stop 时关闭
	stopOnce   sync.Once

	hits   atomic.Uint64
	misses atomic.Uint64
	sets   atomic.Uint64
}

// NewRedisStore 创建客户端、验证连接并返回一个新的 RedisStore 实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 尝试 Ping Redis 服务器以验证连接。
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}

	slog.Info("RedisStore 初始化成功", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.KeyPrefix)

	s, err := NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.DefaultTTL)
	if err != nil {
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient 复用一个已有的客户端，Stop 时不会关闭它。
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		defaultTTL: effectiveTTL(defaultTTL, DefaultTTL),
	}, nil
}

// Set 向 Redis 缓存中写入一个带 TTL 的值。
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ttl = effectiveTTL(ttl, s.defaultTTL)
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		slog.Error("RedisStore: 写入失败", "key", key, "error", err)
		return
	}
	s.sets.Add(1)
	slog.Debug("RedisStore: 已写入", "key", key, "ttl", ttl.String())
}

// Get 从 Redis 缓存中检索一个值。
// Redis 不可用时按未命中处理。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses.Add(1)
		slog.Debug("RedisStore: 缓存未命中或已过期", "key", key)
		return nil, false
	}
	if err != nil {
		s.misses.Add(1)
		slog.Error("RedisStore: 读取失败", "key", key, "error", err)
		return nil, false
	}
	s.hits.Add(1)
	return val, true
}

// Delete 删除一个键
func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		slog.Error("RedisStore: 删除失败", "key", key, "error", err)
	}
}

// ClearPattern 删除所有匹配模式的键。前缀模式通过 SCAN + UNLINK 分批完成。
func (s *RedisStore) ClearPattern(ctx context.Context, pattern string) {
	p := ParsePattern(pattern)
	if !p.IsPrefix() {
		s.Delete(ctx, p.Text())
		return
	}

	deleted, err := s.deleteMatching(ctx, escapeGlob(s.prefix+p.Text())+"*")
	if err != nil {
		slog.Error("RedisStore: 按模式清理失败", "pattern", pattern, "error", err)
		return
	}
	slog.Debug("RedisStore: 按模式清理缓存", "pattern", pattern, "删除数量", deleted)
}

// Clear 只删除本命名空间下的键，不会执行 FLUSHDB
func (s *RedisStore) Clear(ctx context.Context) {
	if _, err := s.deleteMatching(ctx, escapeGlob(s.prefix)+"*"); err != nil {
		slog.Error("RedisStore: 清空失败", "error", err)
	}
}

// Stats 返回统计信息，Size 为命名空间下的键数量（过期的键由 Redis 自行删除）
func (s *RedisStore) Stats(ctx context.Context) Stats {
	var mu sync.Mutex
	size := 0
	err := s.forEachNode(ctx, func(ctx context.Context, node redis.Cmdable) error {
		return scanKeys(ctx, node, escapeGlob(s.prefix)+"*", func(keys []string) error {
			mu.Lock()
			size += len(keys)
			mu.Unlock()
			return nil
		})
	})
	if err != nil {
		slog.Error("RedisStore: 统计失败", "error", err)
	}

	return Stats{
		Size:    size,
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Sets:    s.sets.Load(),
		Backend: "redis",
	}
}

// Remote Redis 缓存在所有实例间共享
func (s *RedisStore) Remote() bool {
	return true
}

// Stop 关闭自己创建的 Redis 客户端连接。
func (s *RedisStore) Stop() {
	s.stopOnce.Do(func() {
		if !s.owned {
			return
		}
		if err := s.client.Close(); err != nil {
			slog.Error("RedisStore: 关闭 Redis 连接失败", "error", err)
		} else {
			slog.Info("RedisStore: Redis 连接已关闭")
		}
	})
}

// deleteMatching 删除所有匹配 glob 的键，返回删除数量
func (s *RedisStore) deleteMatching(ctx context.Context, match string) (int, error) {
	var mu sync.Mutex
	deleted := 0
	err := s.forEachNode(ctx, func(ctx context.Context, node redis.Cmdable) error {
		return scanKeys(ctx, node, match, func(keys []string) error {
			if err := node.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
			mu.Lock()
			deleted += len(keys)
			mu.Unlock()
			return nil
		})
	})
	return deleted, err
}

// forEachNode 集群模式下需要在每个主节点上分别 SCAN
func (s *RedisStore) forEachNode(ctx context.Context, fn func(context.Context, redis.Cmdable) error) error {
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return fn(ctx, node)
		})
	}
	return fn(ctx, s.client)
}

// scanKeys 以批次方式遍历匹配的键
func scanKeys(ctx context.Context, c redis.Cmdable, match string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// escapeGlob 转义 Redis glob 元字符，保证前缀按字面量匹配
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Store = (*RedisStore)(nil)
