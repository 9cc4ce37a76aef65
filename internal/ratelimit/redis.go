// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// fixedWindowScript 原子地计数并在窗口第一次计数时设置过期时间。
// 返回 {当前计数, 剩余毫秒}。
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiterConfig 定义了 RedisLimiter 的配置
type RedisLimiterConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLimiter 在多个网关实例间共享计数。
// Redis 出错时降级到本地 MemoryLimiter，请求不会因为限流后端故障而失败。
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	fallback *MemoryLimiter
	clock    clockwork.Clock
	owned    bool
	stopOnce sync.Once
}

// NewRedisLimiter 创建客户端、验证连接并返回 RedisLimiter。
func NewRedisLimiter(cfg RedisLimiterConfig, fallback *MemoryLimiter, opts ...Option) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}

	slog.Info("RedisLimiter 初始化成功", "addr", cfg.Addr, "db", cfg.DB, "prefix", cfg.KeyPrefix)

	l, err := NewRedisLimiterFromClient(client, cfg.KeyPrefix, fallback, opts...)
	if err != nil {
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewRedisLimiterFromClient 复用一个已有的客户端，Stop 时不会关闭它。
// fallback 为 nil 时创建一个不带后台回收的本地限流器。
func NewRedisLimiterFromClient(client redis.UniversalClient, prefix string, fallback *MemoryLimiter, opts ...Option) (*RedisLimiter, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := buildOptions(opts)
	if fallback == nil {
		fallback = NewMemoryLimiter(DefaultShards, 0, opts...)
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		fallback: fallback,
		clock:    o.clock,
	}, nil
}

// Check 在 Redis 中计数一次
func (l *RedisLimiter) Check(ctx context.Context, identifier string, cfg Config) Result {
	identifier = normalizeIdentifier(identifier)
	cfg = cfg.normalize()

	vals, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + identifier}, cfg.Window.Milliseconds()).Int64Slice()
	if err == nil && len(vals) != 2 {
		err = fmt.Errorf("unexpected script reply length %d", len(vals))
	}
	if err != nil {
		slog.Warn("RedisLimiter: 计数失败，降级到本地限流", "identifier", identifier, "error", err)
		return l.fallback.Check(ctx, identifier, cfg)
	}

	now := l.clock.Now()
	resetAt := now.Add(time.Duration(vals[1]) * time.Millisecond)
	return evaluate(int(vals[0]), cfg, resetAt, now)
}

// Stop 停止本地降级限流器并关闭自己创建的客户端
func (l *RedisLimiter) Stop() {
	l.stopOnce.Do(func() {
		l.fallback.Stop()
		if !l.owned {
			return
		}
		if err := l.client.Close(); err != nil {
			slog.Error("RedisLimiter: 关闭 Redis 连接失败", "error", err)
		}
	})
}

var _ Limiter = (*RedisLimiter)(nil)
