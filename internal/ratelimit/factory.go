// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import (
	"fmt"
	"log/slog"
	"time"

	"catalogedge/configs"
)

// NewLimiter 根据配置创建并返回一个 Limiter 实例。
// Redis 后端会同时创建一个本地限流器作为降级路径。
func NewLimiter(cfg configs.RateLimitConfig, opts ...Option) (Limiter, error) {
	sweep := time.Duration(cfg.SweepIntervalSeconds) * time.Second

	switch cfg.Type {
	case configs.BackendInMemory, "":
		slog.Info("正在初始化 In-Memory 限流器", "shards", cfg.Shards, "sweep_interval", sweep.String())
		return NewMemoryLimiter(cfg.Shards, sweep, opts...), nil
	case configs.BackendRedis:
		slog.Info("正在初始化 Redis 限流器", "addr", cfg.Redis.Addr)
		fallback := NewMemoryLimiter(cfg.Shards, sweep, opts...)
		limiter, err := NewRedisLimiter(RedisLimiterConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, fallback, opts...)
		if err != nil {
			fallback.Stop()
			return nil, err
		}
		return limiter, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLimiterType, cfg.Type)
	}
}
