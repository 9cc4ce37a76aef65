// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import (
	"fmt"
	"log/slog"
	"time"

	"catalogedge/configs"
)

// NewStore 根据配置创建并返回一个 Store 实例。
func NewStore(cfg configs.CacheConfig) (Store, error) {
	defaultTTL := time.Duration(cfg.DefaultTTLSeconds) * time.Second

	switch cfg.Type {
	case configs.BackendInMemory, "":
		slog.Info("正在初始化 In-Memory 缓存", "default_ttl", defaultTTL.String())
		return NewMemoryStore(defaultTTL, time.Duration(cfg.CleanupIntervalSeconds)*time.Second), nil
	case configs.BackendRedis:
		slog.Info("正在初始化 Redis 缓存", "addr", cfg.Redis.Addr)
		store, err := NewRedisStore(RedisStoreConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			DefaultTTL: defaultTTL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStoreType, cfg.Type)
	}
}
