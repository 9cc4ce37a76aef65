// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// SetOptions 是 Facade.Set 的可选参数
type SetOptions struct {
	// TTL 为 0 或负数时使用存储的默认 TTL
	TTL time.Duration
}

// Facade 为调用方提供统一的缓存入口，屏蔽底层是进程内存还是 Redis。
// 进程启动时创建一次，通过构造参数注入到各个处理器中。
type Facade struct {
	store Store
}

// NewFacade 包装一个 Store
func NewFacade(store Store) *Facade {
	return &Facade{store: store}
}

// Get 读取一个值，未命中返回 false
func (f *Facade) Get(ctx context.Context, key string) ([]byte, bool) {
	return f.store.Get(ctx, key)
}

// Set 写入一个值
func (f *Facade) Set(ctx context.Context, key string, value []byte, opts SetOptions) {
	f.store.Set(ctx, key, value, opts.TTL)
}

// Delete 删除一个键
func (f *Facade) Delete(ctx context.Context, key string) {
	f.store.Delete(ctx, key)
}

// ClearPattern 删除匹配模式的所有键，例如 "courses:*"
func (f *Facade) ClearPattern(ctx context.Context, pattern string) {
	f.store.ClearPattern(ctx, pattern)
}

// Clear 清空缓存
func (f *Facade) Clear(ctx context.Context) {
	f.store.Clear(ctx)
}

// Stats 返回底层存储的统计信息
func (f *Facade) Stats(ctx context.Context) Stats {
	return f.store.Stats(ctx)
}

// IsRemoteAvailable 报告底层是否为跨实例共享的分布式缓存。
// 为 false 时，一次失效只作用于当前进程。
func (f *Facade) IsRemoteAvailable() bool {
	return f.store.Remote()
}

// Stop 释放底层存储
func (f *Facade) Stop() {
	f.store.Stop()
}

// GetJSON 读取并解码一个 JSON 值。无法解码的条目会被删除并按未命中处理。
func GetJSON[T any](ctx context.Context, f *Facade, key string) (T, bool) {
	var out T
	raw, ok := f.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		slog.Warn("缓存条目无法解码，已删除", "key", key, "error", err)
		f.Delete(ctx, key)
		var zero T
		return zero, false
	}
	return out, true
}

// SetJSON 将值编码为 JSON 后写入
func SetJSON[T any](ctx context.Context, f *Facade, key string, value T, opts SetOptions) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	f.Set(ctx, key, raw, opts)
	return nil
}

// Remember 实现 cache-aside：命中直接返回，未命中调用 load 并写回缓存。
// 并发的未命中可能重复调用 load，以最后一次写入为准。
// load 的错误原样返回，且不会写入缓存。
func Remember[T any](ctx context.Context, f *Facade, key string, opts SetOptions, load func(context.Context) (T, error)) (T, error) {
	if v, ok := GetJSON[T](ctx, f, key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	if err := SetJSON(ctx, f, key, v, opts); err != nil {
		slog.Warn("加载结果无法写入缓存", "key", key, "error", err)
	}
	return v, nil
}
