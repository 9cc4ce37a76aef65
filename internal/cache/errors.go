// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cache

import "errors"

var (
	// ErrUnknownStoreType 配置了不支持的缓存类型
	ErrUnknownStoreType = errors.New("cache: unknown store type")

	// ErrNilClient 传入的 Redis 客户端为 nil
	ErrNilClient = errors.New("cache: nil redis client")
)
