// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package ratelimit

import "errors"

var (
	// ErrUnknownLimiterType 配置了不支持的限流后端
	ErrUnknownLimiterType = errors.New("ratelimit: unknown limiter type")

	// ErrNilClient 传入的 Redis 客户端为 nil
	ErrNilClient = errors.New("ratelimit: nil redis client")
)

// ErrInvalidProfile 限流档位缺失或规则引用了未知档位
var ErrInvalidProfile = errors.New("ratelimit: invalid profile")
