// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package ratelimit 实现按标识符计数的固定窗口限流。
//
// 每个标识符（通常为 "<客户端IP>:<路径>"）在一个窗口内最多放行 Limit 个请求，
// 第 Limit+1 个请求是窗口内的第一次拒绝。窗口边界是硬切换：边界两侧的请求分属
// 不同窗口，配额互不影响，因此跨边界最多可能放行 2×Limit 个请求。
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"
)

// UnknownIdentifier 无法识别的客户端共享这个标识符
const UnknownIdentifier = "unknown"

// DefaultWindow 配置中窗口非法时使用
const DefaultWindow = time.Minute

// Config 一次检查使用的配额
type Config struct {
	Limit  int
	Window time.Duration
}

// normalize 负数配额视为 0（全部拒绝），非正窗口使用默认窗口
func (c Config) normalize() Config {
	if c.Limit < 0 {
		c.Limit = 0
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Result 限流检查结果
type Result struct {
	// Allowed 是否允许请求通过
	Allowed bool

	// Limit 当前规则的配额上限
	Limit int

	// Remaining 当前窗口内剩余配额
	Remaining int

	// ResetAt 当前窗口的重置时间
	ResetAt time.Time

	// RetryAfter 建议重试等待时间（仅在 Allowed=false 时有意义）
	RetryAfter time.Duration
}

// Limiter 定义限流器接口。实现必须并发安全，且永远不会返回错误。
type Limiter interface {
	// Check 为 identifier 计数一次并返回是否放行
	Check(ctx context.Context, identifier string, cfg Config) Result

	// Stop 停止后台清理或释放连接，可重复调用
	Stop()
}

// Headers 返回标准限流响应头
//   - X-RateLimit-Limit: 配额上限
//   - X-RateLimit-Remaining: 剩余配额
//   - X-RateLimit-Reset: 配额重置时间（Unix 秒）
//   - Retry-After: 重试等待秒数（仅在被限流时，向上取整且最小为 1）
func (r Result) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}

	if !r.Allowed {
		retryAfterSec := int64(math.Ceil(r.RetryAfter.Seconds()))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		headers["Retry-After"] = strconv.FormatInt(retryAfterSec, 10)
	}

	return headers
}

// SetHeaders 将限流响应头写入 http.ResponseWriter
func (r Result) SetHeaders(w http.ResponseWriter) {
	for key, value := range r.Headers() {
		w.Header().Set(key, value)
	}
}

// evaluate 根据窗口内的计数生成结果
func evaluate(count int, cfg Config, resetAt, now time.Time) Result {
	return Result{
		Allowed:    count <= cfg.Limit,
		Limit:      cfg.Limit,
		Remaining:  max(0, cfg.Limit-count),
		ResetAt:    resetAt,
		RetryAfter: max(0, resetAt.Sub(now)),
	}
}

// normalizeIdentifier 空标识符归入共享的 unknown 桶
func normalizeIdentifier(identifier string) string {
	if identifier == "" {
		return UnknownIdentifier
	}
	return identifier
}
