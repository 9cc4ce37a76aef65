// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"net/http"

	"catalogedge/internal/ratelimit"
)

// RateLimitMessage 被限流时返回给客户端的提示
const RateLimitMessage = "Too many requests, please try again later."

// RateLimit 是一个按 "<客户端IP>:<路径>" 计数的限流中间件。
// 每个响应都带有 X-RateLimit-* 头部；超出配额时返回 429 和 Retry-After。
// 健康检查和指标路径不计数。
func RateLimit(limiter ratelimit.Limiter, resolver *ratelimit.Resolver, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == HealthCheckPath || r.URL.Path == MetricsPath {
				next.ServeHTTP(w, r)
				return
			}

			profile := resolver.Resolve(r.Method, r.URL.Path)
			res := limiter.Check(r.Context(), RateLimitIdentifier(r), profile.Config)
			res.SetHeaders(w)

			if !res.Allowed {
				metrics.RecordRateLimitDenied(profile.Name)
				WriteJSONError(w, r, http.StatusTooManyRequests, CodeRateLimited, RateLimitMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitIdentifier 组合限流标识符。无法识别客户端 IP 的请求共享 unknown 前缀。
func RateLimitIdentifier(r *http.Request) string {
	ip := ClientIP(r)
	if ip == "" {
		ip = ratelimit.UnknownIdentifier
	}
	return ip + ":" + r.URL.Path
}
