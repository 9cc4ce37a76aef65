// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"net/http"
)

// SecurityHeaders 为所有响应添加推荐的安全头部。
// 后端已经设置的同名头部会在代理复制响应头时被覆盖为后端的值。
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()

		// 防止浏览器对响应内容进行 MIME 类型嗅探
		headers.Set("X-Content-Type-Options", "nosniff")

		// 只允许同源页面嵌入，抵御点击劫持
		headers.Set("X-Frame-Options", "SAMEORIGIN")

		// 显式禁用旧版浏览器内置的 XSS 过滤器
		headers.Set("X-XSS-Protection", "0")

		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS 只在 TLS 连接上下发
		if r.TLS != nil {
			headers.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
