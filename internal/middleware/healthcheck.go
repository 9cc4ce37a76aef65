// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"log/slog"
	"net"
	"net/http"
)

// HealthCheckPath 健康检查路径
const HealthCheckPath = "/healthz"

// HealthCheck 是一个中间件，用于处理来自本地主机的健康检查请求
func HealthCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != HealthCheckPath {
			next.ServeHTTP(w, r)
			return
		}
		if !fromLoopback(r) {
			WriteJSONError(w, r, http.StatusForbidden, CodeForbidden, "Forbidden")
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// LoopbackOnly 只允许本地主机访问 next，用于 /metrics 这类运维接口
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !fromLoopback(r) {
			WriteJSONError(w, r, http.StatusForbidden, CodeForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// fromLoopback 只看 TCP 来源地址，不信任 X-Forwarded-For
func fromLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// 如果无法解析，为安全起见记录错误并拒绝访问
		slog.Warn("无法解析来源地址", "path", r.URL.Path, "remote_addr", r.RemoteAddr, "error", err)
		return false
	}

	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		slog.Warn("拒绝来自非本地主机的访问", "path", r.URL.Path, "host", host)
		return false
	}
	return true
}
