// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// responseWriter 是一个捕获状态码的自定义 ResponseWriter。
// 它保留了底层的 Hijacker 和 Flusher，WebSocket 代理和流式响应需要它们。
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	// 默认状态码为 200 OK
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader 捕获状态码
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Hijack 将连接交给调用方，被劫持的连接记录为 101
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: underlying ResponseWriter does not support hijacking")
	}
	conn, buf, err := hijacker.Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
		rw.wroteHeader = true
	}
	return conn, buf, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap 供 http.ResponseController 使用
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// ClientIP 获取客户端 IP 地址。
// 它会优先检查 X-Forwarded-For 头部，如果不存在则回退到 RemoteAddr。
// 无法解析为合法 IP 时返回空字符串。
func ClientIP(r *http.Request) string {
	// 检查 X-Forwarded-For 头部，通常由代理服务器设置
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// X-Forwarded-For 可能包含多个 IP 地址，通常第一个是真实的客户端 IP
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	// RemoteAddr 的格式可能是 "ip:port"，我们需要分离出 IP
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// 如果解析失败（例如没有端口），则假定 RemoteAddr 就是 IP
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

// Logging 是一个中间件，用于记录 HTTP 请求的信息
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		slog.Info("http request",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"uri", r.RequestURI,
			"proto", r.Proto,
			"status", rw.statusCode,
			"bytes", rw.bytes,
			"duration", time.Since(start),
			"client_ip", ClientIP(r),
		)
	})
}

// LogError 记录一条带请求上下文的错误日志
func LogError(r *http.Request, msg string, args ...any) {
	slog.Error(msg, requestAttrs(r, args)...)
}

// LogWarn 记录一条带请求上下文的警告日志
func LogWarn(r *http.Request, msg string, args ...any) {
	slog.Warn(msg, requestAttrs(r, args)...)
}

func requestAttrs(r *http.Request, args []any) []any {
	attrs := make([]any, 0, len(args)+6)
	attrs = append(attrs,
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	)
	return append(attrs, args...)
}
