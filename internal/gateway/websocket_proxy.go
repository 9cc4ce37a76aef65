// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"catalogedge/internal/middleware"
)

// backendDialTimeout 连接 WebSocket 后端的超时时间
const backendDialTimeout = 5 * time.Second

// NewWebsocketProxy 创建一个 WebSocket 代理中间件，它会包裹现有的 http.Handler。
// 客服聊天的 WebSocket 升级请求被劫持并直接转发到后端，其余请求交给 next。
func NewWebsocketProxy(next http.Handler, backendURL *url.URL) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Debug("检测到 WebSocket 升级请求，正在处理...", "url", r.URL.String())
		handleWebSocketProxy(w, r, backendURL)
	})
}

// isWebSocketUpgrade 检查 HTTP 请求是否为 WebSocket 升级请求。
func isWebSocketUpgrade(r *http.Request) bool {
	connHeader := strings.ToLower(r.Header.Get("Connection"))
	upgradeHeader := strings.ToLower(r.Header.Get("Upgrade"))
	return strings.Contains(connHeader, "upgrade") && upgradeHeader == "websocket"
}

// dialBackend 连接后端，https 后端使用 TLS (wss)
func dialBackend(ctx context.Context, backendURL *url.URL) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, backendDialTimeout)
	defer cancel()

	host := backendURL.Host
	if backendURL.Scheme == "https" {
		if backendURL.Port() == "" {
			host = net.JoinHostPort(backendURL.Hostname(), "443")
		}
		dialer := &tls.Dialer{Config: &tls.Config{ServerName: backendURL.Hostname()}}
		return dialer.DialContext(ctx, "tcp", host)
	}

	if backendURL.Port() == "" {
		host = net.JoinHostPort(backendURL.Hostname(), "80")
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", host)
}

// handleWebSocketProxy 处理实际的 WebSocket 代理逻辑。
func handleWebSocketProxy(w http.ResponseWriter, r *http.Request, backendURL *url.URL) {
	// 1. 先连接后端，失败时客户端还能收到正常的 JSON 错误
	backendConn, err := dialBackend(r.Context(), backendURL)
	if err != nil {
		middleware.LogError(r, "无法连接到 WebSocket 后端", "host", backendURL.Host, "scheme", backendURL.Scheme, "error", err)
		middleware.WriteJSONError(w, r, http.StatusBadGateway, middleware.CodeBadGateway, "Backend unavailable.")
		return
	}

	// 2. 劫持客户端连接
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		backendConn.Close()
		middleware.WriteJSONError(w, r, http.StatusInternalServerError, middleware.CodeInternal, "HTTP 服务器不支持连接劫持")
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		backendConn.Close()
		middleware.LogError(r, "无法劫持连接", "error", err)
		middleware.WriteJSONError(w, r, http.StatusInternalServerError, middleware.CodeInternal, "无法劫持客户端连接")
		return
	}

	// 3. 转发客户端的握手请求到后端
	r.Host = backendURL.Host
	if err := r.Write(backendConn); err != nil {
		middleware.LogError(r, "向后端写入 WebSocket 握手请求失败", "error", err)
		clientConn.Close()
		backendConn.Close()
		return
	}

	// 4. 从后端读取响应并转发回客户端
	br := bufio.NewReader(backendConn)
	resp, err := http.ReadResponse(br, r)
	if err != nil {
		middleware.LogError(r, "从后端读取 WebSocket 握手响应失败", "error", err)
		clientConn.Close()
		backendConn.Close()
		return
	}

	if err := resp.Write(clientConn); err != nil {
		middleware.LogError(r, "向客户端转发 WebSocket 握手响应失败", "error", err)
		clientConn.Close()
		backendConn.Close()
		return
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		middleware.LogWarn(r, "WebSocket 握手失败：后端未切换协议", "status_code", resp.StatusCode)
		clientConn.Close()
		backendConn.Close()
		return
	}
	slog.Debug("WebSocket 握手成功，开始双向数据流复制", "url", r.URL.String())

	// 5. 握手后两侧缓冲区里可能已经有数据
	var backendReader io.Reader = backendConn
	if br.Buffered() > 0 {
		backendReader = io.MultiReader(io.LimitReader(br, int64(br.Buffered())), backendConn)
	}
	var clientReader io.Reader = clientConn
	if clientBuf != nil && clientBuf.Reader.Buffered() > 0 {
		clientReader = io.MultiReader(io.LimitReader(clientBuf.Reader, int64(clientBuf.Reader.Buffered())), clientConn)
	}

	transferStreams(r.URL.String(), clientConn, backendConn, clientReader, backendReader)
}

// transferStreams 在两个连接之间进行双向数据复制，任意一个方向结束后关闭两个连接。
func transferStreams(requestURL string, clientConn, backendConn net.Conn, clientReader, backendReader io.Reader) {
	defer clientConn.Close()
	defer backendConn.Close()

	errChan := make(chan error, 2)

	copyStream := func(dst io.Writer, src io.Reader) {
		buf := copyBufPool.Get().(*[]byte)
		defer copyBufPool.Put(buf)
		_, err := io.CopyBuffer(dst, src, *buf)
		errChan <- err
	}

	go copyStream(clientConn, backendReader)
	go copyStream(backendConn, clientReader)

	err := <-errChan
	if !isClosingError(err) {
		slog.Warn("WebSocket 数据流复制错误", "url", requestURL, "error", err)
	} else {
		slog.Debug("WebSocket 连接正常关闭", "url", requestURL)
	}
}

// isClosingError 判断一个错误是否是连接关闭时通常会发生的预期错误。
func isClosingError(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
