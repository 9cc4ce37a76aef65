// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"catalogedge/internal/middleware"
)

// ParseBackendURL 解析并校验后端地址
func ParseBackendURL(raw string) (*url.URL, error) {
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("无法解析后端 URL %q: %w", raw, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("后端 URL %q 必须使用 http 或 https", raw)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("后端 URL %q 缺少主机名", raw)
	}
	return target, nil
}

// NewProxy 创建并返回一个指向 CMS 后端的反向代理处理器
func NewProxy(target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	// NewSingleHostReverseProxy 已经处理了路径和查询参数，
	// 这里额外把 Host 头部改写为后端的主机名
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
	}

	proxy.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, r.Context().Err()) {
			// 客户端已断开，没有必要再写响应
			middleware.LogWarn(r, "客户端在后端响应前断开", "error", err)
			return
		}
		middleware.LogError(r, "后端请求失败", "backend", target.Host, "error", err)
		middleware.WriteJSONError(w, r, http.StatusBadGateway, middleware.CodeBadGateway, "Backend unavailable.")
	}

	return proxy
}
