// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"catalogedge/configs"
	"catalogedge/internal/cache"
	"catalogedge/internal/middleware"
)

// AdminPrefix 网关自身管理接口的路径前缀，不会被转发到后端
const AdminPrefix = "/edge/api/v1/"

// maxPurgeBody 清理请求体的大小上限
const maxPurgeBody = 4 << 10

// Router 封装了网关的路由逻辑和依赖项。
type Router struct {
	mux     *http.ServeMux
	facade  *cache.Facade
	metrics *middleware.Metrics
	token   string
}

// StatsResponse 是 cache/stats 的响应
type StatsResponse struct {
	cache.Stats
	HitRatio        float64 `json:"hitRatio"`
	RemoteAvailable bool    `json:"remoteAvailable"`
}

// PurgeRequest 是 cache/purge 的请求体
type PurgeRequest struct {
	Pattern string `json:"pattern"`
}

// NewRouter 创建一个新的路由器，配置所有路由，并将其作为 http.Handler 返回。
// 未命中管理接口和指标路径的请求依次经过 WebSocket 代理、响应缓存和反向代理。
func NewRouter(cfg configs.Config, facade *cache.Facade, metrics *middleware.Metrics) (*Router, error) {
	target, err := ParseBackendURL(cfg.BackendURL)
	if err != nil {
		return nil, err
	}

	r := &Router{
		mux:     http.NewServeMux(),
		facade:  facade,
		metrics: metrics,
		token:   cfg.Admin.Token,
	}

	responseCache := NewResponseCache(facade, cfg.Cache.Routes, metrics)
	backend := NewWebsocketProxy(responseCache.Middleware(NewProxy(target)), target)

	// 注册所有处理器
	r.mux.Handle("GET "+AdminPrefix+"cache/stats", r.requireAdmin(r.statsHandler()))
	r.mux.Handle("POST "+AdminPrefix+"cache/purge", r.requireAdmin(r.purgeHandler()))
	r.mux.Handle(AdminPrefix, r.requireAdmin(r.notFoundHandler()))
	if metrics != nil {
		r.mux.Handle("GET "+middleware.MetricsPath, middleware.LoopbackOnly(metrics.Handler()))
	}
	r.mux.Handle("/", backend) // 默认捕获所有其他请求

	return r, nil
}

// ServeHTTP 使 Router 实现 http.Handler 接口。
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// requireAdmin 校验 Authorization: Bearer <admin.token>。未配置令牌时管理接口整体关闭。
func (r *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.token == "" {
			middleware.WriteJSONError(w, req, http.StatusForbidden, middleware.CodeForbidden, "Admin API is disabled.")
			return
		}

		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(r.token)) != 1 {
			middleware.WriteJSONError(w, req, http.StatusUnauthorized, middleware.CodeUnauthorized, "Invalid or missing admin token.")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// statsHandler 返回缓存统计
func (r *Router) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		stats := r.facade.Stats(req.Context())
		writeJSON(w, req, http.StatusOK, StatsResponse{
			Stats:           stats,
			HitRatio:        stats.HitRatio(),
			RemoteAvailable: r.facade.IsRemoteAvailable(),
		})
	}
}

// purgeHandler 按模式清理缓存，"*" 清空全部
func (r *Router) purgeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body PurgeRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxPurgeBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			middleware.WriteJSONError(w, req, http.StatusBadRequest, middleware.CodeBadRequest, "Request body must be {\"pattern\": \"...\"}.")
			return
		}

		pattern := strings.TrimSpace(body.Pattern)
		if pattern == "" {
			middleware.WriteJSONError(w, req, http.StatusBadRequest, middleware.CodeBadRequest, "Pattern is required.")
			return
		}

		if pattern == "*" {
			r.facade.Clear(req.Context())
		} else {
			r.facade.ClearPattern(req.Context(), pattern)
		}
		middleware.LogWarn(req, "管理接口清理了缓存", "pattern", pattern)

		writeJSON(w, req, http.StatusOK, map[string]any{
			"purged":          pattern,
			"remoteAvailable": r.facade.IsRemoteAvailable(),
		})
	}
}

func (r *Router) notFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteJSONError(w, req, http.StatusNotFound, "NOT_FOUND", "Unknown admin endpoint.")
	}
}

func writeJSON(w http.ResponseWriter, req *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		middleware.LogError(req, "Failed to encode JSON response", "error", err)
	}
}
