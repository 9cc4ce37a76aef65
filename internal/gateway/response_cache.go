// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"bytes"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"catalogedge/configs"
	"catalogedge/internal/cache"
	"catalogedge/internal/middleware"
)

const (
	// CacheStatusHeader 标记响应来自缓存、后端还是绕过了缓存
	CacheStatusHeader = "X-Cache"

	cacheHit    = "HIT"
	cacheMiss   = "MISS"
	cacheBypass = "BYPASS"

	// DefaultMaxCachedBody 超过该大小的响应体不缓存
	DefaultMaxCachedBody = 1 << 20
)

// CacheRoute 一条可缓存的 API 路由
type CacheRoute struct {
	Prefix      string
	Resource    string
	Vary        string
	TTL         time.Duration
	Invalidates []string
}

// cachedResponse 是存入缓存的响应快照
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// 不随缓存重放的响应头：逐跳头部、会话相关头部和每个请求各自的头部
var uncachedHeaders = map[string]bool{
	"Connection":            true,
	"Keep-Alive":            true,
	"Transfer-Encoding":     true,
	"Trailer":               true,
	"Upgrade":               true,
	"Set-Cookie":            true,
	"Date":                  true,
	"Content-Length":        true,
	"X-Request-Id":          true,
	CacheStatusHeader:       true,
	"X-Ratelimit-Limit":     true,
	"X-Ratelimit-Remaining": true,
	"X-Ratelimit-Reset":     true,
	"Retry-After":           true,
}

// ResponseCache 缓存后端 API 的 GET 响应，并在写请求成功后失效相关资源。
type ResponseCache struct {
	facade  *cache.Facade
	routes  []CacheRoute
	metrics *middleware.Metrics
	maxBody int
}

// NewResponseCache 从配置构建响应缓存，路由按前缀长度从长到短匹配
func NewResponseCache(facade *cache.Facade, routes []configs.CacheRouteConfig, metrics *middleware.Metrics) *ResponseCache {
	rc := &ResponseCache{
		facade:  facade,
		metrics: metrics,
		maxBody: DefaultMaxCachedBody,
	}
	for _, r := range routes {
		rc.routes = append(rc.routes, CacheRoute{
			Prefix:      strings.TrimSuffix(r.Prefix, "/"),
			Resource:    r.Resource,
			Vary:        r.Vary,
			TTL:         time.Duration(r.TTLSeconds) * time.Second,
			Invalidates: r.Invalidates,
		})
	}
	sort.SliceStable(rc.routes, func(i, j int) bool {
		return len(rc.routes[i].Prefix) > len(rc.routes[j].Prefix)
	})
	return rc
}

// Middleware 包裹后端代理
func (rc *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := rc.match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet, http.MethodHead:
			rc.serveCached(w, r, route, next)
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			rc.serveWrite(w, r, route, next)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// Key 返回请求对应的缓存键：
// 列表请求为 "<resource>:<vary 参数值>" 或 "<resource>:all"，
// 子路径请求为 "<resource>:item:<子路径>"。
// 无法安全缓存的请求返回 false。
func (route CacheRoute) Key(r *http.Request) (string, bool) {
	query := r.URL.Query()
	for name := range query {
		if name != route.Vary || len(query[name]) > 1 {
			return "", false
		}
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, route.Prefix), "/")
	if rest != "" {
		if len(query) > 0 {
			return "", false
		}
		return route.Resource + ":item:" + rest, true
	}

	if route.Vary != "" {
		if v := query.Get(route.Vary); v != "" {
			return route.Resource + ":" + v, true
		}
	}
	return route.Resource + ":all", true
}

func (rc *ResponseCache) match(path string) (CacheRoute, bool) {
	for _, route := range rc.routes {
		if path == route.Prefix || strings.HasPrefix(path, route.Prefix+"/") {
			return route, true
		}
	}
	return CacheRoute{}, false
}

func (rc *ResponseCache) serveCached(w http.ResponseWriter, r *http.Request, route CacheRoute, next http.Handler) {
	key, ok := route.Key(r)
	if !ok || hasSession(r) {
		rc.metrics.RecordCacheLookup(route.Resource, "bypass")
		w.Header().Set(CacheStatusHeader, cacheBypass)
		next.ServeHTTP(w, r)
		return
	}

	if cached, found := cache.GetJSON[cachedResponse](r.Context(), rc.facade, key); found {
		rc.metrics.RecordCacheLookup(route.Resource, "hit")
		replay(w, r, cached)
		return
	}
	rc.metrics.RecordCacheLookup(route.Resource, "miss")

	w.Header().Set(CacheStatusHeader, cacheMiss)
	if r.Method == http.MethodHead {
		next.ServeHTTP(w, r)
		return
	}

	// 缓存只保存未压缩的响应体，所有客户端都能直接使用
	if r.Header.Get("Accept-Encoding") != "" {
		r = r.Clone(r.Context())
		r.Header.Del("Accept-Encoding")
	}

	cw := newCaptureWriter(w, rc.maxBody)
	defer cw.release()
	next.ServeHTTP(cw, r)

	if !cw.cacheable() {
		return
	}
	snapshot := cachedResponse{
		Status: cw.status,
		Header: storableHeader(cw.Header()),
		Body:   bytes.Clone(cw.buf.Bytes()),
	}
	if err := cache.SetJSON(r.Context(), rc.facade, key, snapshot, cache.SetOptions{TTL: route.TTL}); err != nil {
		middleware.LogWarn(r, "响应无法写入缓存", "key", key, "error", err)
		return
	}
	slog.Debug("响应已缓存", "key", key, "ttl", route.TTL.String(), "bytes", len(snapshot.Body))
}

func (rc *ResponseCache) serveWrite(w http.ResponseWriter, r *http.Request, route CacheRoute, next http.Handler) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(sw, r)

	if sw.status < 200 || sw.status >= 300 {
		return
	}
	rc.Invalidate(r, route)
}

// Invalidate 清除路由资源及其关联资源的所有缓存条目
func (rc *ResponseCache) Invalidate(r *http.Request, route CacheRoute) {
	resources := append([]string{route.Resource}, route.Invalidates...)
	for _, res := range resources {
		rc.facade.ClearPattern(r.Context(), res+":*")
	}
	slog.Debug("缓存已失效", "method", r.Method, "path", r.URL.Path, "resources", resources)
}

// hasSession 携带凭据的请求可能得到个性化响应，不能共享缓存
func hasSession(r *http.Request) bool {
	return r.Header.Get("Authorization") != "" || r.Header.Get("Cookie") != ""
}

func replay(w http.ResponseWriter, r *http.Request, cached cachedResponse) {
	h := w.Header()
	for name, values := range cached.Header {
		if uncachedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		h[name] = append([]string(nil), values...)
	}
	h.Set(CacheStatusHeader, cacheHit)
	h.Set("Content-Length", strconv.Itoa(len(cached.Body)))
	w.WriteHeader(cached.Status)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(cached.Body); err != nil {
		middleware.LogWarn(r, "缓存响应写入客户端失败", "error", err)
	}
}

func storableHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for name, values := range src {
		if uncachedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
	return dst
}

// captureWriter 在写给客户端的同时复制响应体，超过上限后放弃复制
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         *bytes.Buffer
	limit       int
	overflow    bool
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		status:         http.StatusOK,
		buf:            getCaptureBuffer(),
		limit:          limit,
	}
}

func (cw *captureWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.status = code
		cw.wroteHeader = true
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.wroteHeader = true
	if !cw.overflow {
		if cw.buf.Len()+len(b) > cw.limit {
			cw.overflow = true
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

func (cw *captureWriter) Flush() {
	if flusher, ok := cw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}

// cacheable 只缓存完整捕获的、允许共享的、未压缩的 200 响应
func (cw *captureWriter) cacheable() bool {
	if cw.status != http.StatusOK || cw.overflow {
		return false
	}
	h := cw.Header()
	if h.Get("Set-Cookie") != "" {
		return false
	}
	if ce := strings.TrimSpace(h.Get("Content-Encoding")); ce != "" && !strings.EqualFold(ce, "identity") {
		return false
	}
	if !varyIsCacheable(h.Values("Vary")) {
		return false
	}
	cc := strings.ToLower(h.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store") && !strings.Contains(cc, "private")
}

// varyIsCacheable 缓存键只区分路径和 vary 查询参数，
// 后端按其它请求头区分的响应不能共享
func varyIsCacheable(values []string) bool {
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" && !strings.EqualFold(name, "Accept-Encoding") {
				return false
			}
		}
	}
	return true
}

func (cw *captureWriter) release() {
	putCaptureBuffer(cw.buf)
	cw.buf = nil
}

// statusWriter 只记录状态码
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
