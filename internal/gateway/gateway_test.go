// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package gateway

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"catalogedge/configs"
	"catalogedge/internal/cache"
	"catalogedge/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "s3cret"

func newTestRouter(t *testing.T, backendURL, token string) (*Router, *cache.Facade) {
	t.Helper()
	facade := cache.NewFacade(cache.NewMemoryStore(time.Minute, 0))
	t.Cleanup(facade.Stop)

	cfg := configs.Config{
		BackendURL: backendURL,
		Admin:      configs.AdminConfig{Token: token},
		Cache:      configs.CacheConfig{Routes: configs.DefaultCacheRoutes()},
	}
	r, err := NewRouter(cfg, facade, middleware.NewMetrics("test", nil))
	require.NoError(t, err)
	return r, facade
}

func adminRequest(method, path, body, token string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestNewRouter_InvalidBackend(t *testing.T) {
	for _, raw := range []string{"://bad", "ftp://cms", "http://"} {
		_, err := NewRouter(configs.Config{BackendURL: raw}, cache.NewFacade(cache.NewMemoryStore(time.Minute, 0)), nil)
		assert.Error(t, err, raw)
	}
}

func TestRouter_AdminAuth(t *testing.T) {
	r, _ := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testAdminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, adminRequest(http.MethodGet, AdminPrefix+"cache/stats", "", tt.token))
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("unknown endpoint requires auth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, adminRequest(http.MethodGet, AdminPrefix+"secrets", "", ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, adminRequest(http.MethodGet, AdminPrefix+"secrets", "", testAdminToken))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_AdminDisabledWithoutToken(t *testing.T) {
	r, _ := newTestRouter(t, "http://127.0.0.1:1", "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodGet, AdminPrefix+"cache/stats", "", "anything"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_Stats(t *testing.T) {
	r, facade := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)
	ctx := context.Background()
	facade.Set(ctx, "courses:all", []byte("[]"), cache.SetOptions{})
	facade.Get(ctx, "courses:all")
	facade.Get(ctx, "missing")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, adminRequest(http.MethodGet, AdminPrefix+"cache/stats", "", testAdminToken))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body["size"])
	assert.Equal(t, 1.0, body["hits"])
	assert.Equal(t, 1.0, body["misses"])
	assert.Equal(t, 0.5, body["hitRatio"])
	assert.Equal(t, "in-memory", body["backend"])
	assert.Equal(t, false, body["remoteAvailable"])
}

func TestRouter_Purge(t *testing.T) {
	ctx := context.Background()

	t.Run("pattern", func(t *testing.T) {
		r, facade := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)
		facade.Set(ctx, "courses:all", []byte("1"), cache.SetOptions{})
		facade.Set(ctx, "courses:go", []byte("2"), cache.SetOptions{})
		facade.Set(ctx, "skills:all", []byte("3"), cache.SetOptions{})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, adminRequest(http.MethodPost, AdminPrefix+"cache/purge", `{"pattern":"courses:*"}`, testAdminToken))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"purged":"courses:*","remoteAvailable":false}`, rec.Body.String())
		assert.Equal(t, 1, facade.Stats(ctx).Size)
	})

	t.Run("everything", func(t *testing.T) {
		r, facade := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)
		facade.Set(ctx, "a", []byte("1"), cache.SetOptions{})
		facade.Set(ctx, "b", []byte("2"), cache.SetOptions{})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, adminRequest(http.MethodPost, AdminPrefix+"cache/purge", `{"pattern":"*"}`, testAdminToken))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, facade.Stats(ctx).Size)
	})

	for _, body := range []string{"", `{"pattern":""}`, `{"pattern":1}`, `{"other":"x"}`, "not json"} {
		t.Run("bad body "+body, func(t *testing.T) {
			r, _ := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, adminRequest(http.MethodPost, AdminPrefix+"cache/purge", body, testAdminToken))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRouter_ProxiesAndCaches(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/courses", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"title":"Go"}]`))
	}))
	defer backend.Close()

	r, _ := newTestRouter(t, backend.URL, testAdminToken)
	srv := httptest.NewServer(r)
	defer srv.Close()

	for i, want := range []string{"MISS", "HIT"} {
		resp, err := http.Get(srv.URL + "/api/courses")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, i)
		assert.Equal(t, want, resp.Header.Get(CacheStatusHeader), i)
		assert.JSONEq(t, `[{"id":1,"title":"Go"}]`, string(body))
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestRouter_BackendDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	r, _ := newTestRouter(t, url, testAdminToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tickets", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), middleware.CodeBadGateway)
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := newTestRouter(t, "http://127.0.0.1:1", testAdminToken)

	req := httptest.NewRequest(http.MethodGet, middleware.MetricsPath, nil)
	req.RemoteAddr = "127.0.0.1:9100"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	// 外部来源不能读取指标，X-Forwarded-For 也不能伪装成本地
	req = httptest.NewRequest(http.MethodGet, middleware.MetricsPath, nil)
	req.RemoteAddr = "203.0.113.7:4000"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NotContains(t, rec.Body.String(), "go_goroutines")
}

// 经过真实的反向代理时，先请求压缩的客户端也不会把 gzip 响应体留给后来的客户端
func TestRouter_CachedBodyIsNotCompressed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Vary", "Accept-Encoding")
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			_, _ = w.Write([]byte(`[{"id":1}]`))
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(`[{"id":1}]`))
		_ = zw.Close()
	}))
	defer backend.Close()

	r, _ := newTestRouter(t, backend.URL, testAdminToken)
	srv := httptest.NewServer(r)
	defer srv.Close()

	// DisableCompression 让客户端自己决定 Accept-Encoding，并原样拿到响应体
	client := &http.Client{Transport: &http.Transport{DisableCompression: true, DisableKeepAlives: true}}
	get := func(acceptEncoding string) (*http.Response, []byte) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/skills", nil)
		require.NoError(t, err)
		if acceptEncoding != "" {
			req.Header.Set("Accept-Encoding", acceptEncoding)
		}
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}

	resp, _ := get("gzip")
	assert.Equal(t, "MISS", resp.Header.Get(CacheStatusHeader))

	resp, body := get("")
	assert.Equal(t, "HIT", resp.Header.Get(CacheStatusHeader))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.JSONEq(t, `[{"id":1}]`, string(body))
}
