// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package cmsmock

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestCourses(t *testing.T) {
	s := New()
	h := s.Handler()

	var courses []Course
	rec := serve(h, http.MethodGet, "/api/courses?category=go", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &courses))
	assert.Len(t, courses, 2)

	rec = serve(h, http.MethodPost, "/api/courses", `{"title":"Go 泛型","category":"go"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(h, http.MethodGet, "/api/courses?category=go", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &courses))
	assert.Len(t, courses, 3)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/api/courses/1", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(h, http.MethodDelete, "/api/courses/1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/courses/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/courses", `{}`).Code)

	// 两次列表 GET 加两次 POST，/api/courses/1 单独计数
	assert.Equal(t, int64(4), s.Hits("/api/courses"))
	assert.Equal(t, int64(3), s.Hits("/api/courses/1"))
}

func TestBannersFilter(t *testing.T) {
	h := New().Handler()

	var banners []Banner
	rec := serve(h, http.MethodGet, "/api/banners?status=active", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &banners))
	require.Len(t, banners, 1)
	assert.Equal(t, 7, banners[0].ID)
}

func TestLogin(t *testing.T) {
	h := New().Handler()

	rec := serve(h, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"password"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fake-jwt-token-for-testing")

	rec = serve(h, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTicketsArePrivate(t *testing.T) {
	h := New().Handler()

	rec := serve(h, http.MethodGet, "/api/tickets", "")
	assert.Contains(t, rec.Header().Get("Cache-Control"), "private")
}
