// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"net/http"
	"runtime/debug"
)

// Recovery 是一个中间件，用于从 panic 中恢复，防止服务器崩溃
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				// ReverseProxy 在客户端提前断开时会以 ErrAbortHandler 终止处理器，
				// 这不是服务端错误，直接交还给 net/http 处理。
				if err == http.ErrAbortHandler {
					panic(err)
				}

				LogError(r, "panic recovered", "panic", err, "stack", string(debug.Stack()))
				WriteJSONError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error.")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
