// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// 机器可读的错误码
const (
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeBadRequest   = "BAD_REQUEST"
	CodeBadGateway   = "BAD_GATEWAY"
	CodeInternal     = "INTERNAL_ERROR"
	CodeMethod       = "METHOD_NOT_ALLOWED"
)

// ErrorResponse 定义了标准 JSON 错误响应格式。
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody 是 ErrorResponse 的内容
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSONError 向客户端发送一个标准化的 JSON 错误响应。
// 4xx 以警告级别记录，5xx 以错误级别记录。
func WriteJSONError(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "HTTP error response sent",
		"request_id", GetRequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"code", errorCode,
		"message", message,
	)

	response := ErrorResponse{Error: ErrorBody{Code: errorCode, Message: message}}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode JSON error response", "error", err)
	}
}
