package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// 机器可读错误码
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeGuardrailViolation = "GUARDRAIL_VIOLATION"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// RetryAfter 仅限流错误携带，单位秒
	RetryAfter int `json:"retry_after,omitempty"`
	// Violations 仅守护规则违规携带
	Violations []ViolationInfo `json:"violations,omitempty"`
	// SanitizedQuery 被拦截时回传清洗/脱敏后的查询（若有改写）
	SanitizedQuery string `json:"sanitized_query,omitempty"`
}

// ViolationInfo 面向调用方的违规描述。只暴露类型、级别与
// 用户文案，不暴露命中的正则等检测细节。
type ViolationInfo struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// 响应头已写出，只能放弃
		return
	}
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应
func WriteError(w http.ResponseWriter, status int, errInfo *ErrorInfo, logger *zap.Logger) {
	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("API error",
			zap.String("code", errInfo.Code),
			zap.String("message", errInfo.Message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errInfo,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	WriteError(w, status, &ErrorInfo{Code: code, Message: message}, logger)
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体。严格模式，拒绝未知字段。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "request body is empty", logger)
		return errEmptyBody
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body", logger)
		return err
	}

	return nil
}

var errEmptyBody = &jsonError{"request body is empty"}

type jsonError struct{ msg string }

func (e *jsonError) Error() string { return e.msg }

// RequireMethod 校验请求方法，不匹配时写出 405
func RequireMethod(w http.ResponseWriter, r *http.Request, method string, logger *zap.Logger) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		WriteErrorMessage(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"method not allowed", logger)
		return false
	}
	return true
}
