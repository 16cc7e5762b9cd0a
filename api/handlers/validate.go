package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/naohq/queryguard/guardrails"
	"github.com/naohq/queryguard/ratelimit"
	"github.com/naohq/queryguard/service"
)

// =============================================================================
// 🛡️ 查询校验 Handler
// =============================================================================

// ValidateHandler 查询校验处理器
type ValidateHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewValidateHandler 创建查询校验处理器
func NewValidateHandler(svc *service.Service, logger *zap.Logger) *ValidateHandler {
	return &ValidateHandler{
		svc:    svc,
		logger: logger.With(zap.String("handler", "validate")),
	}
}

// ValidateRequest 校验请求体
type ValidateRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
}

// ValidateResponse 校验通过时的响应体
type ValidateResponse struct {
	Valid          bool     `json:"valid"`
	SanitizedQuery string   `json:"sanitized_query,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	PIIRedacted    int      `json:"pii_redacted,omitempty"`
}

// HandleValidate 处理 POST /api/v1/queries/validate。
// 先计入限流，再跑守护规则管道。被限流的请求不会到达管道。
func (h *ValidateHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}

	var req ValidateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Query == "" || req.UserID == "" || req.ProjectID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest,
			"query, user_id and project_id are required", h.logger)
		return
	}

	meta := requestMeta(r, req.UserID, req.ProjectID)

	// 限流先行
	decision, err := h.svc.CheckRateLimit(r.Context(), meta)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"rate limit check failed", h.logger)
		return
	}
	if !decision.Allowed {
		// 响应体的 retry_after 固定为一个完整窗口的秒数，
		// Retry-After 头给到窗口结束的精确剩余时间
		headerRetry := int(decision.RetryAfter.Seconds())
		if headerRetry < 1 {
			headerRetry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(headerRetry))
		WriteError(w, http.StatusTooManyRequests, &ErrorInfo{
			Code:       CodeRateLimitExceeded,
			Message:    guardrails.UserMessage(guardrails.ViolationRateLimitExceeded),
			RetryAfter: int(ratelimit.Window.Seconds()),
		}, h.logger)
		return
	}

	result, err := h.svc.ValidateQuery(r.Context(), meta, req.Query)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"validation failed", h.logger)
		return
	}

	cfg, err := h.svc.GetSettings(r.Context(), req.ProjectID)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to load settings", h.logger)
		return
	}

	// blockOnError=false 时违规已落审计，查询继续下行
	if !result.Valid && cfg.BlockOnError {
		violations := make([]ViolationInfo, 0, len(result.Violations))
		for _, v := range result.Violations {
			msg := "Your query was blocked by a security policy."
			if cfg.ShowErrorToUser {
				msg = guardrails.UserMessage(v.ViolationType)
			}
			violations = append(violations, ViolationInfo{
				Type:     string(v.ViolationType),
				Severity: v.Severity,
				Message:  msg,
			})
		}
		WriteError(w, http.StatusBadRequest, &ErrorInfo{
			Code:           CodeGuardrailViolation,
			Message:        violations[0].Message,
			Violations:     violations,
			SanitizedQuery: result.SanitizedQuery,
		}, h.logger)
		return
	}

	WriteSuccess(w, ValidateResponse{
		Valid:          result.Valid,
		SanitizedQuery: result.SanitizedQuery,
		Warnings:       result.Warnings,
		PIIRedacted:    len(result.RedactedPII),
	})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// requestMeta 从请求装配审计元信息
func requestMeta(r *http.Request, userID, projectID string) service.RequestMeta {
	return service.RequestMeta{
		UserID:    userID,
		ProjectID: projectID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// clientIP 优先取 X-Forwarded-For 的第一跳
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
