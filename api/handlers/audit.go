package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/naohq/queryguard/audit"
	"github.com/naohq/queryguard/service"
)

// =============================================================================
// 📝 审计日志 Handler
// =============================================================================

// 审计查询的分页上限
const maxAuditPageSize = 500

// AuditHandler 审计日志查询处理器
type AuditHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewAuditHandler 创建审计日志处理器
func NewAuditHandler(svc *service.Service, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		svc:    svc,
		logger: logger.With(zap.String("handler", "audit")),
	}
}

// HandleList 处理 GET /api/v1/audit。
// 支持 user_id、project_id、event_type、since、limit、offset 过滤，
// 结果按时间倒序。
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), h.logger)
		return
	}

	entries, err := h.svc.ListAuditEntries(r.Context(), filter)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to list audit entries", h.logger)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// auditFilterFromQuery 从查询参数装配过滤条件
func auditFilterFromQuery(r *http.Request) (audit.ListFilter, error) {
	q := r.URL.Query()
	filter := audit.ListFilter{
		UserID:    q.Get("user_id"),
		ProjectID: q.Get("project_id"),
		EventType: audit.EventType(q.Get("event_type")),
		Limit:     100,
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.ListFilter{}, &jsonError{"since must be RFC3339"}
		}
		filter.Since = since
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return audit.ListFilter{}, &jsonError{"limit must be a positive integer"}
		}
		if limit > maxAuditPageSize {
			limit = maxAuditPageSize
		}
		filter.Limit = limit
	}

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return audit.ListFilter{}, &jsonError{"offset must be a non-negative integer"}
		}
		filter.Offset = offset
	}

	return filter, nil
}
