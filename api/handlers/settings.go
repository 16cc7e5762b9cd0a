package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/naohq/queryguard/service"
)

// =============================================================================
// ⚙️ 项目配置 Handler
// =============================================================================

// SettingsHandler 项目配置处理器
type SettingsHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewSettingsHandler 创建项目配置处理器
func NewSettingsHandler(svc *service.Service, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		svc:    svc,
		logger: logger.With(zap.String("handler", "settings")),
	}
}

// HandleSettings 处理 /api/v1/projects/{id}/settings。
// GET 返回生效配置（未配置的项目返回默认值），PUT 合并更新：
// 请求体只需携带要改的字段，缺省字段保留现值。
func (h *SettingsHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	projectID := projectIDFromPath(r.URL.Path)
	if projectID == "" {
		WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "project not found", h.logger)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, projectID)
	case http.MethodPut:
		h.handlePut(w, r, projectID)
	default:
		w.Header().Set("Allow", "GET, PUT")
		WriteErrorMessage(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"method not allowed", h.logger)
	}
}

func (h *SettingsHandler) handleGet(w http.ResponseWriter, r *http.Request, projectID string) {
	cfg, err := h.svc.GetSettings(r.Context(), projectID)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to load settings", h.logger)
		return
	}
	WriteSuccess(w, cfg)
}

func (h *SettingsHandler) handlePut(w http.ResponseWriter, r *http.Request, projectID string) {
	current, err := h.svc.GetSettings(r.Context(), projectID)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to load settings", h.logger)
		return
	}

	// 把请求体解码到现有配置之上：缺省字段保留现值，部分更新
	// 不会把其余开关归零
	in := current
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}

	// 越界值被收敛而非拒绝，响应体回传实际生效的配置
	saved, err := h.svc.UpdateSettings(r.Context(), projectID, in)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to save settings", h.logger)
		return
	}
	WriteSuccess(w, saved)
}

// projectIDFromPath 从 /api/v1/projects/{id}/settings 提取项目 ID
func projectIDFromPath(path string) string {
	const prefix = "/api/v1/projects/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/settings")
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
