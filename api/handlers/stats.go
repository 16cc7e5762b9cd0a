package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/naohq/queryguard/service"
)

// =============================================================================
// 📊 统计 Handler
// =============================================================================

// StatsHandler 运行时统计处理器
type StatsHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewStatsHandler 创建统计处理器
func NewStatsHandler(svc *service.Service, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		svc:    svc,
		logger: logger.With(zap.String("handler", "stats")),
	}
}

// HandleStats 处理 GET /api/v1/stats
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}

	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternalError,
			"failed to collect stats", h.logger)
		return
	}

	WriteSuccess(w, stats)
}
