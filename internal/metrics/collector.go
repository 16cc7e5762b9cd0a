package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 校验指标
	validationsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
	violationsTotal    *prometheus.CounterVec
	piiRedactionsTotal *prometheus.CounterVec

	// 限流指标
	rateLimitChecksTotal *prometheus.CounterVec

	// 审计指标
	auditEntriesTotal *prometheus.CounterVec
	auditFailures     prometheus.Counter

	// 配置缓存指标
	settingsCacheHits   prometheus.Counter
	settingsCacheMisses prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 校验指标
	c.validationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of query validations",
		},
		[]string{"outcome"}, // outcome: valid, blocked
	)

	c.validationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Query validation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"outcome"},
	)

	c.violationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Total number of guardrail violations",
		},
		[]string{"violation_type", "severity"},
	)

	c.piiRedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pii_redactions_total",
			Help:      "Total number of PII values redacted",
		},
		[]string{"pii_type"},
	)

	// 限流指标
	c.rateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_checks_total",
			Help:      "Total number of rate limit checks",
		},
		[]string{"allowed"}, // allowed: true, false
	)

	// 审计指标
	c.auditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Total number of audit entries written",
		},
		[]string{"event_type"},
	)

	c.auditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Total number of failed audit writes",
		},
	)

	// 配置缓存指标
	c.settingsCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_cache_hits_total",
			Help:      "Total number of settings cache hits",
		},
	)

	c.settingsCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_cache_misses_total",
			Help:      "Total number of settings cache misses",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🛡️ 校验指标记录
// =============================================================================

// RecordValidation 记录一次查询校验
func (c *Collector) RecordValidation(valid bool, duration time.Duration) {
	outcome := "valid"
	if !valid {
		outcome = "blocked"
	}
	c.validationsTotal.WithLabelValues(outcome).Inc()
	c.validationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordViolation 记录一次守护规则违规
func (c *Collector) RecordViolation(violationType, severity string) {
	c.violationsTotal.WithLabelValues(violationType, severity).Inc()
}

// RecordPIIRedaction 记录一次 PII 脱敏
func (c *Collector) RecordPIIRedaction(piiType string) {
	c.piiRedactionsTotal.WithLabelValues(piiType).Inc()
}

// =============================================================================
// 🚦 限流指标记录
// =============================================================================

// RecordRateLimitCheck 记录一次限流检查
func (c *Collector) RecordRateLimitCheck(allowed bool) {
	if allowed {
		c.rateLimitChecksTotal.WithLabelValues("true").Inc()
	} else {
		c.rateLimitChecksTotal.WithLabelValues("false").Inc()
	}
}

// =============================================================================
// 📝 审计指标记录
// =============================================================================

// RecordAuditEntry 记录一次审计落库
func (c *Collector) RecordAuditEntry(eventType string) {
	c.auditEntriesTotal.WithLabelValues(eventType).Inc()
}

// RecordAuditFailure 记录一次审计写入失败
func (c *Collector) RecordAuditFailure() {
	c.auditFailures.Inc()
}

// =============================================================================
// 💾 配置缓存指标记录
// =============================================================================

// RecordSettingsCacheHit 记录配置缓存命中
func (c *Collector) RecordSettingsCacheHit() {
	c.settingsCacheHits.Inc()
}

// RecordSettingsCacheMiss 记录配置缓存未命中
func (c *Collector) RecordSettingsCacheMiss() {
	c.settingsCacheMisses.Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
