// Package service 将守护规则管道、限流器、项目配置与审计日志
// 组装成一个对外的应用服务层，供 HTTP 处理器调用。
//
// 所有依赖通过 Deps 显式注入，不使用包级单例，便于在测试中
// 以内存实现替换任何一层。
package service

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/naohq/queryguard/audit"
	"github.com/naohq/queryguard/guardrails"
	"github.com/naohq/queryguard/internal/metrics"
	"github.com/naohq/queryguard/ratelimit"
	"github.com/naohq/queryguard/settings"
)

const instrumentationName = "github.com/naohq/queryguard/service"

// Deps carries every dependency the service needs. All fields except
// Metrics and Logger are required.
type Deps struct {
	Settings      *settings.Cache
	SettingsStore *settings.Store
	Limiter       *ratelimit.Limiter
	Audit         *audit.Store
	Metrics       *metrics.Collector
	Logger        *zap.Logger
}

// Options tunes the background maintenance loops.
type Options struct {
	// SweepInterval controls how often expired rate limit buckets are
	// dropped.
	SweepInterval time.Duration
	// CleanupInterval controls how often expired audit entries are
	// deleted.
	CleanupInterval time.Duration
}

// DefaultOptions returns the maintenance intervals used in production.
func DefaultOptions() Options {
	return Options{
		SweepInterval:   5 * time.Minute,
		CleanupInterval: time.Hour,
	}
}

// Service is the application façade over validation, rate limiting,
// per-project settings and audit logging.
type Service struct {
	settings      *settings.Cache
	settingsStore *settings.Store
	limiter       *ratelimit.Limiter
	auditStore    *audit.Store
	metrics       *metrics.Collector
	logger        *zap.Logger
	tracer        trace.Tracer
	opts          Options
}

// New wires the service together.
func New(deps Deps, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultOptions().CleanupInterval
	}
	return &Service{
		settings:      deps.Settings,
		settingsStore: deps.SettingsStore,
		limiter:       deps.Limiter,
		auditStore:    deps.Audit,
		metrics:       deps.Metrics,
		logger:        logger.With(zap.String("component", "guard_service")),
		tracer:        otel.Tracer(instrumentationName),
		opts:          opts,
	}
}

// RequestMeta identifies the caller for audit purposes.
type RequestMeta struct {
	UserID    string
	ProjectID string
	IPAddress string
	UserAgent string
}

// =============================================================================
// 🛡️ 查询校验
// =============================================================================

// ValidateQuery runs the project's guardrail pipeline over the query
// and records the outcome. Audit failures never fail the validation.
func (s *Service) ValidateQuery(ctx context.Context, meta RequestMeta, query string) (*guardrails.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "queryguard.validate",
		trace.WithAttributes(
			attribute.String("user.id", meta.UserID),
			attribute.String("project.id", meta.ProjectID),
			attribute.Int("query.length", len(query)),
		))
	defer span.End()

	cfg, err := s.settings.Get(ctx, meta.ProjectID)
	if err != nil {
		return nil, err
	}

	pipeline := guardrails.NewPipeline(cfg.GuardrailOptions(), s.logger)

	start := time.Now()
	result := pipeline.Validate(query)
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.Bool("validation.valid", result.Valid),
		attribute.Int("validation.violations", len(result.Violations)),
	)

	if s.metrics != nil {
		s.metrics.RecordValidation(result.Valid, elapsed)
		for _, v := range result.Violations {
			s.metrics.RecordViolation(string(v.ViolationType), string(v.Severity))
		}
		for _, d := range result.RedactedPII {
			s.metrics.RecordPIIRedaction(string(d.Type))
		}
	}

	if cfg.EnableAuditLog {
		s.recordValidationAudit(ctx, meta, query, result)
	}

	if !result.Valid {
		s.logger.Info("query blocked",
			zap.String("user_id", meta.UserID),
			zap.String("project_id", meta.ProjectID),
			zap.Int("violations", len(result.Violations)),
			zap.String("first_violation", string(result.Violations[0].ViolationType)),
		)
	}

	return result, nil
}

// recordValidationAudit 按校验结果落审计。写失败只记日志。
func (s *Service) recordValidationAudit(ctx context.Context, meta RequestMeta, query string, result *guardrails.ValidationResult) {
	for _, v := range result.Violations {
		s.LogViolation(ctx, meta, query, v)
	}
	if result.Valid {
		for _, w := range result.Warnings {
			s.LogWarning(ctx, meta, query, w)
		}
	}
	if len(result.RedactedPII) > 0 && result.SanitizedQuery != "" {
		s.LogPIIRedaction(ctx, meta, query, result.SanitizedQuery, result.RedactedPII)
	}
}

// =============================================================================
// 🚦 限流
// =============================================================================

// CheckRateLimit counts the request against the project's limits. A
// rejected request is also written to the audit log.
func (s *Service) CheckRateLimit(ctx context.Context, meta RequestMeta) (ratelimit.Decision, error) {
	ctx, span := s.tracer.Start(ctx, "queryguard.rate_limit",
		trace.WithAttributes(attribute.String("user.id", meta.UserID)))
	defer span.End()

	cfg, err := s.settings.Get(ctx, meta.ProjectID)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	decision, err := s.limiter.Check(ctx, meta.UserID, cfg.RateLimitConfig())
	if err != nil {
		return ratelimit.Decision{}, err
	}

	span.SetAttributes(attribute.Bool("rate_limit.allowed", decision.Allowed))
	if s.metrics != nil {
		s.metrics.RecordRateLimitCheck(decision.Allowed)
	}

	if !decision.Allowed && cfg.EnableAuditLog {
		s.appendAudit(ctx, &audit.Entry{
			UserID:        meta.UserID,
			ProjectID:     meta.ProjectID,
			EventType:     audit.EventRateLimitExceeded,
			ViolationType: string(guardrails.ViolationRateLimitExceeded),
			Severity:      string(guardrails.SeverityMedium),
			Message:       guardrails.UserMessage(guardrails.ViolationRateLimitExceeded),
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
		})
	}

	return decision, nil
}

// =============================================================================
// 📝 审计
// =============================================================================

// LogViolation writes a guardrail_blocked entry. Best effort.
func (s *Service) LogViolation(ctx context.Context, meta RequestMeta, query string, check guardrails.CheckResult) {
	s.appendAudit(ctx, &audit.Entry{
		UserID:        meta.UserID,
		ProjectID:     meta.ProjectID,
		EventType:     audit.EventGuardrailBlocked,
		ViolationType: string(check.ViolationType),
		Severity:      string(check.Severity),
		Query:         query,
		Message:       check.Message,
		DetailsJSON:   marshalDetails(check.Details),
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
	})
}

// LogWarning writes a guardrail_warning entry. Best effort.
func (s *Service) LogWarning(ctx context.Context, meta RequestMeta, query, message string) {
	s.appendAudit(ctx, &audit.Entry{
		UserID:    meta.UserID,
		ProjectID: meta.ProjectID,
		EventType: audit.EventGuardrailWarning,
		Query:     query,
		Message:   message,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})
}

// LogPIIRedaction writes a pii_redacted entry carrying the sanitized
// query and per-type counts. Best effort.
func (s *Service) LogPIIRedaction(ctx context.Context, meta RequestMeta, query, sanitized string, detections []guardrails.PIIDetection) {
	byType := make(map[string]int, len(detections))
	for _, d := range detections {
		byType[string(d.Type)]++
	}
	s.appendAudit(ctx, &audit.Entry{
		UserID:         meta.UserID,
		ProjectID:      meta.ProjectID,
		EventType:      audit.EventPIIRedacted,
		Severity:       string(guardrails.SeverityHigh),
		Query:          query,
		SanitizedQuery: sanitized,
		Message:        "PII was redacted from the query",
		DetailsJSON:    marshalDetails(map[string]any{"count": len(detections), "by_type": byType}),
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
	})
}

// appendAudit 落审计；失败吞掉错误只留日志与指标
func (s *Service) appendAudit(ctx context.Context, entry *audit.Entry) {
	if err := s.auditStore.Append(ctx, entry); err != nil {
		if s.metrics != nil {
			s.metrics.RecordAuditFailure()
		}
		s.logger.Warn("failed to write audit entry",
			zap.String("event_type", string(entry.EventType)),
			zap.Error(err),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordAuditEntry(string(entry.EventType))
	}
}

// ListAuditEntries exposes the audit log for review endpoints.
func (s *Service) ListAuditEntries(ctx context.Context, filter audit.ListFilter) ([]audit.Entry, error) {
	return s.auditStore.List(ctx, filter)
}

// =============================================================================
// ⚙️ 项目配置
// =============================================================================

// GetSettings returns a project's effective settings.
func (s *Service) GetSettings(ctx context.Context, projectID string) (settings.Settings, error) {
	return s.settings.Get(ctx, projectID)
}

// UpdateSettings clamps and replaces a project's settings.
func (s *Service) UpdateSettings(ctx context.Context, projectID string, in settings.Settings) (settings.Settings, error) {
	saved, err := s.settings.Put(ctx, projectID, in)
	if err != nil {
		return settings.Settings{}, err
	}
	s.logger.Info("settings updated", zap.String("project_id", projectID))
	return saved, nil
}

// =============================================================================
// 📊 统计
// =============================================================================

// Stats is a point-in-time operational snapshot.
type Stats struct {
	RateLimitEntries      int   `json:"rate_limit_entries"`
	ActiveUsers           int   `json:"active_users"`
	AuditLogRetentionDays int   `json:"audit_log_retention_days"`
	ProjectsConfigured    int64 `json:"projects_configured"`
}

// GetStats assembles the snapshot served by the stats endpoint.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	entries, err := s.limiter.Entries(ctx)
	if err != nil {
		return Stats{}, err
	}
	users, err := s.limiter.ActiveUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	projects, err := s.settingsStore.CountProjects(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		RateLimitEntries:      entries,
		ActiveUsers:           users,
		AuditLogRetentionDays: settings.Default().AuditLogRetentionDays,
		ProjectsConfigured:    projects,
	}, nil
}

// =============================================================================
// 🔄 后台维护
// =============================================================================

// Run drives the maintenance loops until the context is canceled:
// rate limit bucket sweeps and audit retention cleanup. Always returns
// ctx.Err() on shutdown.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.limiter.Sweep(ctx); err != nil {
					s.logger.Warn("rate limit sweep failed", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.opts.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				s.cleanupExpiredAudit(ctx, time.Now())
			}
		}
	})

	return g.Wait()
}

// cleanupExpiredAudit enforces audit retention per project: each
// configured project keeps entries for its own AuditLogRetentionDays,
// everything else falls back to the default retention. Failures are
// logged and the sweep continues.
func (s *Service) cleanupExpiredAudit(ctx context.Context, now time.Time) {
	retention, err := s.settingsStore.RetentionByProject(ctx)
	if err != nil {
		s.logger.Warn("audit cleanup failed", zap.Error(err))
		return
	}

	configured := make([]string, 0, len(retention))
	for projectID, days := range retention {
		configured = append(configured, projectID)
		cutoff := now.AddDate(0, 0, -days)
		if _, err := s.auditStore.CleanupProject(ctx, projectID, cutoff); err != nil {
			s.logger.Warn("audit cleanup failed",
				zap.String("project_id", projectID),
				zap.Error(err),
			)
		}
	}

	cutoff := now.AddDate(0, 0, -settings.Default().AuditLogRetentionDays)
	if _, err := s.auditStore.CleanupExcept(ctx, configured, cutoff); err != nil {
		s.logger.Warn("audit cleanup failed", zap.Error(err))
	}
}

func marshalDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	data, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(data)
}
