package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/naohq/queryguard/api/handlers"
	"github.com/naohq/queryguard/audit"
	"github.com/naohq/queryguard/config"
	"github.com/naohq/queryguard/internal/metrics"
	"github.com/naohq/queryguard/internal/server"
	"github.com/naohq/queryguard/internal/telemetry"
	"github.com/naohq/queryguard/ratelimit"
	"github.com/naohq/queryguard/service"
	"github.com/naohq/queryguard/settings"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 QueryGuard 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	db               *gorm.DB
	limiterStore     ratelimit.Store
	svc              *service.Service
	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// Handlers
	healthHandler   *handlers.HealthHandler
	validateHandler *handlers.ValidateHandler
	settingsHandler *handlers.SettingsHandler
	auditHandler    *handlers.AuditHandler
	statsHandler    *handlers.StatsHandler

	// 后台循环生命周期
	backgroundCancel context.CancelFunc
	backgroundDone   chan struct{}
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("queryguard", s.logger)

	// 2. 初始化遥测
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otelProviders = providers

	// 3. 初始化存储与服务层
	if err := s.initService(); err != nil {
		return fmt.Errorf("failed to init service: %w", err)
	}

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. 启动后台维护循环
	s.startBackgroundLoops()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("rate_limit_store", s.cfg.RateLimit.Store),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initService 打开数据库与限流存储，装配 service 层
func (s *Server) initService() error {
	db, err := openDatabase(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.db = db

	auditStore, err := audit.NewStore(db, s.logger)
	if err != nil {
		return err
	}
	settingsStore, err := settings.NewStore(db, s.logger)
	if err != nil {
		return err
	}

	settingsCache := settings.NewCache(settingsStore, s.cfg.Settings.CacheTTL).
		WithObserver(s.metricsCollector)

	limiterStore, err := s.buildLimiterStore()
	if err != nil {
		return err
	}
	s.limiterStore = limiterStore
	limiter := ratelimit.NewLimiter(limiterStore, s.logger)

	s.svc = service.New(service.Deps{
		Settings:      settingsCache,
		SettingsStore: settingsStore,
		Limiter:       limiter,
		Audit:         auditStore,
		Metrics:       s.metricsCollector,
		Logger:        s.logger,
	}, service.Options{
		SweepInterval:   s.cfg.RateLimit.SweepInterval,
		CleanupInterval: s.cfg.Audit.CleanupInterval,
	})

	return nil
}

// buildLimiterStore 按配置选择限流计数存储
func (s *Server) buildLimiterStore() (ratelimit.Store, error) {
	switch s.cfg.RateLimit.Store {
	case "redis":
		store, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		s.logger.Info("Rate limit store: redis", zap.String("addr", s.cfg.Redis.Addr))
		return store, nil
	default:
		s.logger.Info("Rate limit store: memory")
		return ratelimit.NewMemoryStore(), nil
	}
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.validateHandler = handlers.NewValidateHandler(s.svc, s.logger)
	s.settingsHandler = handlers.NewSettingsHandler(s.svc, s.logger)
	s.auditHandler = handlers.NewAuditHandler(s.svc, s.logger)
	s.statsHandler = handlers.NewStatsHandler(s.svc, s.logger)

	// 就绪检查：数据库与（启用时）Redis
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", func(ctx context.Context) error {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))
	if redisStore, ok := s.limiterStore.(*ratelimit.RedisStore); ok {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", redisStore.Ping))
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/api/v1/queries/validate", s.validateHandler.HandleValidate)
	mux.HandleFunc("/api/v1/projects/", s.settingsHandler.HandleSettings)
	mux.HandleFunc("/api/v1/audit", s.auditHandler.HandleList)
	mux.HandleFunc("/api/v1/stats", s.statsHandler.HandleStats)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		IPRateLimiter(backgroundCtx, s.cfg.Server.IPRateLimitRPS, s.cfg.Server.IPRateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, s.logger),
	}
	if s.cfg.Auth.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth.JWTSecret, skipAuthPaths, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// startBackgroundLoops 启动限流清扫与审计保留期清理
func (s *Server) startBackgroundLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.svc.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("background loops exited", zap.Error(err))
		}
	}()

	prev := s.backgroundCancel
	s.backgroundCancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	s.backgroundDone = done
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止后台循环
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}
	if s.backgroundDone != nil {
		<-s.backgroundDone
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 释放限流存储与遥测
	if s.limiterStore != nil {
		if err := s.limiterStore.Close(); err != nil {
			s.logger.Error("Rate limit store close error", zap.Error(err))
		}
	}
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
