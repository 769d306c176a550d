package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"org-security-engine/internal/audit"
	auditrepo "org-security-engine/internal/audit/repository"
	"org-security-engine/internal/authz"
	"org-security-engine/internal/clock"
	"org-security-engine/internal/config"
	"org-security-engine/internal/db"
	"org-security-engine/internal/device"
	devicerepo "org-security-engine/internal/device/repository"
	identityrepo "org-security-engine/internal/identity/repository"
	identityservice "org-security-engine/internal/identity/service"
	membershiprepo "org-security-engine/internal/membership/repository"
	"org-security-engine/internal/metrics"
	organizationrepo "org-security-engine/internal/organization/repository"
	"org-security-engine/internal/ratelimit"
	"org-security-engine/internal/risk"
	"org-security-engine/internal/security"
	"org-security-engine/internal/server"
	sessionrepo "org-security-engine/internal/session/repository"
	sessionservice "org-security-engine/internal/session/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	clk := clock.Real{}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(database), clk, logger, cfg.AuditDeadline())

	riskCfg := risk.DefaultConfig()
	riskCfg.ThresholdElevated = cfg.RiskThresholdElevated
	riskCfg.ThresholdHighRisk = cfg.RiskThresholdHighRisk
	riskCfg.ThresholdCritical = cfg.RiskThresholdCritical
	riskCfg.SuspiciousHourStart = cfg.SuspiciousHourStart
	riskCfg.SuspiciousHourEnd = cfg.SuspiciousHourEnd
	riskCfg.TrustedCountries = cfg.TrustedCountryList()
	riskCfg.HighRiskCountries = cfg.HighRiskCountryList()
	riskCfg.MaxConcurrentSessions = cfg.MaxConcurrentSessions

	sessions := sessionservice.NewManager(
		sessionrepo.NewPostgresRepository(database),
		devicerepo.NewPostgresRepository(database),
		device.NewResolver(clk, nil),
		risk.NewEngine(riskCfg, clk),
		auditLogger,
		clk,
		logger,
		sessionservice.TTLPolicy{
			Normal:   cfg.TTLNormal(),
			Elevated: cfg.TTLElevated(),
			HighRisk: cfg.TTLHighRisk(),
			Critical: cfg.TTLCritical(),
		},
	)

	limiter := ratelimit.NewLimiter(redisClient, "login", cfg.RateLimitMaxAttempts, cfg.RateWindow())

	auth := identityservice.NewAuthService(
		identityrepo.NewPostgresRepository(database),
		sessions,
		limiter,
		security.NewHasher(cfg.BcryptCost),
		auditLogger,
		nil,
		clk,
		logger,
		identityservice.Config{
			MaxAttempts:     cfg.LoginMaxAttempts,
			LockoutDuration: cfg.LockoutDuration(),
			ResetTokenTTL:   cfg.ResetTTL(),
		},
	)

	router := server.NewRouter(server.Deps{
		Auth:            auth,
		Sessions:        sessions,
		Audit:           auditLogger,
		Guard:           authz.NewGuard(membershiprepo.NewPostgresRepository(database)),
		Orgs:            organizationrepo.NewPostgresRepository(database),
		Metrics:         metrics.New(prometheus.DefaultRegisterer),
		Limiter:         limiter,
		Log:             logger,
		DB:              database,
		ValidateTimeout: cfg.ValidateDeadline(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	if !auditLogger.Drain(5 * time.Second) {
		logger.Warn("audit drain timed out; some events may be lost")
	}
	logger.Info("stopped")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zcfg zap.Config
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
