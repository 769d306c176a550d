// sweeper periodically flags sessions past their expiry. Run one instance
// alongside the servers; the sweep is idempotent so overlap is harmless.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"org-security-engine/internal/audit"
	auditrepo "org-security-engine/internal/audit/repository"
	"org-security-engine/internal/clock"
	"org-security-engine/internal/config"
	"org-security-engine/internal/db"
	"org-security-engine/internal/device"
	devicerepo "org-security-engine/internal/device/repository"
	"org-security-engine/internal/metrics"
	"org-security-engine/internal/risk"
	sessionrepo "org-security-engine/internal/session/repository"
	sessionservice "org-security-engine/internal/session/service"
)

func main() {
	interval := flag.Duration("interval", 5*time.Minute, "time between sweeps")
	metricsAddr := flag.String("metrics-addr", ":9091", "address for the metrics endpoint")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer database.Close()

	clk := clock.Real{}
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(database), clk, logger, cfg.AuditDeadline())
	sessions := sessionservice.NewManager(
		sessionrepo.NewPostgresRepository(database),
		devicerepo.NewPostgresRepository(database),
		device.NewResolver(clk, nil),
		risk.NewEngine(risk.DefaultConfig(), clk),
		auditLogger,
		clk,
		logger,
		sessionservice.DefaultTTLPolicy(),
	)

	m := metrics.New(prometheus.DefaultRegisterer)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			logger.Warn("metrics endpoint", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sweeper started", zap.Duration("interval", *interval))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sweep(ctx, sessions, logger, m)
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			sweep(ctx, sessions, logger, m)
		}
	}
}

type expiredSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

func sweep(ctx context.Context, sessions expiredSweeper, logger *zap.Logger, m *metrics.Metrics) {
	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := sessions.CleanupExpired(sctx)
	if err != nil {
		logger.Error("sweep failed", zap.Error(err))
		return
	}
	m.SessionsSwept.Add(float64(n))
}
