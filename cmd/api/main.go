package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/mockinterview/internal/api/router"
	"github.com/wolfman30/mockinterview/internal/app/bootstrap"
	appconfig "github.com/wolfman30/mockinterview/internal/config"
	"github.com/wolfman30/mockinterview/internal/history"
	httpmiddleware "github.com/wolfman30/mockinterview/internal/http/middleware"
	"github.com/wolfman30/mockinterview/internal/interview"
	"github.com/wolfman30/mockinterview/internal/ledger"
	"github.com/wolfman30/mockinterview/internal/observability/metrics"
	"github.com/wolfman30/mockinterview/internal/proxy"
	"github.com/wolfman30/mockinterview/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting mockinterview API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if cfg.TavusAPIKey == "" {
		logger.Warn("TAVUS_API_KEY not set; interviews fail until clients supply a key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, interviewMetrics := setupMetrics()
	tavus := bootstrap.BuildTavusClient(cfg, logger)
	healthChecks := map[string]router.HealthCheck{}

	// Conversation ledger: Redis when configured so replicas can sweep each
	// other's orphans.
	owner := instanceID()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	convLedger := bootstrap.BuildLedger(redisClient, cfg, owner, logger)
	trackers := interview.Trackers{convLedger}

	// Interview history (optional)
	var historyReader interview.HistoryReader
	var historyStore *history.Store
	if pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		historyStore = history.NewStore(pool)
		trackers = append(trackers, historyStore)
		historyReader = historyStore
		healthChecks["postgres"] = pool.Ping
		logger.Info("interview history enabled")
	}

	defaults := bootstrap.InterviewDefaults(cfg, trackers, interviewMetrics, logger)
	registry := interview.NewRegistry(tavus, defaults)
	interviewHandler := interview.NewHandler(registry, historyReader, logger)
	proxyHandler := proxy.NewWSHandler(
		proxy.KeyedClient(tavus),
		defaults,
		cfg.TavusAPIKey,
		httpmiddleware.NewOriginPolicy(cfg.CORSAllowedOrigins),
	)
	limiter := httpmiddleware.NewRateLimiter(cfg.CreateRatePerMin/60, cfg.CreateBurst)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		InterviewHandler:   interviewHandler,
		ProxyHandler:       proxyHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CandidateJWTSecret: cfg.CandidateJWTSecret,
		CreateLimiter:      limiter,
		HealthChecks:       healthChecks,
	})

	// Create HTTP server. Creates wait on the vendor, so writes get the vendor
	// timeout plus headroom.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TavusTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sweeper := ledger.NewSweeper(convLedger, tavus, logger).
		WithInterval(cfg.OrphanSweepInterval).
		WithHeartbeatTTL(cfg.InstanceHeartbeatTTL).
		WithMetrics(interviewMetrics)
	if historyStore != nil {
		sweeper = sweeper.WithTracker(historyStore)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr, "instance", owner)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return registry.Run(gctx, cfg.SessionReapInterval, cfg.SessionIdleTTL)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
		}
		if err := proxyHandler.Shutdown(shutdownCtx); err != nil {
			logger.Warn("proxy connections still tearing down", "error", err)
		}
		if err := registry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("interview sessions still tearing down", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupMetrics builds the Prometheus registry exposed on /metrics.
func setupMetrics() (http.Handler, *metrics.InterviewMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	interviewMetrics := metrics.NewInterviewMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), interviewMetrics
}

// instanceID names this process in the conversation ledger.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "api"
	}
	return host + "-" + uuid.NewString()[:8]
}
