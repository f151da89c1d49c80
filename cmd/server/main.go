// Package main is the entrypoint for the FaaS control plane server.
//
// This server orchestrates the engine described in SPEC_FULL.md by:
//   - Accepting function deployments via POST /deploy
//   - Executing functions via POST /execute/{id}, through the two-level
//     Admission Controller and the Sandbox Runner
//   - Managing function records in MinIO (S3-compatible)
//   - Streaming live logs over WebSocket
//   - Serving Prometheus metrics and periodically sweeping stale CPU quotas
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/vortex/faas-engine/internal/admission"
	"github.com/vortex/faas-engine/internal/api"
	"github.com/vortex/faas-engine/internal/config"
	"github.com/vortex/faas-engine/internal/engine"
	"github.com/vortex/faas-engine/internal/execlog"
	"github.com/vortex/faas-engine/internal/logging"
	"github.com/vortex/faas-engine/internal/metrics"
	"github.com/vortex/faas-engine/internal/quota"
	"github.com/vortex/faas-engine/internal/runner"
	"github.com/vortex/faas-engine/internal/store"
	"github.com/vortex/faas-engine/internal/ws"
)

func main() {
	log := logging.New("server")
	log.Info().Msg("starting faas-engine control plane")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Str("endpoint", cfg.MinIO.Endpoint).Msg("connecting to MinIO")
	blobStore, err := store.NewBlobStore(ctx, cfg.MinIO, logging.New("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("connecting to Redis")
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("failed to reach Redis")
	}

	quotaStore := quota.NewRedisStore(redisClient)
	execLog := execlog.NewRedisLog(redisClient)
	admissionCtrl := admission.New(quotaStore, cfg.MaxMachineInstances, cfg.MaxUserConcurrent, cfg.MaxUserCPUMs)
	sandboxRunner := runner.New(runner.Config{
		InterpreterPath: cfg.InterpreterPath,
		DefaultDeadline: time.Duration(cfg.MaxWallMs) * time.Millisecond,
	}, logging.New("runner"))

	metricsReg, promReg := metrics.New()
	logPublisher := ws.NewPublisher(redisClient, logging.New("ws"))

	eng := engine.New(engine.Deps{
		Admission:    admissionCtrl,
		Runner:       sandboxRunner,
		Quota:        quotaStore,
		Log:          execLog,
		LogStream:    logPublisher.Publish,
		Metrics:      metricsReg,
		MaxWallMs:    cfg.MaxWallMs,
		MaxUserCPUMs: cfg.MaxUserCPUMs,
		Logger:       logging.New("engine"),
	})

	handler := api.NewHandler(blobStore, quotaStore, eng, logging.New("api"))
	wsHandler := ws.NewHandler(redisClient, logging.New("ws"))

	// Periodic CPU-quota sweep (SPEC_FULL §7): resets any owner's cpu_ms
	// whose reset_at has aged past the configured interval.
	sched := cron.New()
	sweepLog := logging.New("quota-sweep")
	if _, err := sched.AddFunc("@hourly", func() {
		n, err := quotaStore.ResetCPUIfOlderThan(ctx, cfg.QuotaResetInterval)
		if err != nil {
			sweepLog.Warn().Err(err).Msg("quota sweep failed")
			return
		}
		sweepLog.Info().Int("owners_reset", n).Msg("quota sweep complete")
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule quota sweep")
	}
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	handler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(promReg),
	}

	go func() {
		log.Info().Str("addr", cfg.ServerAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	_ = metricsServer.Shutdown(shutdownCtx)

	log.Info().Msg("server stopped")
}
