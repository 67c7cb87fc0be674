// Stepwright Scheduler — регрессионные перезапуски по расписанию.
//
// Scheduler:
//   - Читает расписания из конфигурации
//   - На каждом тике находит due schedules
//   - Отправляет runs.requested в RabbitMQ, а без брокера
//     запускает опубликованный StepSet сам
//   - При postgres тикает только лидер (advisory lock)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Stepwright/internal/api"
	"github.com/shaiso/Stepwright/internal/app"
	"github.com/shaiso/Stepwright/internal/config"
	"github.com/shaiso/Stepwright/internal/mq"
	"github.com/shaiso/Stepwright/internal/orchestrator"
	"github.com/shaiso/Stepwright/internal/repo"
	"github.com/shaiso/Stepwright/internal/scheduler"
	"github.com/shaiso/Stepwright/internal/telemetry"
)

var startTime = time.Now()

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting stepwright-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing := telemetry.SetupTracing("stepwright-scheduler", logger)

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := app.NewBackend(cfg.Backend)

	stores, err := app.OpenStores(ctx, cfg, client, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	schedCfg := scheduler.Config{
		Schedules: cfg.Schedules,
		Logger:    logger,
	}

	// RabbitMQ или локальный запуск
	var svc *orchestrator.Service
	if mqConn := app.ConnectBroker(ctx, cfg.RabbitMQ.URL, logger); mqConn != nil {
		defer mqConn.Close()
		schedCfg.Requests = mq.NewPublisher(mqConn, logger)
	} else {
		logger.Info("due schedules will run in-process")
		svc = app.NewService(cfg, app.ServiceDeps{
			Stores:     stores,
			Backend:    client,
			Registerer: prometheus.DefaultRegisterer,
			Logger:     logger,
		})
		schedCfg.Runner = svc
	}

	// Лидерство через advisory lock
	var lock *repo.AdvisoryLock
	if stores.Pool != nil {
		lock = repo.NewAdvisoryLock(stores.Pool, repo.SchedulerLockKey)
		schedCfg.Leader = lock
	}

	sched, err := scheduler.New(schedCfg)
	if err != nil {
		logger.Error("invalid schedules", "error", err)
		os.Exit(1)
	}
	logger.Info("schedules loaded", "count", len(cfg.Schedules), "tick", cfg.Scheduler.Tick)

	// HTTP mux: /healthz + /metrics + /api/v1/schedules
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{
		Schedules: sched,
		Logger:    logger,
	}).RegisterRoutes(mux)

	addr := cfg.Scheduler.Addr()
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// scheduler loop до сигнала завершения
	sched.Run(ctx, cfg.Scheduler.Tick)
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if svc != nil {
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("active runs aborted on shutdown", "error", err)
		}
	}
	if lock != nil {
		if err := lock.Release(shutdownCtx); err != nil {
			logger.Warn("failed to release scheduler lock", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stepwright-scheduler stopped")
}
