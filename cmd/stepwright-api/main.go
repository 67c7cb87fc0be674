// Stepwright API — HTTP API и оркестратор runs.
//
// API:
//   - Принимает StepSet и запускает run (publish → execute)
//   - Отдаёт прогресс, лог и итог run
//   - Читает опубликованные шаги и историю результатов
//   - Слушает очередь runs.requested, если RabbitMQ доступен
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
	"github.com/shaiso/Stepwright/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting stepwright-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing := telemetry.SetupTracing("stepwright-api", logger)

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

	// RabbitMQ
	mqConn := app.ConnectBroker(ctx, cfg.RabbitMQ.URL, logger)
	if mqConn != nil {
		defer mqConn.Close()
	}

	svc := app.NewService(cfg, app.ServiceDeps{
		Stores:     stores,
		Backend:    client,
		Conn:       mqConn,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logger,
	})
	svc.Start(ctx)

	apiCfg := api.Config{
		Runs:       svc,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logger,
	}
	if stores.Lister != nil {
		apiCfg.Steps = stores.Lister
	}
	if stores.Results != nil {
		apiCfg.Results = stores.Results
	}
	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := cfg.API.Addr()
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("active runs aborted on shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("stopped")
}
