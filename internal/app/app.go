// Package app собирает зависимости сервисов Stepwright из config.Config.
//
// Общая сборка для cmd/stepwright-api и cmd/stepwright-scheduler:
// хранилище по драйверу, клиент backend, orchestrator.Service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/shaiso/Stepwright/internal/api"
	"github.com/shaiso/Stepwright/internal/backend"
	"github.com/shaiso/Stepwright/internal/config"
	"github.com/shaiso/Stepwright/internal/execution"
	"github.com/shaiso/Stepwright/internal/mq"
	"github.com/shaiso/Stepwright/internal/orchestrator"
	"github.com/shaiso/Stepwright/internal/publisher"
	"github.com/shaiso/Stepwright/internal/repo"
	"github.com/shaiso/Stepwright/internal/telemetry"
)

// ResultStore — сохранение и чтение результатов runs.
type ResultStore interface {
	orchestrator.ResultStore
	api.ResultReader
}

// Stores — хранилища, выбранные драйвером.
//
// При драйвере backend шаги пишутся через HTTP API backend,
// а Lister, Results и Registry не заданы.
type Stores struct {
	Steps    publisher.Store
	Lister   orchestrator.StepLister
	Results  ResultStore
	Registry orchestrator.TestCaseRegistry

	// Pool — только для postgres (advisory lock scheduler).
	Pool *pgxpool.Pool

	closers []func() error
}

// Close закрывает открытые соединения.
func (s *Stores) Close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	s.closers = nil
	return errs
}

// NewBackend создаёт клиент backend из конфигурации.
func NewBackend(cfg config.BackendConfig) *backend.Client {
	return backend.New(backend.Config{
		BaseURL:        cfg.URL,
		Timeout:        cfg.Timeout,
		ExecuteTimeout: cfg.ExecuteTimeout,
	})
}

// OpenStores открывает хранилище по cfg.Store.Driver.
func OpenStores(ctx context.Context, cfg *config.Config, client *backend.Client, logger *slog.Logger) (*Stores, error) {
	stores := &Stores{}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := repo.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := repo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		stores.closers = append(stores.closers, func() error {
			pool.Close()
			return nil
		})

		stepRepo := repo.NewStepRepo(pool)
		stores.Steps = stepRepo
		stores.Lister = stepRepo
		stores.Results = repo.NewResultRepo(pool)
		stores.Pool = pool
		if cfg.Run.VerifyTestCase {
			stores.Registry = repo.NewTestCaseRepo(pool)
		}
		logger.Info("database connected", "driver", cfg.Store.Driver)

	case config.DriverSQLite:
		store, err := repo.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		stores.closers = append(stores.closers, store.Close)

		stores.Steps = store
		stores.Lister = store
		stores.Results = store
		if cfg.Run.VerifyTestCase {
			stores.Registry = store
		}
		logger.Info("database opened", "driver", cfg.Store.Driver, "path", cfg.Store.SQLitePath)

	case config.DriverBackend:
		stores.Steps = client
		logger.Info("steps are published through backend", "url", cfg.Backend.URL)

	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}

	return stores, nil
}

// ServiceDeps — внешние зависимости orchestrator.Service.
type ServiceDeps struct {
	Stores  *Stores
	Backend *backend.Client

	// Conn — опционально: без брокера события не публикуются,
	// а очередь runs.requested не слушается.
	Conn *mq.Connection

	// Registerer — опционально: метрики orchestrator.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// NewService собирает orchestrator.Service: publisher, trigger,
// orchestrator и, при наличии брокера, публикацию событий.
func NewService(cfg *config.Config, deps ServiceDeps) *orchestrator.Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *orchestrator.Metrics
	if deps.Registerer != nil {
		metrics = orchestrator.NewMetrics(deps.Registerer)
	}

	orch := orchestrator.New(orchestrator.Config{
		Publisher: publisher.New(deps.Stores.Steps, logger),
		Trigger:   execution.New(deps.Backend, logger),
		Registry:  deps.Stores.Registry,
		Timeout:   cfg.Run.Timeout,
		Metrics:   metrics,
		Tracer:    telemetry.Tracer(),
		Logger:    logger,
	})

	svcCfg := orchestrator.ServiceConfig{
		Orchestrator: orch,
		Retention:    cfg.Run.Retention,
		Logger:       logger,
	}
	if deps.Stores.Lister != nil {
		svcCfg.Steps = deps.Stores.Lister
	}
	if deps.Stores.Results != nil {
		svcCfg.Results = deps.Stores.Results
	}
	if deps.Conn != nil {
		svcCfg.Events = mq.NewPublisher(deps.Conn, logger)
		svcCfg.Conn = deps.Conn
	}

	return orchestrator.NewService(svcCfg)
}

// ConnectBroker подключается к RabbitMQ и объявляет топологию.
// Пустой URL или недоступный брокер — работа без брокера (nil).
func ConnectBroker(ctx context.Context, url string, logger *slog.Logger) *mq.Connection {
	if url == "" {
		logger.Info("RabbitMQ is not configured")
		return nil
	}

	conn, err := mq.NewConnection(url, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without broker", "error", err)
		return nil
	}

	if err := mq.SetupTopology(ctx, conn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}
	logger.Info("RabbitMQ connected")
	return conn
}
