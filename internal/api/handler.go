package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/orchestrator"
)

// RunService — запуск runs и чтение их снимков (orchestrator.Service).
type RunService interface {
	Submit(ctx context.Context, testCaseID string, steps domain.StepSet) (uuid.UUID, error)
	RunPersisted(ctx context.Context, testCaseID string) (uuid.UUID, error)
	Snapshot(runID uuid.UUID) (orchestrator.RunSnapshot, error)
	Runs() []orchestrator.RunSnapshot
}

// StepReader читает опубликованный StepSet.
type StepReader interface {
	ListSteps(ctx context.Context, testCaseID string) ([]domain.Step, error)
}

// ResultReader читает историю результатов.
type ResultReader interface {
	ListResults(ctx context.Context, testCaseID string, limit int) ([]domain.RunResult, error)
}

// ScheduleLister отдаёт расписания с текущим состоянием (scheduler.Scheduler).
type ScheduleLister interface {
	Schedules() []domain.Schedule
}

// Handler — главный обработчик API с зависимостями.
// Группа маршрутов регистрируется, только если её зависимость задана.
type Handler struct {
	runs      RunService
	steps     StepReader
	results   ResultReader
	schedules ScheduleLister
	metrics   Middleware
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs      RunService
	Steps     StepReader
	Results   ResultReader
	Schedules ScheduleLister

	// Registerer — опционально: если задан, запросы считаются в Prometheus.
	Registerer prometheus.Registerer

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var metrics Middleware
	if cfg.Registerer != nil {
		metrics = Metrics(cfg.Registerer)
	}

	return &Handler{
		runs:      cfg.Runs,
		steps:     cfg.Steps,
		results:   cfg.Results,
		schedules: cfg.Schedules,
		metrics:   metrics,
		logger:    logger,
	}
}
