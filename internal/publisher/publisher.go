// Package publisher — StepPublisher: replace-all публикация StepSet.
package publisher

import (
	"context"
	"log/slog"

	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/telemetry"
)

// Store — хранилище шагов с разделом на каждый test case.
//
// Реализации: repo.StepRepo (Postgres), repo.SQLiteStore, backend.Client.
type Store interface {
	ClearSteps(ctx context.Context, testCaseID string) error
	PutStep(ctx context.Context, testCaseID string, step domain.Step) error
}

// ProgressFunc вызывается после каждого сохранённого шага.
// persisted — сколько шагов уже сохранено, total — размер StepSet.
type ProgressFunc func(step domain.Step, persisted, total int)

// Publisher публикует StepSet в Store.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// New создаёт Publisher.
func New(store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish заменяет опубликованный StepSet test case на steps.
//
// Раздел очищается, затем шаги сохраняются по одному в порядке
// возрастания StepNumber. На первой ошибке возвращается *domain.PublishError,
// уже сохранённые шаги остаются. Некорректный вход — *domain.PreconditionError,
// хранилище при этом не трогается.
func (p *Publisher) Publish(ctx context.Context, testCaseID string, steps domain.StepSet, onProgress ProgressFunc) error {
	if testCaseID == "" {
		return &domain.PreconditionError{Cause: domain.ErrMissingTestCase}
	}
	if err := steps.Validate(); err != nil {
		return &domain.PreconditionError{Cause: err}
	}

	if err := p.store.ClearSteps(ctx, testCaseID); err != nil {
		return &domain.PublishError{Cause: err}
	}

	logger := telemetry.FromContext(ctx, p.logger.With("test_case", testCaseID))
	sorted := steps.Sorted()
	for i, step := range sorted {
		if err := p.store.PutStep(ctx, testCaseID, step); err != nil {
			logger.Warn("step publish failed",
				"step_no", step.StepNumber,
				"persisted", i,
				"error", err,
			)
			return &domain.PublishError{StepNumber: step.StepNumber, Cause: err}
		}
		if onProgress != nil {
			onProgress(step, i+1, len(sorted))
		}
	}

	logger.Debug("steps published", "count", len(sorted))
	return nil
}
