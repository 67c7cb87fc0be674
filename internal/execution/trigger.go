// Package execution — ExecutionTrigger: запуск выполнения опубликованного
// StepSet и интерпретация ответа backend'а в domain.RunOutcome.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Stepwright/internal/backend"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/telemetry"
)

// Backend — Remote Execution Backend.
type Backend interface {
	Execute(ctx context.Context, testCaseID string) (*backend.ExecuteResponse, error)
}

// Trigger запускает выполнение и возвращает RunOutcome.
type Trigger struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New создаёт Trigger.
func New(b Backend, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{backend: b, logger: logger, now: time.Now}
}

// Execute просит backend выполнить опубликованный StepSet test case.
//
// Упавшие шаги — это успешный RunOutcome со статусом FAIL.
// *domain.ExecutionError возвращается, если backend недоступен,
// ответ некорректен или backend сообщил о внутренней ошибке.
//
// Если step_results в ответе нет, StepResults остаётся nil:
// номера шагов знает только вызывающая сторона
// (см. domain.PassedResults и domain.AttributeFailures).
func (t *Trigger) Execute(ctx context.Context, testCaseID string) (domain.RunOutcome, error) {
	started := t.now()

	resp, err := t.backend.Execute(ctx, testCaseID)
	if err != nil {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: err}
	}
	elapsed := t.now().Sub(started)

	outcome, err := interpret(resp, elapsed)
	if err != nil {
		telemetry.FromContext(ctx, t.logger.With("test_case", testCaseID)).
			Warn("backend response rejected", "error", err)
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: err}
	}

	return outcome, nil
}

// interpret переводит ответ backend'а в RunOutcome и проверяет инварианты.
func interpret(resp *backend.ExecuteResponse, elapsed time.Duration) (domain.RunOutcome, error) {
	status, err := domain.ParseOutcomeStatus(resp.Status)
	if err != nil {
		return domain.RunOutcome{}, fmt.Errorf("%w: %v", backend.ErrMalformedResponse, err)
	}

	results, present, err := resp.Results()
	if err != nil {
		return domain.RunOutcome{}, err
	}

	duration, ok := resp.Duration()
	if !ok {
		duration = elapsed
	}

	outcome := domain.RunOutcome{
		Status:        status,
		TotalSteps:    resp.TotalSteps,
		PassedSteps:   resp.PassedSteps,
		FailedSteps:   resp.FailedSteps,
		ExecutionTime: duration,
		StepResults:   results,
	}

	if status == domain.OutcomeFail {
		outcome.ErrorMessage = resp.FailureText()
		if outcome.ErrorMessage == "" {
			outcome.ErrorMessage = fmt.Sprintf("%d of %d steps failed", resp.FailedSteps, resp.TotalSteps)
		}
	}

	if present && results == nil {
		outcome.StepResults = []domain.StepResult{}
	}
	if err := outcome.Validate(); err != nil {
		return domain.RunOutcome{}, err
	}
	return outcome, nil
}
