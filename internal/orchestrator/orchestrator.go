package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/publisher"
	"github.com/shaiso/Stepwright/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepPublisher — replace-all публикация StepSet (publisher.Publisher).
type StepPublisher interface {
	Publish(ctx context.Context, testCaseID string, steps domain.StepSet, onProgress publisher.ProgressFunc) error
}

// ExecutionTrigger — запуск выполнения опубликованного StepSet (execution.Trigger).
type ExecutionTrigger interface {
	Execute(ctx context.Context, testCaseID string) (domain.RunOutcome, error)
}

// TestCaseRegistry — реестр test cases (repo.TestCaseRepo, repo.SQLiteStore).
type TestCaseRegistry interface {
	Exists(ctx context.Context, testCaseID string) (bool, error)
}

// Observer получает снимок после каждого изменения сессии.
// Вызовы последовательны; последний вызов несёт финальную фазу.
type Observer func(RunSnapshot)

// Config — конфигурация Orchestrator.
type Config struct {
	Publisher StepPublisher
	Trigger   ExecutionTrigger

	// Registry — опционально: если задан, неизвестный test case
	// отклоняется до старта сессии.
	Registry TestCaseRegistry

	// Timeout — предельное время run. 0 — без ограничения.
	// По истечении run переходит в ABORTED с причиной timeout.
	Timeout time.Duration

	// Metrics — опционально.
	Metrics *Metrics

	// Tracer — по умолчанию tracer из глобального провайдера.
	Tracer trace.Tracer

	Logger *slog.Logger
}

// Orchestrator проводит run через фазы PUBLISHING → TRIGGERING → COMPLETED.
//
// Между вызовами состояния нет: каждый run получает новую RunSession,
// повторный run того же test case заново публикует шаги и заново
// запускает выполнение. Разные test cases можно запускать параллельно.
// Ошибки публикации и выполнения не повторяются автоматически.
type Orchestrator struct {
	publisher StepPublisher
	trigger   ExecutionTrigger
	registry  TestCaseRegistry
	timeout   time.Duration
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		publisher: cfg.Publisher,
		trigger:   cfg.Trigger,
		registry:  cfg.Registry,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
		tracer:    tracer,
		logger:    logger,
		now:       time.Now,
	}
}

// Run проверяет вход и проводит run до финальной фазы.
//
// Некорректный вход — *domain.PreconditionError, сессия не создаётся.
// COMPLETED (PASS или FAIL) — ошибка nil. ABORTED — снимок и причина:
// *domain.PublishError, *domain.ExecutionError или domain.ErrTimeout.
func (o *Orchestrator) Run(ctx context.Context, testCaseID string, steps domain.StepSet) (RunSnapshot, error) {
	session, err := o.Prepare(ctx, testCaseID, steps)
	if err != nil {
		return RunSnapshot{}, err
	}
	return o.Drive(ctx, session, nil)
}

// Prepare проверяет предусловия и создаёт сессию в фазе IDLE.
func (o *Orchestrator) Prepare(ctx context.Context, testCaseID string, steps domain.StepSet) (*RunSession, error) {
	testCaseID = strings.TrimSpace(testCaseID)
	if testCaseID == "" {
		return nil, &domain.PreconditionError{Cause: domain.ErrMissingTestCase}
	}
	if err := steps.Validate(); err != nil {
		return nil, &domain.PreconditionError{Cause: err}
	}

	if o.registry != nil {
		exists, err := o.registry.Exists(ctx, testCaseID)
		if err != nil {
			return nil, fmt.Errorf("check test case %q: %w", testCaseID, err)
		}
		if !exists {
			return nil, &domain.PreconditionError{Cause: fmt.Errorf("%w: %s", domain.ErrUnknownTestCase, testCaseID)}
		}
	}

	return newSession(testCaseID, steps, o.now), nil
}

// Drive проводит подготовленную сессию до финальной фазы.
// Сессию можно провести только один раз.
func (o *Orchestrator) Drive(ctx context.Context, session *RunSession, observer Observer) (RunSnapshot, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	logger := telemetry.WithTestCase(telemetry.WithRunID(o.logger, session.ID().String()), session.TestCaseID())
	ctx = telemetry.WithLogger(ctx, logger)
	n := &notifier{observer: observer, session: session}

	ctx, span := o.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", session.ID().String()),
		attribute.String("test_case.id", session.TestCaseID()),
		attribute.Int("run.steps", session.Steps().Len()),
	))

	if err := session.transition(domain.PhasePublishing, progressPublishing,
		fmt.Sprintf("Publishing %d steps for test case %s", session.Steps().Len(), session.TestCaseID())); err != nil {
		telemetry.EndSpan(span, err)
		return session.Snapshot(), err
	}
	o.metrics.runStarted()
	logger.Info("run started", "steps", session.Steps().Len())
	n.notify()

	err := o.publish(ctx, session, n)
	if err == nil {
		err = o.execute(ctx, session, n)
	}
	if err != nil {
		session.abort(err)
	}

	snap := n.finish()
	o.metrics.runFinished(snap)
	telemetry.EndSpan(span, err)

	if err != nil {
		logger.Warn("run aborted", "error", err, "progress", snap.Progress)
		return snap, err
	}
	logger.Info("run completed",
		"status", snap.Outcome.Status,
		"passed", snap.Outcome.PassedSteps,
		"failed", snap.Outcome.FailedSteps,
		"execution_time", snap.Outcome.ExecutionTime,
	)
	return snap, nil
}

// publish — фаза PUBLISHING: прогресс растёт с 20 до 40 по мере сохранения шагов.
func (o *Orchestrator) publish(ctx context.Context, session *RunSession, n *notifier) error {
	ctx, span := o.tracer.Start(ctx, "publish")

	_, err := await(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.publisher.Publish(ctx, session.TestCaseID(), session.Steps(),
			func(step domain.Step, persisted, total int) {
				progress := progressPublishing + (progressTriggering-progressPublishing)*persisted/total
				if session.advance(progress, fmt.Sprintf("Step %d saved", step.StepNumber)) {
					n.notify()
				}
			})
	})
	err = interrupted(ctx, err)
	telemetry.EndSpan(span, err)
	return err
}

// execute — фаза TRIGGERING: один вызов backend'а, затем COMPLETED.
func (o *Orchestrator) execute(ctx context.Context, session *RunSession, n *notifier) error {
	if err := session.transition(domain.PhaseTriggering, progressTriggering, triggeringMessage); err != nil {
		return err
	}
	n.notify()

	ctx, span := o.tracer.Start(ctx, "execute")

	outcome, err := await(ctx, func(ctx context.Context) (domain.RunOutcome, error) {
		return o.trigger.Execute(ctx, session.TestCaseID())
	})
	err = interrupted(ctx, err)
	if err == nil {
		outcome, err = reconcile(outcome, session.Steps())
	}
	if err == nil {
		span.SetAttributes(
			attribute.String("outcome.status", string(outcome.Status)),
			attribute.Int("outcome.failed_steps", outcome.FailedSteps),
		)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}

	return session.complete(outcome)
}

// triggeringMessage — запись лога при переходе в TRIGGERING.
const triggeringMessage = "All steps published, triggering execution"

// reconcile сверяет RunOutcome с опубликованным StepSet.
//
// Backend должен отчитаться ровно о тех шагах, что были опубликованы:
// иначе он выполнил чужой или устаревший StepSet. Без разбивки по шагам
// она строится из номеров StepSet: все PASS, если упавших нет, иначе по
// "Step N: ..." в тексте ошибки. Если упавшие шаги не определить,
// StepResults остаётся nil, а run всё равно завершается с FAIL.
func reconcile(outcome domain.RunOutcome, steps domain.StepSet) (domain.RunOutcome, error) {
	if outcome.TotalSteps != steps.Len() {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: fmt.Errorf(
			"%w: backend reported %d steps, %d were published",
			domain.ErrInvalidOutcome, outcome.TotalSteps, steps.Len())}
	}

	numbers := steps.StepNumbers()
	if outcome.StepResults == nil {
		if outcome.FailedSteps == 0 {
			outcome.StepResults = domain.PassedResults(numbers)
		} else {
			outcome.StepResults = domain.AttributeFailures(numbers, outcome.ErrorMessage, outcome.FailedSteps)
		}
	}

	if err := outcome.Validate(); err != nil {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: err}
	}
	if outcome.StepResults == nil {
		return outcome, nil
	}

	reported := make([]int, len(outcome.StepResults))
	for i, r := range outcome.StepResults {
		reported[i] = r.StepNumber
	}
	slices.Sort(reported)
	if !slices.Equal(reported, numbers) {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: fmt.Errorf(
			"%w: step results %v do not match published steps %v",
			domain.ErrInvalidOutcome, reported, numbers)}
	}

	return outcome, nil
}

// await ждёт fn или отмены ctx — что наступит раньше.
// Вызов, начатый в fn, не прерывается: его поздний результат отбрасывается.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// interrupted заменяет ошибку на domain.ErrTimeout, если run упёрся в дедлайн.
func interrupted(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTimeout
	}
	return err
}

// notifier последовательно доставляет снимки наблюдателю.
// После финального снимка поздние уведомления отбрасываются.
type notifier struct {
	observer Observer
	session  *RunSession

	mu   sync.Mutex
	done bool
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done || n.observer == nil {
		return
	}
	n.observer(n.session.Snapshot())
}

func (n *notifier) finish() RunSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	snap := n.session.Snapshot()
	if !n.done && n.observer != nil {
		n.observer(snap)
	}
	n.done = true
	return snap
}
