package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/mq"
	"go.uber.org/multierr"
)

// RunRequester ставит запрос на run в очередь (mq.Publisher).
type RunRequester interface {
	PublishRunRequested(ctx context.Context, payload mq.RunRequestedPayload) error
}

// PersistedRunner запускает опубликованный StepSet напрямую (orchestrator.Service).
type PersistedRunner interface {
	RunPersisted(ctx context.Context, testCaseID string) (uuid.UUID, error)
}

// Leader решает, должен ли этот экземпляр выполнять тик (repo.AdvisoryLock).
type Leader interface {
	Acquire(ctx context.Context) (bool, error)
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedules []domain.Schedule

	// Requests — если задан, due schedules уходят в очередь runs.requested.
	Requests RunRequester

	// Runner — используется, когда брокера нет.
	Runner PersistedRunner

	// Leader — опционально: без него тикает каждый экземпляр.
	Leader Leader

	Logger *slog.Logger
}

// Scheduler перезапускает опубликованные StepSets по расписанию.
// Состояние расписаний (NextDueAt, LastRunAt) хранится в памяти.
type Scheduler struct {
	requests RunRequester
	runner   PersistedRunner
	leader   Leader
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	schedules []domain.Schedule
}

// New проверяет расписания и вычисляет первые NextDueAt.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Requests == nil && cfg.Runner == nil {
		return nil, errors.New("scheduler: either Requests or Runner is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		requests:  cfg.Requests,
		runner:    cfg.Runner,
		leader:    cfg.Leader,
		logger:    logger,
		now:       time.Now,
		schedules: make([]domain.Schedule, len(cfg.Schedules)),
	}
	copy(s.schedules, cfg.Schedules)

	var errs error
	now := s.now()
	for i := range s.schedules {
		sched := &s.schedules[i]
		if err := ValidateSchedule(sched); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !sched.Enabled {
			continue
		}
		next, err := CalculateNextDue(sched, now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		sched.NextDueAt = &next
	}
	if errs != nil {
		return nil, errs
	}

	return s, nil
}

// Run вызывает Tick с интервалом tick до отмены ctx.
// Если задан Leader, тик выполняется только лидером.
func (s *Scheduler) Run(ctx context.Context, tick time.Duration) {
	tk := time.NewTicker(tick)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if s.leader != nil {
				ok, err := s.leader.Acquire(ctx)
				if err != nil {
					s.logger.Warn("leader election failed", "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Tick запускает все due schedules.
// Ошибка одного schedule не блокирует остальные: NextDueAt всё равно
// сдвигается, пропущенный перезапуск не повторяется.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due, triggered int
	var errs error

	for i := range s.schedules {
		sched := &s.schedules[i]
		if !sched.IsDue(now) {
			continue
		}
		due++

		runID, err := s.trigger(ctx, sched)
		if err != nil {
			s.logger.Error("failed to trigger schedule",
				"schedule", sched.Name,
				"test_case_id", sched.TestCaseID,
				"error", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: %w", sched.Name, err))
		} else {
			triggered++
		}

		next, err := CalculateNextDue(sched, now)
		if err != nil {
			// Расписание проверено в New, сюда попадать не должны
			sched.Enabled = false
			errs = multierr.Append(errs, err)
			continue
		}
		sched.RecordRun(runID, now.UTC(), next)
	}

	if due > 0 {
		s.logger.Info("scheduler tick completed", "due", due, "triggered", triggered)
	}
	return errs
}

// trigger запрашивает run для schedule.
// При работе через очередь ID run ещё неизвестен — возвращается uuid.Nil.
func (s *Scheduler) trigger(ctx context.Context, sched *domain.Schedule) (uuid.UUID, error) {
	if s.requests != nil {
		err := s.requests.PublishRunRequested(ctx, mq.RunRequestedPayload{
			TestCaseID:  sched.TestCaseID,
			RequestedBy: "schedule:" + sched.Name,
		})
		if err != nil {
			return uuid.Nil, fmt.Errorf("publish run.requested: %w", err)
		}
		s.logger.Info("run requested by schedule", "schedule", sched.Name, "test_case_id", sched.TestCaseID)
		return uuid.Nil, nil
	}

	runID, err := s.runner.RunPersisted(ctx, sched.TestCaseID)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("run started by schedule", "schedule", sched.Name, "run_id", runID)
	return runID, nil
}

// Schedules возвращает копию расписаний с текущим состоянием.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Schedule, len(s.schedules))
	copy(out, s.schedules)
	return out
}
