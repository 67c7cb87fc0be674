package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/mq"
)

// StepLister читает опубликованный StepSet (repo.StepRepo, repo.SQLiteStore).
type StepLister interface {
	ListSteps(ctx context.Context, testCaseID string) ([]domain.Step, error)
}

// ResultStore сохраняет результаты COMPLETED runs.
type ResultStore interface {
	SaveResult(ctx context.Context, result domain.RunResult) error
}

// EventPublisher публикует события run (mq.Publisher).
type EventPublisher interface {
	PublishRunUpdated(ctx context.Context, payload mq.RunEventPayload) error
	PublishRunFinished(ctx context.Context, payload mq.RunEventPayload) error
}

// DefaultRetention — сколько завершённых сессий хранится в памяти.
const DefaultRetention = 100

// eventTimeout — предельное время публикации одного события.
const eventTimeout = 5 * time.Second

// ServiceConfig — конфигурация Service.
type ServiceConfig struct {
	Orchestrator *Orchestrator

	// Steps — нужен для RunPersisted.
	Steps StepLister

	// Results — опционально.
	Results ResultStore

	// Events — опционально.
	Events EventPublisher

	// Conn — опционально: если задан, Start слушает очередь runs.requested.
	Conn *mq.Connection

	// Retention — лимит завершённых сессий. 0 — DefaultRetention.
	Retention int

	Logger *slog.Logger
}

// Service запускает runs в фоне и хранит снимки недавних сессий.
type Service struct {
	orch      *Orchestrator
	steps     StepLister
	results   ResultStore
	events    EventPublisher
	conn      *mq.Connection
	retention int
	logger    *slog.Logger

	stopConsumer context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	runs     map[uuid.UUID]*runEntry
	finished []uuid.UUID
	stopped  bool
}

// runEntry — сессия и сигнал её завершения.
type runEntry struct {
	session *RunSession
	done    chan struct{}
}

// NewService создаёт новый Service.
func NewService(cfg ServiceConfig) *Service {
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		orch:      cfg.Orchestrator,
		steps:     cfg.Steps,
		results:   cfg.Results,
		events:    cfg.Events,
		conn:      cfg.Conn,
		retention: retention,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[uuid.UUID]*runEntry),
	}
}

// Start запускает consumer очереди runs.requested.
// Без подключения к RabbitMQ runs принимаются только через Submit.
func (s *Service) Start(ctx context.Context) {
	if s.conn == nil {
		return
	}

	consumer := mq.NewConsumer(s.conn, s.logger, mq.ConsumerConfig{
		Queue:   string(mq.QueueRunsRequested),
		Handler: s.HandleRunRequested,
	})

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopConsumer = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("runs.requested consumer stopped", "error", err)
		}
	}()
}

// Submit проверяет предусловия и запускает run в фоне.
// Ошибка предусловия возвращается сразу, сессия не создаётся.
func (s *Service) Submit(ctx context.Context, testCaseID string, steps domain.StepSet) (uuid.UUID, error) {
	if s.isStopped() {
		return uuid.Nil, ErrServiceStopped
	}

	session, err := s.orch.Prepare(ctx, testCaseID, steps)
	if err != nil {
		return uuid.Nil, err
	}

	entry := &runEntry{session: session, done: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return uuid.Nil, ErrServiceStopped
	}
	s.runs[session.ID()] = entry
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drive(entry)

	return session.ID(), nil
}

// RunPersisted перезапускает StepSet, уже опубликованный для test case.
func (s *Service) RunPersisted(ctx context.Context, testCaseID string) (uuid.UUID, error) {
	if s.steps == nil {
		return uuid.Nil, ErrNoStepStorage
	}

	steps, err := s.steps.ListSteps(ctx, testCaseID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list steps: %w", err)
	}
	if len(steps) == 0 {
		return uuid.Nil, &domain.PreconditionError{
			Cause: fmt.Errorf("%w: nothing published for %s", domain.ErrEmptyStepSet, testCaseID),
		}
	}

	return s.Submit(ctx, testCaseID, domain.NewStepSet(steps))
}

// Snapshot возвращает текущий снимок run.
func (s *Service) Snapshot(runID uuid.UUID) (RunSnapshot, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return RunSnapshot{}, ErrRunNotFound
	}
	return entry.session.Snapshot(), nil
}

// Runs возвращает снимки всех хранимых runs, новые первыми.
func (s *Service) Runs() []RunSnapshot {
	s.mu.RLock()
	snaps := make([]RunSnapshot, 0, len(s.runs))
	for _, entry := range s.runs {
		snaps = append(snaps, entry.session.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}

// Wait ждёт финальной фазы run.
func (s *Service) Wait(ctx context.Context, runID uuid.UUID) (RunSnapshot, error) {
	s.mu.RLock()
	entry, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return RunSnapshot{}, ErrRunNotFound
	}

	select {
	case <-entry.done:
		return entry.session.Snapshot(), nil
	case <-ctx.Done():
		return entry.session.Snapshot(), ctx.Err()
	}
}

// HandleRunRequested — обработчик очереди runs.requested.
//
// Пустой список шагов — перезапуск опубликованного StepSet.
// Запрос с нарушенным предусловием уходит в DLQ. Остальные ошибки
// (остановка сервиса, сбой хранилища или registry) возвращают его в очередь.
func (s *Service) HandleRunRequested(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](&d.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	var runID uuid.UUID
	if len(payload.Steps) == 0 {
		runID, err = s.RunPersisted(ctx, payload.TestCaseID)
	} else {
		runID, err = s.Submit(ctx, payload.TestCaseID, domain.NewStepSet(payload.Steps))
	}

	switch {
	case domain.IsPrecondition(err), errors.Is(err, ErrNoStepStorage):
		return mq.Permanent(err)
	case err != nil:
		return err
	}

	s.logger.Info("run requested",
		"run_id", runID,
		"test_case_id", payload.TestCaseID,
		"requested_by", payload.RequestedBy,
	)
	return nil
}

// Shutdown перестаёт принимать runs и ждёт активные.
// Если ctx истёк раньше, активные runs прерываются.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	stopConsumer := s.stopConsumer
	s.mu.Unlock()

	if stopConsumer != nil {
		stopConsumer()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Service) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// drive проводит run и обрабатывает его итог.
func (s *Service) drive(entry *runEntry) {
	defer s.wg.Done()
	defer close(entry.done)

	session := entry.session
	snap, err := s.orch.Drive(s.ctx, session, func(snap RunSnapshot) {
		if !snap.IsTerminal() {
			s.publishEvent(snap, false)
		}
	})

	if err == nil && snap.Outcome != nil && s.results != nil {
		result := domain.NewRunResult(snap.RunID, snap.TestCaseID, *snap.Outcome)
		if err := s.results.SaveResult(s.ctx, result); err != nil {
			s.logger.Error("failed to save run result",
				"run_id", snap.RunID,
				"test_case_id", snap.TestCaseID,
				"error", err,
			)
		}
	}

	s.publishEvent(snap, true)
	s.markFinished(session.ID())
}

// publishEvent отправляет run.updated или run.finished.
// Ошибка публикации не влияет на run.
func (s *Service) publishEvent(snap RunSnapshot, final bool) {
	if s.events == nil {
		return
	}

	payload := mq.RunEventPayload{
		RunID:      snap.RunID,
		TestCaseID: snap.TestCaseID,
		Phase:      snap.Phase,
		Progress:   snap.Progress,
		Outcome:    snap.Outcome,
		Error:      snap.Failure,
	}
	if n := len(snap.Log); n > 0 {
		payload.Message = snap.Log[n-1].Message
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), eventTimeout)
	defer cancel()

	var err error
	if final {
		err = s.events.PublishRunFinished(ctx, payload)
	} else {
		err = s.events.PublishRunUpdated(ctx, payload)
	}
	if err != nil {
		s.logger.Warn("failed to publish run event",
			"run_id", snap.RunID,
			"phase", snap.Phase,
			"error", err,
		)
	}
}

// markFinished помечает run завершённым и вытесняет самые старые
// завершённые сессии сверх лимита.
func (s *Service) markFinished(runID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finished = append(s.finished, runID)
	for len(s.finished) > s.retention {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}
