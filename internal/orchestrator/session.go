package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
)

// Значения прогресса по фазам.
const (
	progressPublishing = 20
	progressTriggering = 40
	progressCompleted  = 100
)

// LogEntry — запись лога сессии.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// String форматирует запись как "[15:04:05] message".
func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", e.At.Format(time.TimeOnly), e.Message)
}

// RunSnapshot — неизменяемый снимок RunSession для наблюдателей.
type RunSnapshot struct {
	RunID      uuid.UUID          `json:"run_id"`
	TestCaseID string             `json:"test_case_id"`
	Phase      domain.Phase       `json:"phase"`
	Progress   int                `json:"progress"`
	Log        []LogEntry         `json:"log"`
	Outcome    *domain.RunOutcome `json:"outcome,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Summary    string             `json:"summary,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// IsTerminal возвращает true, если run завершён.
func (s RunSnapshot) IsTerminal() bool {
	return s.Phase.IsTerminal()
}

// RunSession — состояние одного run.
//
// Принадлежит оркестратору: меняется только им, наружу уходит
// через Snapshot. Лог только дополняется. После перехода в финальную
// фазу сессия больше не меняется: поздние обновления прогресса
// (например, от публикации, которая продолжилась после таймаута)
// игнорируются.
type RunSession struct {
	id         uuid.UUID
	testCaseID string
	steps      domain.StepSet
	now        func() time.Time

	mu         sync.RWMutex
	phase      domain.Phase
	progress   int
	log        []LogEntry
	outcome    *domain.RunOutcome
	failure    error
	abortedIn  domain.Phase
	startedAt  time.Time
	finishedAt *time.Time
}

func newSession(testCaseID string, steps domain.StepSet, now func() time.Time) *RunSession {
	return &RunSession{
		id:         uuid.New(),
		testCaseID: testCaseID,
		steps:      steps,
		now:        now,
		phase:      domain.PhaseIdle,
		startedAt:  now().UTC(),
	}
}

// ID возвращает идентификатор run.
func (s *RunSession) ID() uuid.UUID { return s.id }

// TestCaseID возвращает test case run.
func (s *RunSession) TestCaseID() string { return s.testCaseID }

// Steps возвращает замороженный StepSet run.
func (s *RunSession) Steps() domain.StepSet { return s.steps }

// Phase возвращает текущую фазу.
func (s *RunSession) Phase() domain.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Err возвращает причину ABORTED (nil для остальных фаз).
func (s *RunSession) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// transition переводит сессию в следующую фазу и пишет лог.
func (s *RunSession) transition(next domain.Phase, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.CanTransition(next) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.phase, next)
	}
	s.phase = next
	if progress > s.progress {
		s.progress = progress
	}
	s.appendLocked(message)
	return nil
}

// advance поднимает прогресс внутри текущей фазы. Прогресс не убывает.
func (s *RunSession) advance(progress int, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.IsTerminal() {
		return false
	}
	if progress > s.progress {
		s.progress = min(progress, progressCompleted)
	}
	if message != "" {
		s.appendLocked(message)
	}
	return true
}

// logf дописывает сообщение в лог (кроме завершённой сессии).
func (s *RunSession) logf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.IsTerminal() {
		return
	}
	s.appendLocked(fmt.Sprintf(format, args...))
}

// complete переводит сессию в COMPLETED.
func (s *RunSession) complete(outcome domain.RunOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.CanTransition(domain.PhaseCompleted) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.phase, domain.PhaseCompleted)
	}

	for _, r := range outcome.StepResults {
		s.appendLocked(fmt.Sprintf("Step %d: %s", r.StepNumber, r.Status))
	}
	if outcome.ErrorMessage != "" {
		s.appendLocked("Error: " + outcome.ErrorMessage)
	}

	s.phase = domain.PhaseCompleted
	s.progress = progressCompleted
	s.outcome = &outcome
	s.finishLocked()
	s.appendLocked("Run completed: " + outcome.Summary())
	return nil
}

// abort переводит сессию в ABORTED. Прогресс остаётся на последнем значении.
// Повторный abort (или abort после COMPLETED) игнорируется.
func (s *RunSession) abort(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.CanTransition(domain.PhaseAborted) {
		return false
	}

	s.abortedIn = s.phase
	s.phase = domain.PhaseAborted
	s.failure = cause
	s.finishLocked()
	s.appendLocked("Run aborted: " + cause.Error())
	return true
}

func (s *RunSession) finishLocked() {
	at := s.now().UTC()
	s.finishedAt = &at
}

func (s *RunSession) appendLocked(message string) {
	s.log = append(s.log, LogEntry{At: s.now().UTC(), Message: message})
}

// Snapshot возвращает копию состояния сессии.
func (s *RunSession) Snapshot() RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := RunSnapshot{
		RunID:      s.id,
		TestCaseID: s.testCaseID,
		Phase:      s.phase,
		Progress:   s.progress,
		Log:        append([]LogEntry(nil), s.log...),
		StartedAt:  s.startedAt,
	}

	if s.outcome != nil {
		outcome := *s.outcome
		outcome.StepResults = append([]domain.StepResult(nil), s.outcome.StepResults...)
		snap.Outcome = &outcome
		snap.Summary = outcome.Summary()
	}
	if s.failure != nil {
		snap.Failure = s.failure.Error()
		snap.Summary = fmt.Sprintf("ABORTED during %s: %v", s.abortedIn, s.failure)
	}
	if s.finishedAt != nil {
		at := *s.finishedAt
		snap.FinishedAt = &at
	}

	return snap
}
