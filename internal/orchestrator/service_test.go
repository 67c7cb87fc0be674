package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/mq"
)

// recordingStore — memStore с чтением шагов и сохранением результатов.
type recordingStore struct {
	*memStore

	mu      sync.Mutex
	results []domain.RunResult
	listErr error
}

func (s *recordingStore) ListSteps(_ context.Context, tc string) ([]domain.Step, error) {
	s.memStore.mu.Lock()
	defer s.memStore.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]domain.Step(nil), s.memStore.steps[tc]...), nil
}

func (s *recordingStore) SaveResult(_ context.Context, r domain.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *recordingStore) savedResults() []domain.RunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RunResult(nil), s.results...)
}

type recordingEvents struct {
	mu       sync.Mutex
	updated  []mq.RunEventPayload
	finished []mq.RunEventPayload
}

func (e *recordingEvents) PublishRunUpdated(_ context.Context, p mq.RunEventPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updated = append(e.updated, p)
	return nil
}

func (e *recordingEvents) PublishRunFinished(_ context.Context, p mq.RunEventPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, p)
	return nil
}

func newTestService(t *testing.T, trigger ExecutionTrigger, retention int) (*Service, *recordingStore, *recordingEvents) {
	t.Helper()

	store := &recordingStore{memStore: newMemStore()}
	if trigger == nil {
		var calls int
		trigger = passingTrigger(store.memStore, &calls)
	}
	events := &recordingEvents{}

	svc := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(store.memStore, trigger, nil),
		Steps:        store,
		Results:      store,
		Events:       events,
		Retention:    retention,
		Logger:       quietLogger(),
	})
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	return svc, store, events
}

func waitRun(t *testing.T, svc *Service, runID uuid.UUID) RunSnapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := svc.Wait(ctx, runID)
	if err != nil {
		t.Fatalf("wait run %s: %v", runID, err)
	}
	return snap
}

func TestService_SubmitCompletesAndSavesResult(t *testing.T) {
	svc, store, events := newTestService(t, nil, 0)

	runID, err := svc.Submit(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := waitRun(t, svc, runID)
	if snap.Phase != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", snap.Phase)
	}

	results := store.savedResults()
	if len(results) != 1 {
		t.Fatalf("expected one saved result, got %d", len(results))
	}
	if results[0].RunID != runID || results[0].TestCaseID != "TC001" || !results[0].Passed() {
		t.Errorf("unexpected result %+v", results[0])
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.updated) == 0 {
		t.Error("expected run.updated events")
	}
	if len(events.finished) != 1 || events.finished[0].Phase != domain.PhaseCompleted {
		t.Errorf("expected one run.finished COMPLETED event, got %+v", events.finished)
	}
}

func TestService_AbortedRunIsNotSaved(t *testing.T) {
	trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: errors.New("connection refused")}
	})
	svc, store, events := newTestService(t, trigger, 0)

	runID, err := svc.Submit(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := waitRun(t, svc, runID)
	if snap.Phase != domain.PhaseAborted {
		t.Fatalf("expected ABORTED, got %s", snap.Phase)
	}
	if n := len(store.savedResults()); n != 0 {
		t.Errorf("aborted run must not produce a result, got %d", n)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.finished) != 1 || events.finished[0].Error == "" {
		t.Errorf("finished event should carry the failure, got %+v", events.finished)
	}
}

func TestService_SubmitRejectsPrecondition(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)

	_, err := svc.Submit(context.Background(), "TC001", domain.NewStepSet(nil))
	if !domain.IsPrecondition(err) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
	if len(svc.Runs()) != 0 {
		t.Error("rejected run must not be registered")
	}
}

func TestService_RunPersisted(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 0)

	if _, err := svc.RunPersisted(context.Background(), "TC001"); !errors.Is(err, domain.ErrEmptyStepSet) {
		t.Fatalf("expected ErrEmptyStepSet for empty partition, got %v", err)
	}

	first, err := svc.Submit(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2), click(3)}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitRun(t, svc, first)

	rerun, err := svc.RunPersisted(context.Background(), "TC001")
	if err != nil {
		t.Fatalf("run persisted: %v", err)
	}
	snap := waitRun(t, svc, rerun)
	if snap.Phase != domain.PhaseCompleted || snap.Outcome.TotalSteps != 3 {
		t.Errorf("expected rerun of 3 steps, got %s %+v", snap.Phase, snap.Outcome)
	}
}

func TestService_SnapshotAndRetention(t *testing.T) {
	svc, _, _ := newTestService(t, nil, 2)

	if _, err := svc.Snapshot(uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := svc.Submit(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		waitRun(t, svc, id)
		ids = append(ids, id)
	}

	if _, err := svc.Snapshot(ids[0]); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("oldest run should be evicted, got %v", err)
	}
	for _, id := range ids[1:] {
		snap, err := svc.Snapshot(id)
		if err != nil || snap.RunID != id {
			t.Errorf("run %s should be retained: %v", id, err)
		}
	}
	if n := len(svc.Runs()); n != 2 {
		t.Errorf("expected 2 retained runs, got %d", n)
	}
}

func TestService_HandleRunRequested(t *testing.T) {
	svc, store, _ := newTestService(t, nil, 0)

	delivery := func(t *testing.T, payload mq.RunRequestedPayload) *mq.Delivery {
		t.Helper()
		body, err := json.Marshal(mq.NewMessage(mq.MessageTypeRunRequested, payload))
		if err != nil {
			t.Fatal(err)
		}
		var msg mq.Message
		if err := json.Unmarshal(body, &msg); err != nil {
			t.Fatal(err)
		}
		return &mq.Delivery{Message: msg}
	}

	err := svc.HandleRunRequested(context.Background(), delivery(t, mq.RunRequestedPayload{
		TestCaseID:  "TC001",
		Steps:       []domain.Step{openBrowser(1), click(2)},
		RequestedBy: "scheduler",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	runs := svc.Runs()
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	waitRun(t, svc, runs[0].RunID)
	if n := len(store.savedResults()); n != 1 {
		t.Errorf("expected saved result, got %d", n)
	}

	// Перезапускать нечего: сообщение уходит в DLQ
	err = svc.HandleRunRequested(context.Background(), delivery(t, mq.RunRequestedPayload{TestCaseID: "TC404"}))
	if !errors.Is(err, mq.ErrPermanent) {
		t.Errorf("expected permanent error, got %v", err)
	}

	// Сбой хранилища временный: сообщение возвращается в очередь
	store.memStore.mu.Lock()
	store.listErr = errors.New("connection reset")
	store.memStore.mu.Unlock()
	err = svc.HandleRunRequested(context.Background(), delivery(t, mq.RunRequestedPayload{TestCaseID: "TC001"}))
	if err == nil || errors.Is(err, mq.ErrPermanent) {
		t.Errorf("expected retryable error, got %v", err)
	}

	// Без хранилища шагов перезапуск не выполнить никогда
	bare := NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(newMemStore(), passingTrigger(newMemStore(), new(int)), nil),
		Logger:       quietLogger(),
	})
	t.Cleanup(func() { bare.Shutdown(context.Background()) })
	err = bare.HandleRunRequested(context.Background(), delivery(t, mq.RunRequestedPayload{TestCaseID: "TC001"}))
	if !errors.Is(err, mq.ErrPermanent) || !errors.Is(err, ErrNoStepStorage) {
		t.Errorf("expected permanent ErrNoStepStorage, got %v", err)
	}
}

func TestService_Shutdown(t *testing.T) {
	release := make(chan struct{})
	trigger := triggerFunc(func(ctx context.Context, _ string) (domain.RunOutcome, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.RunOutcome{}, ctx.Err()
		}
		return domain.RunOutcome{Status: domain.OutcomePass, TotalSteps: 1, PassedSteps: 1}, nil
	})
	svc, _, _ := newTestService(t, trigger, 0)

	runID, err := svc.Submit(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(release)

	snap, err := svc.Snapshot(runID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Phase != domain.PhaseAborted {
		t.Errorf("interrupted run should be ABORTED, got %s", snap.Phase)
	}

	if _, err := svc.Submit(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)})); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
