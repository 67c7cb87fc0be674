package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shaiso/Stepwright/internal/backend"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/execution"
	"github.com/shaiso/Stepwright/internal/publisher"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// --- fakes ---

// memStore — хранилище шагов в памяти с возможностью упасть на шаге.
type memStore struct {
	mu       sync.Mutex
	steps    map[string][]domain.Step
	order    []int
	failStep int
}

func newMemStore() *memStore {
	return &memStore{steps: make(map[string][]domain.Step)}
}

func (s *memStore) ClearSteps(_ context.Context, tc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, tc)
	return nil
}

func (s *memStore) PutStep(_ context.Context, tc string, step domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStep != 0 && step.StepNumber == s.failStep {
		return errors.New("write failed")
	}
	s.steps[tc] = append(s.steps[tc], step)
	s.order = append(s.order, step.StepNumber)
	return nil
}

func (s *memStore) count(tc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps[tc])
}

type triggerFunc func(ctx context.Context, tc string) (domain.RunOutcome, error)

func (f triggerFunc) Execute(ctx context.Context, tc string) (domain.RunOutcome, error) {
	return f(ctx, tc)
}

type registryFunc func(tc string) (bool, error)

func (f registryFunc) Exists(_ context.Context, tc string) (bool, error) {
	return f(tc)
}

// passingTrigger — backend, который выполняет всё, что опубликовано в store.
func passingTrigger(store *memStore, calls *int) triggerFunc {
	return func(_ context.Context, tc string) (domain.RunOutcome, error) {
		*calls++
		n := store.count(tc)
		return domain.RunOutcome{
			Status:        domain.OutcomePass,
			TotalSteps:    n,
			PassedSteps:   n,
			ExecutionTime: 1500 * time.Millisecond,
		}, nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(store *memStore, trigger ExecutionTrigger, mutate func(*Config)) *Orchestrator {
	cfg := Config{
		Publisher: publisher.New(store, quietLogger()),
		Trigger:   trigger,
		Logger:    quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func openBrowser(n int) domain.Step {
	return domain.Step{
		TestCaseID:  "TC001",
		StepNumber:  n,
		Description: "Open site",
		ActionType:  domain.ActionOpenBrowser,
		Value:       "https://example.com",
	}
}

func click(n int) domain.Step {
	return domain.Step{
		TestCaseID:  "TC001",
		StepNumber:  n,
		Description: "Click go",
		ActionType:  domain.ActionClick,
		Locator:     "//button[@id='go']",
	}
}

// --- scenarios ---

func TestRun_PassScenario(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), nil)

	snap, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.Phase != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", snap.Phase)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}
	if calls != 1 {
		t.Errorf("expected exactly one execute call, got %d", calls)
	}

	o := snap.Outcome
	if o == nil {
		t.Fatal("outcome should be set")
	}
	if o.Status != domain.OutcomePass || o.TotalSteps != 2 || o.PassedSteps != 2 || o.FailedSteps != 0 {
		t.Errorf("unexpected outcome %+v", o)
	}
	if len(o.StepResults) != 2 || o.StepResults[0].StepNumber != 1 || o.StepResults[1].StepNumber != 2 {
		t.Errorf("expected synthesized results for steps 1,2, got %v", o.StepResults)
	}
	if snap.Summary != "PASS: 2/2 steps passed in 1.5s" {
		t.Errorf("unexpected summary %q", snap.Summary)
	}
	if len(snap.Log) == 0 || snap.FinishedAt == nil {
		t.Error("terminal snapshot should carry the log and finish time")
	}
}

func TestRun_PublishFailsOnSecondStep(t *testing.T) {
	store := newMemStore()
	store.failStep = 2
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), nil)

	snap, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2), click(3)}))

	var pubErr *domain.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected PublishError, got %v", err)
	}
	if pubErr.StepNumber != 2 {
		t.Errorf("expected step 2, got %d", pubErr.StepNumber)
	}
	if snap.Phase != domain.PhaseAborted {
		t.Errorf("expected ABORTED, got %s", snap.Phase)
	}
	if calls != 0 {
		t.Errorf("execute must not be called, got %d calls", calls)
	}

	// Прогресс остаётся на последнем значении: сохранён 1 шаг из 3
	if snap.Progress != 26 {
		t.Errorf("expected progress 26, got %d", snap.Progress)
	}
	// Частичная публикация не откатывается
	if store.count("TC001") != 1 {
		t.Errorf("expected 1 persisted step, got %d", store.count("TC001"))
	}
	if !strings.Contains(snap.Summary, "ABORTED during PUBLISHING") {
		t.Errorf("unexpected summary %q", snap.Summary)
	}
	if !strings.Contains(snap.Failure, "step 2") {
		t.Errorf("failure should name the step, got %q", snap.Failure)
	}
}

func TestRun_Preconditions(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), func(cfg *Config) {
		cfg.Registry = registryFunc(func(tc string) (bool, error) { return tc == "TC001", nil })
	})

	tests := []struct {
		name   string
		tc     string
		steps  []domain.Step
		wantIs error
	}{
		{"empty step list", "TC001", nil, domain.ErrEmptyStepSet},
		{"no test case selected", "  ", []domain.Step{openBrowser(1)}, domain.ErrMissingTestCase},
		{"unknown test case", "TC404", []domain.Step{openBrowser(1)}, domain.ErrUnknownTestCase},
		{"invalid step", "TC001", []domain.Step{{TestCaseID: "TC001", StepNumber: 1, Description: "x", ActionType: domain.ActionClick}}, nil},
		{"duplicate step numbers", "TC001", []domain.Step{click(1), click(1)}, domain.ErrDuplicateStepNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := orch.Run(context.Background(), tt.tc, domain.NewStepSet(tt.steps))
			if !domain.IsPrecondition(err) {
				t.Fatalf("expected PreconditionError, got %v", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("expected %v, got %v", tt.wantIs, err)
			}
			if snap.Phase != "" {
				t.Errorf("no session should be started, got phase %s", snap.Phase)
			}
		})
	}

	if len(store.order) != 0 || calls != 0 {
		t.Errorf("rejected runs must not touch storage or backend")
	}
}

func TestRun_RegistryError(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), func(cfg *Config) {
		cfg.Registry = registryFunc(func(string) (bool, error) { return false, errors.New("db down") })
	})

	_, err := orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))
	if err == nil || domain.IsPrecondition(err) {
		t.Fatalf("registry failure should be a plain error, got %v", err)
	}
}

func TestRun_PublishesInAscendingStepOrder(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), nil)

	_, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{click(2), openBrowser(1), click(5)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{1, 2, 5}
	if len(store.order) != len(want) {
		t.Fatalf("expected %v, got %v", want, store.order)
	}
	for i := range want {
		if store.order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, store.order)
		}
	}
}

func TestRun_ReplaceAllOnRerun(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), nil)

	first, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2), click(3)}))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Outcome.TotalSteps != 3 {
		t.Errorf("first run: expected 3 steps, got %d", first.Outcome.TotalSteps)
	}
	if second.Outcome.TotalSteps != 2 {
		t.Errorf("second run: expected 2 steps, got %d (stale StepSet)", second.Outcome.TotalSteps)
	}
	if first.RunID == second.RunID {
		t.Error("every run should get a fresh session")
	}
	if calls != 2 {
		t.Errorf("each run should trigger execution, got %d calls", calls)
	}
}

func TestRun_FailOutcomeIsCompleted(t *testing.T) {
	store := newMemStore()
	trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
		return domain.RunOutcome{
			Status:      domain.OutcomeFail,
			TotalSteps:  2,
			PassedSteps: 1,
			FailedSteps: 1,
			StepResults: []domain.StepResult{
				{StepNumber: 1, Status: domain.OutcomePass},
				{StepNumber: 2, Status: domain.OutcomeFail},
			},
			ErrorMessage: "Step 2: element not found",
		}, nil
	})
	orch := newTestOrchestrator(store, trigger, nil)

	snap, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))
	if err != nil {
		t.Fatalf("step failure is not an error, got %v", err)
	}
	if snap.Phase != domain.PhaseCompleted || snap.Outcome.Status != domain.OutcomeFail {
		t.Errorf("expected COMPLETED/FAIL, got %s/%v", snap.Phase, snap.Outcome)
	}
	if snap.Progress != 100 {
		t.Errorf("expected progress 100, got %d", snap.Progress)
	}

	var sawStepFailure bool
	for _, e := range snap.Log {
		if e.Message == "Step 2: FAIL" {
			sawStepFailure = true
		}
	}
	if !sawStepFailure {
		t.Error("log should list per-step results")
	}
}

func TestRun_FailWithoutBreakdownIsCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"success": true, "status": "FAIL",
			"total_steps": 3, "passed_steps": 2, "failed_steps": 1,
			"execution_time": "0:00:04.512000",
			"error": "Step 3: element not found;"
		}`))
	}))
	defer srv.Close()

	store := newMemStore()
	trigger := execution.New(backend.New(backend.Config{BaseURL: srv.URL}), quietLogger())
	orch := newTestOrchestrator(store, trigger, nil)

	snap, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2), click(3)}))
	if err != nil {
		t.Fatalf("step failure is not an error, got %v", err)
	}
	if snap.Phase != domain.PhaseCompleted || snap.Outcome.Status != domain.OutcomeFail {
		t.Fatalf("expected COMPLETED/FAIL, got %s/%v", snap.Phase, snap.Outcome)
	}

	want := []domain.StepResult{
		{StepNumber: 1, Status: domain.OutcomePass},
		{StepNumber: 2, Status: domain.OutcomePass},
		{StepNumber: 3, Status: domain.OutcomeFail},
	}
	if !slices.Equal(snap.Outcome.StepResults, want) {
		t.Errorf("expected failures attributed from error text, got %v", snap.Outcome.StepResults)
	}
}

func TestRun_FailWithUnattributedStepsIsCompleted(t *testing.T) {
	store := newMemStore()
	trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
		return domain.RunOutcome{
			Status:       domain.OutcomeFail,
			TotalSteps:   2,
			PassedSteps:  1,
			FailedSteps:  1,
			ErrorMessage: "browser crashed",
		}, nil
	})
	orch := newTestOrchestrator(store, trigger, nil)

	snap, err := orch.Run(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))
	if err != nil {
		t.Fatalf("step failure is not an error, got %v", err)
	}
	if snap.Phase != domain.PhaseCompleted || snap.Outcome.Status != domain.OutcomeFail {
		t.Fatalf("expected COMPLETED/FAIL, got %s/%v", snap.Phase, snap.Outcome)
	}
	if snap.Outcome.StepResults != nil {
		t.Errorf("step results should stay unknown, got %v", snap.Outcome.StepResults)
	}
	if snap.Outcome.FailedSteps != 1 || snap.Outcome.ErrorMessage != "browser crashed" {
		t.Errorf("unexpected outcome %+v", snap.Outcome)
	}
}

func TestRun_ExecutionErrorAborts(t *testing.T) {
	store := newMemStore()
	cause := errors.New("backend unavailable")
	trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
		return domain.RunOutcome{}, &domain.ExecutionError{Cause: cause}
	})
	orch := newTestOrchestrator(store, trigger, nil)

	snap, err := orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))

	var execErr *domain.ExecutionError
	if !errors.As(err, &execErr) || !errors.Is(err, cause) {
		t.Fatalf("expected ExecutionError wrapping the cause, got %v", err)
	}
	if snap.Phase != domain.PhaseAborted {
		t.Errorf("expected ABORTED, got %s", snap.Phase)
	}
	if snap.Progress != 40 {
		t.Errorf("progress should stay at 40, got %d", snap.Progress)
	}
	last := snap.Log[len(snap.Log)-1].Message
	if !strings.Contains(last, "backend unavailable") {
		t.Errorf("log should record the cause, got %q", last)
	}
	if !strings.Contains(snap.Summary, "ABORTED during TRIGGERING") {
		t.Errorf("unexpected summary %q", snap.Summary)
	}
}

func TestRun_OutcomeMismatchAborts(t *testing.T) {
	tests := []struct {
		name    string
		outcome domain.RunOutcome
	}{
		{"total differs from published steps", domain.RunOutcome{
			Status: domain.OutcomePass, TotalSteps: 3, PassedSteps: 3,
		}},
		{"results for unknown steps", domain.RunOutcome{
			Status: domain.OutcomePass, TotalSteps: 2, PassedSteps: 2,
			StepResults: []domain.StepResult{{StepNumber: 1, Status: domain.OutcomePass}, {StepNumber: 7, Status: domain.OutcomePass}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
				return tt.outcome, nil
			})
			orch := newTestOrchestrator(newMemStore(), trigger, nil)

			snap, err := orch.Run(context.Background(), "TC001",
				domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))

			var execErr *domain.ExecutionError
			if !errors.As(err, &execErr) || !errors.Is(err, domain.ErrInvalidOutcome) {
				t.Fatalf("expected ExecutionError(ErrInvalidOutcome), got %v", err)
			}
			if snap.Phase != domain.PhaseAborted {
				t.Errorf("expected ABORTED, got %s", snap.Phase)
			}
		})
	}
}

func TestRun_TimeoutAborts(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	trigger := triggerFunc(func(context.Context, string) (domain.RunOutcome, error) {
		<-release
		return domain.RunOutcome{}, errors.New("too late")
	})
	orch := newTestOrchestrator(newMemStore(), trigger, func(cfg *Config) {
		cfg.Timeout = 50 * time.Millisecond
	})

	snap, err := orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if snap.Phase != domain.PhaseAborted {
		t.Errorf("expected ABORTED, got %s", snap.Phase)
	}
	if snap.Failure != "timeout" {
		t.Errorf("expected failure cause timeout, got %q", snap.Failure)
	}
}

func TestDrive_ObserverSeesMonotonicProgress(t *testing.T) {
	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), nil)

	session, err := orch.Prepare(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{openBrowser(1), click(2), click(3), click(4)}))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if session.Phase() != domain.PhaseIdle {
		t.Fatalf("prepared session should be IDLE, got %s", session.Phase())
	}

	var snaps []RunSnapshot
	final, err := orch.Drive(context.Background(), session, func(s RunSnapshot) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatalf("drive: %v", err)
	}

	if len(snaps) < 3 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	if snaps[0].Phase != domain.PhasePublishing || snaps[0].Progress != 20 {
		t.Errorf("first snapshot: expected PUBLISHING/20, got %s/%d", snaps[0].Phase, snaps[0].Progress)
	}

	var sawTriggering bool
	for i, s := range snaps {
		if i > 0 && s.Progress < snaps[i-1].Progress {
			t.Errorf("progress decreased: %d → %d", snaps[i-1].Progress, s.Progress)
		}
		if s.Phase == domain.PhaseTriggering {
			sawTriggering = true
			if s.Progress != 40 {
				t.Errorf("TRIGGERING should report 40, got %d", s.Progress)
			}
		}
	}
	if !sawTriggering {
		t.Error("observer should see TRIGGERING")
	}

	last := snaps[len(snaps)-1]
	if last.Phase != domain.PhaseCompleted || last.Progress != 100 {
		t.Errorf("last snapshot: expected COMPLETED/100, got %s/%d", last.Phase, last.Progress)
	}
	if last.RunID != final.RunID {
		t.Error("observer and result should describe the same run")
	}

	// Сессию нельзя провести повторно
	if _, err := orch.Drive(context.Background(), session, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second drive, got %v", err)
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	store := newMemStore()
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), func(cfg *Config) {
		cfg.Metrics = metrics
	})
	orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1), click(2)}))

	store.failStep = 1
	orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))

	if got := testutil.ToFloat64(metrics.runsStarted); got != 2 {
		t.Errorf("runs started: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runsFinished.WithLabelValues("COMPLETED", "PASS")); got != 1 {
		t.Errorf("completed/pass: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runsFinished.WithLabelValues("ABORTED", "none")); got != 1 {
		t.Errorf("aborted: expected 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.stepResults.WithLabelValues("PASS")); got != 2 {
		t.Errorf("step results: expected 2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("active runs: expected 0, got %v", got)
	}
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	store := newMemStore()
	store.failStep = 1
	var calls int
	orch := newTestOrchestrator(store, passingTrigger(store, &calls), func(cfg *Config) {
		cfg.Tracer = provider.Tracer("orchestrator-test")
	})
	orch.Run(context.Background(), "TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}))

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	if !names["run"] || !names["publish"] {
		t.Errorf("expected run and publish spans, got %v", names)
	}
	if names["execute"] {
		t.Error("execute span must not exist when publishing failed")
	}
}

func TestSession_IgnoresUpdatesAfterTerminal(t *testing.T) {
	s := newSession("TC001", domain.NewStepSet([]domain.Step{openBrowser(1)}), time.Now)
	if err := s.transition(domain.PhasePublishing, progressPublishing, "start"); err != nil {
		t.Fatal(err)
	}
	if !s.abort(domain.ErrTimeout) {
		t.Fatal("abort should succeed from PUBLISHING")
	}

	logLen := len(s.Snapshot().Log)
	if s.advance(90, "late step") {
		t.Error("advance after abort should be ignored")
	}
	s.logf("late message")
	if s.abort(errors.New("second")) {
		t.Error("second abort should be ignored")
	}

	snap := s.Snapshot()
	if len(snap.Log) != logLen || snap.Progress != progressPublishing || snap.Failure != "timeout" {
		t.Errorf("terminal session changed: %+v", snap)
	}
}
