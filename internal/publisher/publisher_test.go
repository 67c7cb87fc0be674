package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	steps    map[string][]domain.Step
	calls    []string
	failStep int
	failErr  error
	clearErr error
}

func newMemStore() *memStore {
	return &memStore{steps: make(map[string][]domain.Step)}
}

func (s *memStore) ClearSteps(_ context.Context, tc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "clear")
	if s.clearErr != nil {
		return s.clearErr
	}
	delete(s.steps, tc)
	return nil
}

func (s *memStore) PutStep(_ context.Context, tc string, step domain.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "put")
	if s.failStep != 0 && step.StepNumber == s.failStep {
		return s.failErr
	}
	s.steps[tc] = append(s.steps[tc], step)
	return nil
}

func step(n int) domain.Step {
	return domain.Step{
		TestCaseID:  "TC001",
		StepNumber:  n,
		Description: "Click",
		ActionType:  domain.ActionClick,
		Locator:     "//a",
	}
}

func TestPublish_ReplaceAllInStepOrder(t *testing.T) {
	store := newMemStore()
	store.steps["TC001"] = []domain.Step{step(9)}
	p := New(store, nil)

	var progress []int
	err := p.Publish(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{step(3), step(1), step(2)}),
		func(_ domain.Step, persisted, total int) {
			assert.Equal(t, 3, total)
			progress = append(progress, persisted)
		})
	require.NoError(t, err)

	got := store.steps["TC001"]
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].StepNumber, got[1].StepNumber, got[2].StepNumber})
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, []string{"clear", "put", "put", "put"}, store.calls)
}

func TestPublish_StopsOnFirstFailure(t *testing.T) {
	store := newMemStore()
	store.failStep = 2
	store.failErr = errors.New("connection reset")
	p := New(store, nil)

	err := p.Publish(context.Background(), "TC001",
		domain.NewStepSet([]domain.Step{step(1), step(2), step(3)}), nil)

	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, 2, pubErr.StepNumber)
	assert.ErrorIs(t, err, store.failErr)

	// Шаг 1 остаётся, шаг 3 не отправлялся
	require.Len(t, store.steps["TC001"], 1)
	assert.Equal(t, 1, store.steps["TC001"][0].StepNumber)
	assert.Equal(t, []string{"clear", "put", "put"}, store.calls)
}

func TestPublish_ClearFailure(t *testing.T) {
	store := newMemStore()
	store.clearErr = errors.New("permission denied")
	p := New(store, nil)

	err := p.Publish(context.Background(), "TC001", domain.NewStepSet([]domain.Step{step(1)}), nil)

	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, 0, pubErr.StepNumber)
	assert.Equal(t, []string{"clear"}, store.calls)
}

func TestPublish_Preconditions(t *testing.T) {
	store := newMemStore()
	p := New(store, nil)

	err := p.Publish(context.Background(), "", domain.NewStepSet([]domain.Step{step(1)}), nil)
	assert.True(t, domain.IsPrecondition(err))
	assert.ErrorIs(t, err, domain.ErrMissingTestCase)

	err = p.Publish(context.Background(), "TC001", domain.NewStepSet(nil), nil)
	assert.True(t, domain.IsPrecondition(err))
	assert.ErrorIs(t, err, domain.ErrEmptyStepSet)

	bad := step(1)
	bad.ActionType = "HOVER"
	err = p.Publish(context.Background(), "TC001", domain.NewStepSet([]domain.Step{bad}), nil)
	assert.True(t, domain.IsPrecondition(err))
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	assert.Empty(t, store.calls, "store must not be touched on precondition failure")
}

func TestPublish_Idempotent(t *testing.T) {
	store := newMemStore()
	p := New(store, nil)
	set := domain.NewStepSet([]domain.Step{step(1), step(2)})

	require.NoError(t, p.Publish(context.Background(), "TC001", set, nil))
	require.NoError(t, p.Publish(context.Background(), "TC001", set, nil))

	assert.Len(t, store.steps["TC001"], 2)
}
