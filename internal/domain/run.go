package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunResult — сохранённый результат завершённого run.
//
// Создаётся, когда run доходит до COMPLETED. Results Viewer
// читает только эти записи — сами сессии живут в памяти.
type RunResult struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — идентификатор сессии, которая получила результат.
	RunID uuid.UUID `json:"run_id"`

	// TestCaseID — test case (раздел хранилища), который выполнялся.
	TestCaseID string `json:"test_case_id"`

	// Outcome — интерпретированный результат backend'а.
	Outcome RunOutcome `json:"outcome"`

	// ExecutedAt — время завершения run.
	ExecutedAt time.Time `json:"executed_at"`
}

// NewRunResult создаёт запись результата для run.
func NewRunResult(runID uuid.UUID, testCaseID string, outcome RunOutcome) RunResult {
	return RunResult{
		ID:         uuid.New(),
		RunID:      runID,
		TestCaseID: testCaseID,
		Outcome:    outcome,
		ExecutedAt: time.Now().UTC(),
	}
}

// Passed возвращает true, если все шаги прошли.
func (r RunResult) Passed() bool {
	return r.Outcome.Status == OutcomePass
}
