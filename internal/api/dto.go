package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/orchestrator"
)

// Run DTOs

// CreateRunRequest — запрос на run.
// Пустой Steps — перезапуск опубликованного StepSet.
type CreateRunRequest struct {
	Steps []domain.Step `json:"steps,omitempty"`
}

// CreateRunResponse — ответ на принятый run.
type CreateRunResponse struct {
	RunID      uuid.UUID `json:"run_id"`
	TestCaseID string    `json:"test_case_id"`
}

// RunResponse — снимок run.
type RunResponse struct {
	RunID      uuid.UUID          `json:"run_id"`
	TestCaseID string             `json:"test_case_id"`
	Phase      string             `json:"phase"`
	Progress   int                `json:"progress"`
	Log        []string           `json:"log"`
	Outcome    *domain.RunOutcome `json:"outcome,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Summary    string             `json:"summary,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}

// RunFromSnapshot конвертирует orchestrator.RunSnapshot в RunResponse.
func RunFromSnapshot(s orchestrator.RunSnapshot) RunResponse {
	log := make([]string, len(s.Log))
	for i, entry := range s.Log {
		log[i] = entry.String()
	}

	return RunResponse{
		RunID:      s.RunID,
		TestCaseID: s.TestCaseID,
		Phase:      string(s.Phase),
		Progress:   s.Progress,
		Log:        log,
		Outcome:    s.Outcome,
		Failure:    s.Failure,
		Summary:    s.Summary,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
}

// Result DTOs

// ResultResponse — сохранённый результат run.
type ResultResponse struct {
	ID            uuid.UUID           `json:"id"`
	RunID         uuid.UUID           `json:"run_id"`
	TestCaseID    string              `json:"test_case_id"`
	Status        string              `json:"status"`
	TotalSteps    int                 `json:"total_steps"`
	PassedSteps   int                 `json:"passed_steps"`
	FailedSteps   int                 `json:"failed_steps"`
	ExecutionTime string              `json:"execution_time"`
	ExecutionMs   int64               `json:"execution_ms"`
	StepResults   []domain.StepResult `json:"step_results"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	ExecutedAt    time.Time           `json:"executed_at"`
}

// ResultFromDomain конвертирует domain.RunResult в ResultResponse.
func ResultFromDomain(r domain.RunResult) ResultResponse {
	o := r.Outcome
	return ResultResponse{
		ID:            r.ID,
		RunID:         r.RunID,
		TestCaseID:    r.TestCaseID,
		Status:        string(o.Status),
		TotalSteps:    o.TotalSteps,
		PassedSteps:   o.PassedSteps,
		FailedSteps:   o.FailedSteps,
		ExecutionTime: o.ExecutionTime.String(),
		ExecutionMs:   o.ExecutionTime.Milliseconds(),
		StepResults:   o.StepResults,
		ErrorMessage:  o.ErrorMessage,
		ExecutedAt:    r.ExecutedAt,
	}
}

// Schedule DTOs

// ScheduleResponse — расписание с текущим состоянием.
type ScheduleResponse struct {
	Name        string     `json:"name"`
	TestCaseID  string     `json:"test_case_id"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s domain.Schedule) ScheduleResponse {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return ScheduleResponse{
		Name:        s.Name,
		TestCaseID:  s.TestCaseID,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    tz,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
	}
}
