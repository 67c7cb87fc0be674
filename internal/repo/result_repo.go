package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Stepwright/internal/domain"
)

// ResultRepo — история результатов выполнения.
type ResultRepo struct {
	pool *pgxpool.Pool
}

// NewResultRepo создаёт новый ResultRepo.
func NewResultRepo(pool *pgxpool.Pool) *ResultRepo {
	return &ResultRepo{pool: pool}
}

// SaveResult сохраняет результат завершённого run.
func (r *ResultRepo) SaveResult(ctx context.Context, result domain.RunResult) error {
	o := result.Outcome
	query := `
		INSERT INTO run_results (id, run_id, test_case_id, status, total_steps, passed_steps,
		                         failed_steps, execution_ms, step_results, error_message, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		result.ID,
		result.RunID,
		result.TestCaseID,
		string(o.Status),
		o.TotalSteps,
		o.PassedSteps,
		o.FailedSteps,
		o.ExecutionTime.Milliseconds(),
		domain.FormatStepResults(o.StepResults),
		nullString(o.ErrorMessage),
		result.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults возвращает результаты test case, новые первыми.
func (r *ResultRepo) ListResults(ctx context.Context, testCaseID string, limit int) ([]domain.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, run_id, test_case_id, status, total_steps, passed_steps, failed_steps,
		       execution_ms, step_results, error_message, executed_at
		FROM run_results
		WHERE test_case_id = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, testCaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []domain.RunResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// scanResult сканирует строку run_results в RunResult.
func scanResult(row pgx.Row) (domain.RunResult, error) {
	var result domain.RunResult
	var status, stepResults string
	var executionMs int64
	var errorMessage *string

	if err := row.Scan(
		&result.ID,
		&result.RunID,
		&result.TestCaseID,
		&status,
		&result.Outcome.TotalSteps,
		&result.Outcome.PassedSteps,
		&result.Outcome.FailedSteps,
		&executionMs,
		&stepResults,
		&errorMessage,
		&result.ExecutedAt,
	); err != nil {
		return domain.RunResult{}, fmt.Errorf("scan result: %w", err)
	}

	return finishResult(result, status, stepResults, executionMs, derefString(errorMessage))
}

// finishResult декодирует текстовые поля результата (общая часть для Postgres и SQLite).
func finishResult(result domain.RunResult, status, stepResults string, executionMs int64, errorMessage string) (domain.RunResult, error) {
	parsedStatus, err := domain.ParseOutcomeStatus(status)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("%w: result %s: %v", ErrCorruptRecord, result.ID, err)
	}

	parsedResults, err := domain.ParseStepResults(stepResults)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("%w: result %s: %v", ErrCorruptRecord, result.ID, err)
	}

	result.Outcome.Status = parsedStatus
	result.Outcome.StepResults = parsedResults
	result.Outcome.ExecutionTime = time.Duration(executionMs) * time.Millisecond
	result.Outcome.ErrorMessage = errorMessage
	return result, nil
}
