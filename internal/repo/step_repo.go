package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Stepwright/internal/domain"
)

// StepRepo — хранилище опубликованных шагов.
//
// Раздел хранилища — все строки test_steps с одним test_case_id.
// Публикация работает по принципу replace-all: ClearSteps удаляет раздел,
// затем каждый шаг записывается отдельным PutStep. Транзакции между шагами
// нет — при ошибке посередине в разделе остаётся частичный StepSet.
type StepRepo struct {
	pool *pgxpool.Pool
}

// NewStepRepo создаёт новый StepRepo.
func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

// ClearSteps удаляет все шаги test case.
func (r *StepRepo) ClearSteps(ctx context.Context, testCaseID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM test_steps WHERE test_case_id = $1`, testCaseID)
	if err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	return nil
}

// PutStep сохраняет один шаг. Повторная запись того же step_no перезаписывает его.
func (r *StepRepo) PutStep(ctx context.Context, testCaseID string, step domain.Step) error {
	query := `
		INSERT INTO test_steps (test_case_id, step_no, tc_id, test_step_description,
		                        element_name, action_type, xpath, "values", updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (test_case_id, step_no) DO UPDATE
		SET tc_id = EXCLUDED.tc_id,
		    test_step_description = EXCLUDED.test_step_description,
		    element_name = EXCLUDED.element_name,
		    action_type = EXCLUDED.action_type,
		    xpath = EXCLUDED.xpath,
		    "values" = EXCLUDED."values",
		    updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		testCaseID,
		step.StepNumber,
		step.TestCaseID,
		step.Description,
		nullString(step.TargetElement),
		string(step.ActionType),
		nullString(step.Locator),
		nullString(step.Value),
	)
	if err != nil {
		return fmt.Errorf("upsert step %d: %w", step.StepNumber, err)
	}
	return nil
}

// ListSteps возвращает опубликованный StepSet test case по возрастанию step_no.
// Пустой раздел — пустой срез без ошибки.
func (r *StepRepo) ListSteps(ctx context.Context, testCaseID string) ([]domain.Step, error) {
	query := `
		SELECT tc_id, step_no, test_step_description, element_name, action_type, xpath, "values"
		FROM test_steps
		WHERE test_case_id = $1
		ORDER BY step_no ASC
	`
	rows, err := r.pool.Query(ctx, query, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// scanStep сканирует строку test_steps в Step.
func scanStep(row pgx.Row) (domain.Step, error) {
	var step domain.Step
	var element, locator, value *string
	var action string

	if err := row.Scan(
		&step.TestCaseID,
		&step.StepNumber,
		&step.Description,
		&element,
		&action,
		&locator,
		&value,
	); err != nil {
		return domain.Step{}, fmt.Errorf("scan step: %w", err)
	}

	actionType, err := domain.ParseActionType(action)
	if err != nil {
		return domain.Step{}, fmt.Errorf("%w: step %d: %v", ErrCorruptRecord, step.StepNumber, err)
	}
	step.ActionType = actionType
	step.TargetElement = derefString(element)
	step.Locator = derefString(locator)
	step.Value = derefString(value)

	return step, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
