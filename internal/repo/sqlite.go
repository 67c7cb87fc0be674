package repo

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout — фиксированная ширина, чтобы ORDER BY по тексту совпадал с порядком времени.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS test_cases (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	name TEXT NOT NULL,
	description TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_steps (
	test_case_id TEXT NOT NULL,
	step_no INTEGER NOT NULL CHECK (step_no >= 1),
	tc_id TEXT NOT NULL,
	test_step_description TEXT NOT NULL,
	element_name TEXT,
	action_type TEXT NOT NULL,
	xpath TEXT,
	"values" TEXT,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (test_case_id, step_no)
);

CREATE TABLE IF NOT EXISTS run_results (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	test_case_id TEXT NOT NULL,
	status TEXT NOT NULL,
	total_steps INTEGER NOT NULL,
	passed_steps INTEGER NOT NULL,
	failed_steps INTEGER NOT NULL,
	execution_ms INTEGER NOT NULL,
	step_results TEXT NOT NULL,
	error_message TEXT,
	executed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_results_test_case ON run_results (test_case_id, executed_at DESC);
`

// SQLiteStore — встраиваемое хранилище шагов и результатов.
//
// Используется локальным режимом (без Postgres): тот же контракт,
// что у StepRepo, ResultRepo и TestCaseRepo, в одном файле БД.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite открывает (или создаёт) файл БД и применяет схему.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// sqliteDSN задаёт PRAGMA через DSN: драйвер применяет их
// к каждому новому соединению пула.
func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Close закрывает БД.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ClearSteps удаляет все шаги test case.
func (s *SQLiteStore) ClearSteps(ctx context.Context, testCaseID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM test_steps WHERE test_case_id = ?`, testCaseID); err != nil {
		return fmt.Errorf("delete steps: %w", err)
	}
	return nil
}

// PutStep сохраняет один шаг (upsert по step_no).
func (s *SQLiteStore) PutStep(ctx context.Context, testCaseID string, step domain.Step) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO test_steps (test_case_id, step_no, tc_id, test_step_description,
                        element_name, action_type, xpath, "values", updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (test_case_id, step_no) DO UPDATE SET
	tc_id = excluded.tc_id,
	test_step_description = excluded.test_step_description,
	element_name = excluded.element_name,
	action_type = excluded.action_type,
	xpath = excluded.xpath,
	"values" = excluded."values",
	updated_at = excluded.updated_at`,
		testCaseID,
		step.StepNumber,
		step.TestCaseID,
		step.Description,
		nullString(step.TargetElement),
		string(step.ActionType),
		nullString(step.Locator),
		nullString(step.Value),
		time.Now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert step %d: %w", step.StepNumber, err)
	}
	return nil
}

// ListSteps возвращает шаги test case по возрастанию step_no.
func (s *SQLiteStore) ListSteps(ctx context.Context, testCaseID string) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tc_id, step_no, test_step_description, element_name, action_type, xpath, "values"
FROM test_steps WHERE test_case_id = ? ORDER BY step_no ASC`, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var step domain.Step
		var element, locator, value sql.NullString
		var action string
		if err := rows.Scan(&step.TestCaseID, &step.StepNumber, &step.Description,
			&element, &action, &locator, &value); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		actionType, err := domain.ParseActionType(action)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %v", ErrCorruptRecord, step.StepNumber, err)
		}
		step.ActionType = actionType
		step.TargetElement = element.String
		step.Locator = locator.String
		step.Value = value.String
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// SaveResult сохраняет результат завершённого run.
func (s *SQLiteStore) SaveResult(ctx context.Context, result domain.RunResult) error {
	o := result.Outcome
	_, err := s.db.ExecContext(ctx, `
INSERT INTO run_results (id, run_id, test_case_id, status, total_steps, passed_steps,
                         failed_steps, execution_ms, step_results, error_message, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID.String(),
		result.RunID.String(),
		result.TestCaseID,
		string(o.Status),
		o.TotalSteps,
		o.PassedSteps,
		o.FailedSteps,
		o.ExecutionTime.Milliseconds(),
		domain.FormatStepResults(o.StepResults),
		nullString(o.ErrorMessage),
		result.ExecutedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults возвращает результаты test case, новые первыми.
func (s *SQLiteStore) ListResults(ctx context.Context, testCaseID string, limit int) ([]domain.RunResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, test_case_id, status, total_steps, passed_steps, failed_steps,
       execution_ms, step_results, error_message, executed_at
FROM run_results WHERE test_case_id = ?
ORDER BY executed_at DESC LIMIT ?`, testCaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []domain.RunResult
	for rows.Next() {
		var result domain.RunResult
		var id, runID, status, stepResults, executedAt string
		var executionMs int64
		var errorMessage sql.NullString
		if err := rows.Scan(&id, &runID, &result.TestCaseID, &status,
			&result.Outcome.TotalSteps, &result.Outcome.PassedSteps, &result.Outcome.FailedSteps,
			&executionMs, &stepResults, &errorMessage, &executedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}

		if result.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: result id %q", ErrCorruptRecord, id)
		}
		if result.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("%w: run id %q", ErrCorruptRecord, runID)
		}
		if result.ExecutedAt, err = time.Parse(sqliteTimeLayout, executedAt); err != nil {
			return nil, fmt.Errorf("%w: executed_at %q", ErrCorruptRecord, executedAt)
		}

		result, err = finishResult(result, status, stepResults, executionMs, errorMessage.String)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// RegisterTestCase добавляет test case в локальный реестр.
// Повторная регистрация обновляет имя.
func (s *SQLiteStore) RegisterTestCase(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO test_cases (id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		id, name, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("register test case: %w", err)
	}
	return nil
}

// Exists проверяет, зарегистрирован ли test case.
func (s *SQLiteStore) Exists(ctx context.Context, testCaseID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM test_cases WHERE id = ?`, testCaseID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check test case: %w", err)
	}
	return n > 0, nil
}
