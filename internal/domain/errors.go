package domain

import (
	"errors"
	"fmt"
)

// Ошибки валидации модели.
var (
	// ErrEmptyStepSet — в StepSet нет ни одного шага.
	ErrEmptyStepSet = errors.New("step set is empty")

	// ErrMissingTestCase — test case не выбран (пустой идентификатор).
	ErrMissingTestCase = errors.New("test case is not selected")

	// ErrUnknownTestCase — test case не найден в реестре.
	ErrUnknownTestCase = errors.New("test case not found")

	// ErrUnknownAction — action_type вне словаря.
	ErrUnknownAction = errors.New("unknown action type")

	// ErrDuplicateStepNumber — номер шага повторяется в StepSet.
	ErrDuplicateStepNumber = errors.New("duplicate step number")

	// ErrInvalidOutcome — RunOutcome нарушает инварианты.
	ErrInvalidOutcome = errors.New("invalid run outcome")

	// ErrTimeout — run не уложился в отведённое время.
	ErrTimeout = errors.New("timeout")
)

// PreconditionError — запрос на run отклонён до старта сессии.
// Всегда исправим вызывающей стороной (поправить вход и повторить).
type PreconditionError struct {
	Cause error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %v", e.Cause)
}

func (e *PreconditionError) Unwrap() error {
	return e.Cause
}

// PublishError — конкретный шаг не удалось сохранить.
//
// Run останавливается, уже сохранённые шаги не откатываются.
// Для повтора нужно заново отправить весь StepSet, а не только упавший шаг.
// StepNumber = 0 означает, что не удалось очистить предыдущий StepSet.
type PublishError struct {
	StepNumber int
	Cause      error
}

func (e *PublishError) Error() string {
	if e.StepNumber == 0 {
		return fmt.Sprintf("publish: clear previous steps: %v", e.Cause)
	}
	return fmt.Sprintf("publish: step %d: %v", e.StepNumber, e.Cause)
}

func (e *PublishError) Unwrap() error {
	return e.Cause
}

// ExecutionError — backend недоступен, вернул некорректный ответ
// или внутреннюю ошибку. Падение шагов теста — не ExecutionError,
// а RunOutcome со статусом FAIL.
type ExecutionError struct {
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: %v", e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsPrecondition проверяет, является ли ошибка PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
