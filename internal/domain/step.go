package domain

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Step — одна инструкция автоматизации внутри test case.
type Step struct {
	// TestCaseID — идентификатор test case, которому принадлежит шаг (tc_id).
	TestCaseID string `json:"tc_id" yaml:"tc_id"`

	// StepNumber — позиция шага (начиная с 1), уникальна в пределах StepSet.
	StepNumber int `json:"step_no" yaml:"step_no"`

	// Description — человекочитаемое описание намерения.
	Description string `json:"test_step_description" yaml:"description"`

	// TargetElement — логическое имя UI-элемента (опционально).
	TargetElement string `json:"element_name,omitempty" yaml:"element,omitempty"`

	// ActionType — операция из закрытого словаря.
	ActionType ActionType `json:"action_type" yaml:"action"`

	// Locator — выражение локатора элемента (обычно XPath).
	// Может содержать альтернативы через "|".
	Locator string `json:"xpath,omitempty" yaml:"locator,omitempty"`

	// Value — значение или параметр (URL, дата, текст).
	Value string `json:"values,omitempty" yaml:"value,omitempty"`
}

// Validate проверяет инварианты шага и возвращает все нарушения сразу.
func (s Step) Validate() error {
	var errs error

	if strings.TrimSpace(s.TestCaseID) == "" {
		errs = multierr.Append(errs, fmt.Errorf("step %d: tc_id is required", s.StepNumber))
	}
	if s.StepNumber < 1 {
		errs = multierr.Append(errs, fmt.Errorf("step %d: step number must be >= 1", s.StepNumber))
	}
	if strings.TrimSpace(s.Description) == "" {
		errs = multierr.Append(errs, fmt.Errorf("step %d: description is required", s.StepNumber))
	}

	if !s.ActionType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("step %d: %w: %q", s.StepNumber, ErrUnknownAction, s.ActionType))
		return errs
	}

	if s.ActionType.RequiresLocator() && strings.TrimSpace(s.Locator) == "" {
		errs = multierr.Append(errs, fmt.Errorf("step %d: action %s requires a locator", s.StepNumber, s.ActionType))
	}
	if s.ActionType.RequiresValue() && strings.TrimSpace(s.Value) == "" {
		errs = multierr.Append(errs, fmt.Errorf("step %d: action %s requires a value", s.StepNumber, s.ActionType))
	}

	return errs
}

// StepSet — упорядоченный набор шагов одного test case.
//
// StepSet неизменяем после создания: NewStepSet копирует входной срез,
// а Steps/Sorted возвращают копии. Редактор шагов может продолжать менять
// свой срез — на запущенный run это не влияет.
type StepSet struct {
	steps []Step
}

// NewStepSet создаёт замороженный StepSet из списка шагов.
func NewStepSet(steps []Step) StepSet {
	frozen := make([]Step, len(steps))
	copy(frozen, steps)
	return StepSet{steps: frozen}
}

// Len возвращает количество шагов.
func (s StepSet) Len() int {
	return len(s.steps)
}

// IsEmpty возвращает true, если шагов нет.
func (s StepSet) IsEmpty() bool {
	return len(s.steps) == 0
}

// Steps возвращает шаги в исходном порядке (копия).
func (s StepSet) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Sorted возвращает шаги по возрастанию StepNumber, независимо от позиции в списке.
// Пропуски в нумерации допускаются.
func (s StepSet) Sorted() []Step {
	out := s.Steps()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StepNumber < out[j].StepNumber
	})
	return out
}

// StepNumbers возвращает номера шагов по возрастанию.
func (s StepSet) StepNumbers() []int {
	sorted := s.Sorted()
	numbers := make([]int, len(sorted))
	for i, step := range sorted {
		numbers[i] = step.StepNumber
	}
	return numbers
}

// Validate проверяет каждый шаг и уникальность номеров.
// Пустой StepSet — ошибка ErrEmptyStepSet.
func (s StepSet) Validate() error {
	if s.IsEmpty() {
		return ErrEmptyStepSet
	}

	var errs error
	seen := make(map[int]bool, len(s.steps))
	for _, step := range s.steps {
		errs = multierr.Append(errs, step.Validate())

		if step.StepNumber >= 1 && seen[step.StepNumber] {
			errs = multierr.Append(errs, fmt.Errorf("step %d: %w", step.StepNumber, ErrDuplicateStepNumber))
		}
		seen[step.StepNumber] = true
	}

	return errs
}
