package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OutcomeStatus — итог выполнения (всего run или отдельного шага).
type OutcomeStatus string

const (
	// OutcomePass — все шаги прошли.
	OutcomePass OutcomeStatus = "PASS"

	// OutcomeFail — хотя бы один шаг упал.
	OutcomeFail OutcomeStatus = "FAIL"
)

// ParseOutcomeStatus парсит "PASS"/"FAIL" (без учёта регистра).
func ParseOutcomeStatus(s string) (OutcomeStatus, error) {
	switch OutcomeStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomePass:
		return OutcomePass, nil
	case OutcomeFail:
		return OutcomeFail, nil
	default:
		return "", fmt.Errorf("unknown outcome status %q", s)
	}
}

// StepResult — результат одного шага.
type StepResult struct {
	StepNumber int           `json:"step_no"`
	Status     OutcomeStatus `json:"status"`
}

// RunOutcome — результат одной попытки выполнения.
//
// Инварианты:
//   - PassedSteps + FailedSteps = TotalSteps
//   - len(StepResults) = TotalSteps, если разбивка по шагам известна
//   - Status = FAIL ⇔ FailedSteps > 0
//   - ErrorMessage пустой, если Status = PASS
type RunOutcome struct {
	Status        OutcomeStatus `json:"status"`
	TotalSteps    int           `json:"total_steps"`
	PassedSteps   int           `json:"passed_steps"`
	FailedSteps   int           `json:"failed_steps"`
	ExecutionTime time.Duration `json:"execution_time"`

	// StepResults — nil, если backend не сообщил, какие шаги упали.
	StepResults  []StepResult `json:"step_results"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// Validate проверяет инварианты RunOutcome.
func (o RunOutcome) Validate() error {
	if o.TotalSteps < 0 || o.PassedSteps < 0 || o.FailedSteps < 0 {
		return fmt.Errorf("%w: negative step counters", ErrInvalidOutcome)
	}
	if o.PassedSteps+o.FailedSteps != o.TotalSteps {
		return fmt.Errorf("%w: passed (%d) + failed (%d) != total (%d)",
			ErrInvalidOutcome, o.PassedSteps, o.FailedSteps, o.TotalSteps)
	}
	if o.StepResults != nil && len(o.StepResults) != o.TotalSteps {
		return fmt.Errorf("%w: %d step results for %d steps",
			ErrInvalidOutcome, len(o.StepResults), o.TotalSteps)
	}

	switch o.Status {
	case OutcomePass:
		if o.FailedSteps > 0 {
			return fmt.Errorf("%w: status PASS with %d failed steps", ErrInvalidOutcome, o.FailedSteps)
		}
		if o.ErrorMessage != "" {
			return fmt.Errorf("%w: status PASS with error message", ErrInvalidOutcome)
		}
	case OutcomeFail:
		if o.FailedSteps == 0 {
			return fmt.Errorf("%w: status FAIL without failed steps", ErrInvalidOutcome)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidOutcome, o.Status)
	}

	if o.StepResults == nil {
		return nil
	}

	var passed, failed int
	for _, r := range o.StepResults {
		switch r.Status {
		case OutcomePass:
			passed++
		case OutcomeFail:
			failed++
		default:
			return fmt.Errorf("%w: step %d has status %q", ErrInvalidOutcome, r.StepNumber, r.Status)
		}
	}
	if passed != o.PassedSteps || failed != o.FailedSteps {
		return fmt.Errorf("%w: step results disagree with counters", ErrInvalidOutcome)
	}

	return nil
}

// Summary возвращает краткое описание результата для логов и UI.
func (o RunOutcome) Summary() string {
	return fmt.Sprintf("%s: %d/%d steps passed in %s",
		o.Status, o.PassedSteps, o.TotalSteps, o.ExecutionTime.Round(time.Millisecond))
}

// FormatStepResults кодирует результаты шагов в "1:PASS,2:FAIL".
func FormatStepResults(results []StepResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%d:%s", r.StepNumber, r.Status)
	}
	return strings.Join(parts, ",")
}

// ParseStepResults декодирует строку вида "1:PASS,2:FAIL".
// Пустая строка — пустой список.
func ParseStepResults(s string) ([]StepResult, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	results := make([]StepResult, 0, len(parts))
	for _, part := range parts {
		num, status, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid step result %q", part)
		}

		stepNumber, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, fmt.Errorf("invalid step number in %q: %w", part, err)
		}

		parsed, err := ParseOutcomeStatus(status)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", stepNumber, err)
		}

		results = append(results, StepResult{StepNumber: stepNumber, Status: parsed})
	}
	return results, nil
}

// PassedResults строит результаты шагов, когда backend не прислал разбивку
// по шагам, но сообщил, что упавших шагов нет.
func PassedResults(stepNumbers []int) []StepResult {
	results := make([]StepResult, len(stepNumbers))
	for i, n := range stepNumbers {
		results[i] = StepResult{StepNumber: n, Status: OutcomePass}
	}
	return results
}

// stepFailure — фрагмент "Step N: ..." в тексте ошибки backend'а.
var stepFailure = regexp.MustCompile(`(?i)\bstep\s+(\d+)\s*:`)

// AttributeFailures строит результаты шагов по тексту ошибки вида
// "Step 2: element not found; Step 4: timeout".
//
// Возвращает nil, если упомянутые шаги не совпадают с failed:
// номер вне stepNumbers или число упавших шагов другое.
func AttributeFailures(stepNumbers []int, text string, failed int) []StepResult {
	known := make(map[int]bool, len(stepNumbers))
	for _, n := range stepNumbers {
		known[n] = false
	}

	mentioned := 0
	for _, m := range stepFailure.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		seen, ok := known[n]
		if !ok {
			return nil
		}
		if !seen {
			known[n] = true
			mentioned++
		}
	}
	if mentioned == 0 || mentioned != failed {
		return nil
	}

	results := PassedResults(stepNumbers)
	for i := range results {
		if known[results[i].StepNumber] {
			results[i].Status = OutcomeFail
		}
	}
	return results
}
