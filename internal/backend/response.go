package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
)

// ExecuteResponse — ответ POST /api/execute/{tc}.
//
// execution_time и step_results приходят в нескольких формах,
// поэтому хранятся сырыми и декодируются методами.
type ExecuteResponse struct {
	Success       bool            `json:"success"`
	Status        string          `json:"status,omitempty"`
	TotalSteps    int             `json:"total_steps"`
	PassedSteps   int             `json:"passed_steps"`
	FailedSteps   int             `json:"failed_steps"`
	ExecutionTime json.RawMessage `json:"execution_time,omitempty"`
	StepResults   json.RawMessage `json:"step_results,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// FailureText возвращает описание упавших шагов (error, иначе error_message).
// message сюда не входит: при success=true это информационный текст.
func (r *ExecuteResponse) FailureText() string {
	if r.Error != "" {
		return r.Error
	}
	return r.ErrorMessage
}

// Reason возвращает причину отказа backend'а (для success=false).
func (r *ExecuteResponse) Reason() string {
	if text := r.FailureText(); text != "" {
		return text
	}
	return r.Message
}

// Duration декодирует execution_time. ok=false, если поле отсутствует
// или не распознано.
func (r *ExecuteResponse) Duration() (time.Duration, bool) {
	return ParseExecutionTime(r.ExecutionTime)
}

// Results декодирует step_results. ok=false, если поле отсутствует.
func (r *ExecuteResponse) Results() ([]domain.StepResult, bool, error) {
	return DecodeStepResults(r.StepResults)
}

// ParseExecutionTime разбирает execution_time.
//
// Поддерживаемые формы:
//   - число секунд: 12.5
//   - Go duration: "1m2.5s"
//   - часы: "0:00:12.345678", "1 day, 2:03:04"
func ParseExecutionTime(raw json.RawMessage) (time.Duration, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d, true
	}
	if d, err := parseClock(s); err == nil {
		return d, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second)), true
	}
	return 0, false
}

// parseClock разбирает "[N day[s], ]H:MM:SS[.ffffff]".
func parseClock(s string) (time.Duration, error) {
	var total time.Duration

	if before, after, found := strings.Cut(s, ","); found {
		fields := strings.Fields(before)
		if len(fields) != 2 || !strings.HasPrefix(fields[1], "day") {
			return 0, fmt.Errorf("invalid day part %q", before)
		}
		days, err := strconv.Atoi(fields[0])
		if err != nil || days < 0 {
			return 0, fmt.Errorf("invalid day count %q", fields[0])
		}
		total += time.Duration(days) * 24 * time.Hour
		s = strings.TrimSpace(after)
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("invalid hours %q", parts[0])
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minutes %q", parts[1])
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || secs < 0 || secs >= 60 {
		return 0, fmt.Errorf("invalid seconds %q", parts[2])
	}

	total += time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	total += time.Duration(math.Round(secs * float64(time.Second)))
	return total, nil
}

// DecodeStepResults разбирает step_results: строку "1:PASS,2:FAIL"
// или массив [{step_no, status}].
func DecodeStepResults(raw json.RawMessage) ([]domain.StepResult, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, true, fmt.Errorf("%w: step_results: %v", ErrMalformedResponse, err)
		}
		results, err := domain.ParseStepResults(s)
		if err != nil {
			return nil, true, fmt.Errorf("%w: step_results: %v", ErrMalformedResponse, err)
		}
		return results, true, nil
	}

	var items []struct {
		StepNumber int    `json:"step_no"`
		Status     string `json:"status"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, true, fmt.Errorf("%w: step_results: %v", ErrMalformedResponse, err)
	}

	results := make([]domain.StepResult, 0, len(items))
	for _, item := range items {
		status, err := domain.ParseOutcomeStatus(item.Status)
		if err != nil {
			return nil, true, fmt.Errorf("%w: step_results: step %d: %v", ErrMalformedResponse, item.StepNumber, err)
		}
		results = append(results, domain.StepResult{StepNumber: item.StepNumber, Status: status})
	}
	return results, true, nil
}
